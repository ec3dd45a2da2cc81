package health

import (
	"context"
	"sync"
	"time"

	"github.com/mcpgateway/gateway/pkg/logger"
)

// missedPingThreshold is the number of consecutive missed pings that
// demotes a backend from Ready to Degraded.
const missedPingThreshold = 3

// Pingable is the subset of an adapter's interface the prober needs: a
// cheap liveness call and a way to read/report its current state.
type Pingable interface {
	ID() string
	Ping(ctx context.Context) error
	IsReady() bool
}

// Prober periodically pings a set of backends and demotes any that miss
// missedPingThreshold consecutive pings. It does not restart backends
// itself; that remains the Registry's responsibility once a backend is
// observed Degraded.
type Prober struct {
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	missed  map[string]int
	targets map[string]Pingable
	onDemote func(backendID string)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProber constructs a Prober that pings every registered target every
// interval, with timeout bounding each individual ping. onDemote, if
// non-nil, is invoked (from the prober's own goroutine) the moment a
// backend crosses the missed-ping threshold.
func NewProber(interval, timeout time.Duration, onDemote func(backendID string)) *Prober {
	return &Prober{
		interval: interval,
		timeout:  timeout,
		missed:   make(map[string]int),
		targets:  make(map[string]Pingable),
		onDemote: onDemote,
		stopCh:   make(chan struct{}),
	}
}

// Register adds or replaces the ping target for a backend.
func (p *Prober) Register(target Pingable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.targets[target.ID()] = target
	p.missed[target.ID()] = 0
}

// Unregister removes a backend from probing, used when it is removed from
// the registry entirely.
func (p *Prober) Unregister(backendID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.targets, backendID)
	delete(p.missed, backendID)
}

// Reset clears the missed-ping count for a backend, used after a
// successful restart brings it back to Ready.
func (p *Prober) Reset(backendID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missed[backendID] = 0
}

// Start begins the background probing loop.
func (p *Prober) Start() {
	p.wg.Add(1)
	go p.loop()
}

// Stop halts the background probing loop and waits for it to exit.
func (p *Prober) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Prober) loop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pingAll()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Prober) pingAll() {
	p.mu.Lock()
	targets := make([]Pingable, 0, len(p.targets))
	for _, t := range p.targets {
		targets = append(targets, t)
	}
	p.mu.Unlock()

	for _, t := range targets {
		p.pingOne(t)
	}
}

func (p *Prober) pingOne(t Pingable) {
	if !t.IsReady() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	err := t.Ping(ctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err == nil {
		p.missed[t.ID()] = 0
		return
	}

	p.missed[t.ID()]++
	logger.Warnf("backend %s missed ping (%d/%d): %v", t.ID(), p.missed[t.ID()], missedPingThreshold, err)
	if p.missed[t.ID()] >= missedPingThreshold {
		p.missed[t.ID()] = 0
		if p.onDemote != nil {
			p.onDemote(t.ID())
		}
	}
}
