package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeTarget struct {
	id      string
	mu      sync.Mutex
	ready   bool
	failing bool
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTarget) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("simulated ping failure")
	}
	return nil
}

func TestProberDemotesAfterThreeMissedPings(t *testing.T) {
	target := &fakeTarget{id: "b1", ready: true, failing: true}

	demoted := make(chan string, 1)
	p := NewProber(10*time.Millisecond, 10*time.Millisecond, func(id string) {
		demoted <- id
	})
	p.Register(target)
	p.Start()
	defer p.Stop()

	select {
	case id := <-demoted:
		assert.Equal(t, "b1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected demotion after three missed pings")
	}
}

func TestProberResetClearsMissedCount(t *testing.T) {
	target := &fakeTarget{id: "b1", ready: true, failing: true}
	p := NewProber(time.Hour, time.Second, nil)
	p.Register(target)

	p.pingOne(target)
	p.pingOne(target)
	p.Reset("b1")

	p.mu.Lock()
	count := p.missed["b1"]
	p.mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestProberSkipsNotReadyTargets(t *testing.T) {
	target := &fakeTarget{id: "b1", ready: false, failing: true}
	p := NewProber(time.Hour, time.Second, nil)
	p.Register(target)

	p.pingOne(target)

	p.mu.Lock()
	count := p.missed["b1"]
	p.mu.Unlock()
	assert.Equal(t, 0, count)
}
