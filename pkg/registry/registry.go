// Package registry supervises the set of configured backends: it owns
// their adapters, restarts them under a capped exponential backoff when
// they degrade, and rebuilds the aggregator's catalog snapshot whenever a
// backend's capabilities change (§4.2 "Backend Registry").
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mcpgateway/gateway/pkg/backend"
	"github.com/mcpgateway/gateway/pkg/catalog"
	"github.com/mcpgateway/gateway/pkg/health"
	"github.com/mcpgateway/gateway/pkg/logger"
)

// defaultRestartBackoffInitial and defaultRestartBackoffMax bound restart
// attempts for backends that don't override them in their descriptor.
const (
	defaultRestartBackoffInitial = 500 * time.Millisecond
	defaultRestartBackoffMax     = 60 * time.Second

	defaultHealthCheckInterval = 15 * time.Second
	defaultHealthCheckTimeout  = 5 * time.Second

	defaultCircuitFailureThreshold = 5
	defaultCircuitTimeout          = 30 * time.Second
)

// entry tracks one backend's supervised adapter alongside its restart and
// circuit-breaking state.
type entry struct {
	adapter  *backend.Adapter
	desc     backend.Descriptor
	breaker  *health.CircuitBreaker
	restarts int

	mu            sync.Mutex
	permanentlyDegraded bool
}

// CatalogListener is notified whenever a backend's capabilities have
// changed and the aggregator should rebuild its snapshot (§4.3).
type CatalogListener interface {
	Rebuild()
}

// Registry supervises a fixed set of backend descriptors for the lifetime
// of the gateway process.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	sink     backend.NotificationSink
	listener CatalogListener
	prober   *health.Prober

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Registry. sink receives backend-initiated notifications
// for fan-out to sessions; listener is invoked after any catalog-affecting
// state change.
func New(sink backend.NotificationSink, listener CatalogListener) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		sink:    sink,
		listener: listener,
		stopCh:  make(chan struct{}),
	}
	r.prober = health.NewProber(defaultHealthCheckInterval, defaultHealthCheckTimeout, r.handleMissedPings)
	return r
}

// Load registers descriptors and starts every enabled one. Backends fail
// independently: one backend's Start failure does not prevent the others
// from starting (§4.2 "Independent startup").
func (r *Registry) Load(ctx context.Context, descs []backend.Descriptor) {
	for _, d := range descs {
		r.add(d)
	}
	r.prober.Start()

	var wg sync.WaitGroup
	for _, d := range descs {
		if !d.Enabled {
			continue
		}
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.startBackend(ctx, d.ID)
		}()
	}
	wg.Wait()
}

func (r *Registry) add(d backend.Descriptor) {
	a := backend.NewAdapter(d, r.sink)
	e := &entry{
		adapter: a,
		desc:    d,
		breaker: health.NewCircuitBreaker(d.ID, defaultCircuitFailureThreshold, defaultCircuitTimeout),
	}
	r.mu.Lock()
	r.entries[d.ID] = e
	r.order = append(r.order, d.ID)
	r.mu.Unlock()
	r.prober.Register(a)

	// A backend can also degrade on its own, outside the health prober's
	// ping cadence: a malformed frame or a closed stdout pipe fails the
	// adapter directly from its read loop. Route that into the same
	// demote-and-restart path so it isn't left Degraded until an operator
	// notices and hits the manual restart endpoint (§4.2 "restart").
	a.SetOnDegrade(func() { r.demoteAndScheduleRestart(d.ID, "adapter reported failure") })
}

func (r *Registry) startBackend(ctx context.Context, id string) {
	e, ok := r.get(id)
	if !ok {
		return
	}
	if err := e.adapter.Start(ctx); err != nil {
		logger.Warnf("registry: backend %s failed to start: %v", id, err)
		e.breaker.RecordFailure()
		r.scheduleRestart(id)
		return
	}
	e.breaker.RecordSuccess()
	e.mu.Lock()
	e.restarts = 0
	e.mu.Unlock()
	r.prober.Reset(id)
	if r.listener != nil {
		r.listener.Rebuild()
	}
}

// scheduleRestart runs the capped exponential backoff loop for one backend
// in its own goroutine, following the teacher's composer.workflowEngine
// retry idiom (backoff.NewExponentialBackOff + backoff.Retry), adapted here
// to a permanent process-lifetime supervision loop rather than a single
// bounded retry.
func (r *Registry) scheduleRestart(id string) {
	e, ok := r.get(id)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.permanentlyDegraded {
		e.mu.Unlock()
		return
	}
	e.restarts++
	restarts := e.restarts
	e.mu.Unlock()

	if e.desc.MaxRestarts > 0 && restarts > e.desc.MaxRestarts {
		e.mu.Lock()
		e.permanentlyDegraded = true
		e.mu.Unlock()
		logger.Errorf("registry: backend %s exceeded max restarts (%d), leaving permanently degraded", id, e.desc.MaxRestarts)
		return
	}

	initial := e.desc.RestartBackoffInitial
	if initial <= 0 {
		initial = defaultRestartBackoffInitial
	}
	max := e.desc.RestartBackoffMax
	if max <= 0 {
		max = defaultRestartBackoffMax
	}

	delay := backoffDelay(initial, max, restarts)
	logger.Infof("registry: backend %s restart attempt %d in %v", id, restarts, delay)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-time.After(delay):
		case <-r.stopCh:
			return
		}
		r.startBackend(context.Background(), id)
	}()
}

// backoffDelay computes a capped exponential delay for the given attempt
// number, using cenkalti/backoff's ExponentialBackOff the same way the
// teacher's workflowEngine.callToolWithRetry configures it, with jitter
// disabled since restart attempts are already serialized per backend and
// don't need to be staggered against each other.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.Reset()

	// The first NextBackOff after Reset returns InitialInterval itself, so
	// attempt n takes n calls to reach initial * 2^(n-1).
	delay := initial
	for i := 0; i < attempt; i++ {
		delay = eb.NextBackOff()
	}
	if delay > max {
		return max
	}
	return delay
}

// handleMissedPings is invoked by the health prober when a backend crosses
// the missed-ping threshold.
func (r *Registry) handleMissedPings(id string) {
	r.demoteAndScheduleRestart(id, "missed health pings")
}

// demoteAndScheduleRestart stops a misbehaving backend, notifies the
// catalog listener that its capabilities are gone, and enters it into the
// restart supervision loop. Called both from the health prober (missed
// pings) and directly from an adapter that failed itself outside the ping
// cadence (§4.2 "restart").
func (r *Registry) demoteAndScheduleRestart(id, reason string) {
	e, ok := r.get(id)
	if !ok {
		return
	}
	logger.Warnf("registry: backend %s demoted: %s", id, reason)
	e.breaker.RecordFailure()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.adapter.Stop(stopCtx)
	if r.listener != nil {
		r.listener.Rebuild()
	}
	r.scheduleRestart(id)
}

// Restart forces an immediate restart of one backend, bypassing the
// backoff schedule (SPEC_FULL admin operation: manual restart).
func (r *Registry) Restart(ctx context.Context, id string) error {
	e, ok := r.get(id)
	if !ok {
		return fmt.Errorf("backend %s not found", id)
	}
	e.mu.Lock()
	e.permanentlyDegraded = false
	e.restarts = 0
	e.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = e.adapter.Stop(stopCtx)

	if err := e.adapter.Start(ctx); err != nil {
		e.breaker.RecordFailure()
		return err
	}
	e.breaker.RecordSuccess()
	r.prober.Reset(id)
	if r.listener != nil {
		r.listener.Rebuild()
	}
	return nil
}

func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// SetListener binds the catalog listener after construction, used to break
// the circular dependency between Registry (which the Aggregator reads
// capabilities from) and Aggregator (which Registry notifies on change).
func (r *Registry) SetListener(listener CatalogListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
}

// Adapter returns the adapter for id, used by the router to dispatch calls.
func (r *Registry) Adapter(id string) (*backend.Adapter, bool) {
	e, ok := r.get(id)
	if !ok {
		return nil, false
	}
	return e.adapter, true
}

// Adapters returns every registered adapter, in no particular order.
func (r *Registry) Adapters() []*backend.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*backend.Adapter, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.adapter)
	}
	return out
}

// BackendOrder returns backend ids in the order they were declared in
// config, satisfying aggregator.CapabilitySource (§4.3 "declaration order").
func (r *Registry) BackendOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Capabilities returns the current capability snapshot for a single
// backend, satisfying aggregator.CapabilitySource (§4.3).
func (r *Registry) Capabilities(id string) (catalog.Capabilities, bool) {
	e, ok := r.get(id)
	if !ok {
		return catalog.Capabilities{}, false
	}
	return e.adapter.Capabilities(), true
}

// Status is the per-backend status shape surfaced at /admin/status
// (SPEC_FULL "Metrics-flavored status").
type Status struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	State        backend.State        `json:"state"`
	Circuit      health.Snapshot      `json:"circuit"`
	Restarts     int                  `json:"restarts"`
	PendingCalls int                  `json:"pendingCalls"`
	LastStart    time.Time            `json:"lastStart"`
}

// StatusAll returns a status summary for every registered backend.
func (r *Registry) StatusAll() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.entries))
	for id, e := range r.entries {
		e.mu.Lock()
		restarts := e.restarts
		e.mu.Unlock()
		out = append(out, Status{
			ID:           id,
			Name:         e.desc.Name,
			State:        e.adapter.State(),
			Circuit:      e.breaker.GetSnapshot(),
			Restarts:     restarts,
			PendingCalls: e.adapter.PendingCount(),
			LastStart:    e.adapter.LastStart(),
		})
	}
	return out
}

// Shutdown stops every backend and halts the health prober.
func (r *Registry) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.prober.Stop()

	var wg sync.WaitGroup
	for _, a := range r.Adapters() {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Stop(ctx)
		}()
	}
	wg.Wait()
	r.wg.Wait()
}
