package backend

import (
	"encoding/json"
	"sync"

	"github.com/mcpgateway/gateway/pkg/jsonrpc"
)

// waiter is completed exactly once, by whichever of {response arrival,
// timeout, cancellation, restart-drain} happens first (§3 invariant b).
type waiter struct {
	resultCh chan waiterResult
	done     bool
}

// waiterResult carries either a successful result, a backend-reported
// JSON-RPC error, or a local Go error (timeout, restart, shutdown).
type waiterResult struct {
	result json.RawMessage
	rpcErr *jsonrpc.Error
	err    error
}

// pendingTable is the arena+index structure from §9: an integer id keying
// into a mutex-guarded map, with a one-shot completion channel per entry.
// It is owned exclusively by one adapter's reader goroutine and call path.
type pendingTable struct {
	mu      sync.Mutex
	entries map[int64]*waiter
	nextID  int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[int64]*waiter)}
}

// nextRequestID returns a fresh outbound id, unique for the life of this
// table. Callers reset the table (via drain + a new pendingTable) on
// restart so ids start again from zero (§3 invariant c).
func (p *pendingTable) nextRequestID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	return p.nextID
}

// register inserts a new waiter for id and returns it. The caller must
// eventually call complete or abandon to remove it from the table.
func (p *pendingTable) register(id int64) *waiter {
	w := &waiter{resultCh: make(chan waiterResult, 1)}
	p.mu.Lock()
	p.entries[id] = w
	p.mu.Unlock()
	return w
}

// complete resolves the waiter for id, if still pending, and removes it
// from the table. A response for an id not present (already timed out,
// cancelled, or never registered) is discarded by the caller.
func (p *pendingTable) complete(id int64, res waiterResult) bool {
	p.mu.Lock()
	w, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok || w.done {
		return false
	}
	w.done = true
	w.resultCh <- res
	return true
}

// abandon removes id from the table without completing it (used when a
// timeout or cancellation has already resolved the waiter through the
// caller's own select, so a late response should be silently discarded).
func (p *pendingTable) abandon(id int64) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// drain completes every still-pending waiter with err, used when the child
// exits, initialize fails, or the Registry shuts the backend down.
func (p *pendingTable) drain(err error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[int64]*waiter)
	p.mu.Unlock()

	for _, w := range entries {
		if w.done {
			continue
		}
		w.done = true
		w.resultCh <- waiterResult{err: err}
	}
}

// len reports the number of in-flight requests, used by status reporting.
func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
