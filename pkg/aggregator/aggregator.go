// Package aggregator builds the merged, immutable catalog snapshot the
// router and gateway core dispatch against (§4.3 "Aggregator / Router").
package aggregator

import (
	"sync"
	"sync/atomic"

	"github.com/mcpgateway/gateway/pkg/catalog"
)

// Snapshot is an immutable, point-in-time merge of every backend's
// capabilities. Once built it is never mutated; a rebuild produces a new
// Snapshot and the Aggregator atomically swaps its pointer to it.
type Snapshot struct {
	Tools     []catalog.Tool
	Resources []catalog.Resource
	Prompts   []catalog.Prompt

	toolOwner     map[string]string
	resourceOwner map[string]string
	promptOwner   map[string]string

	Shadowed []catalog.Shadowed
}

// ToolOwner returns the backend id that owns name, if any.
func (s *Snapshot) ToolOwner(name string) (string, bool) {
	id, ok := s.toolOwner[name]
	return id, ok
}

// ResourceOwner returns the backend id that owns uri, if any.
func (s *Snapshot) ResourceOwner(uri string) (string, bool) {
	id, ok := s.resourceOwner[uri]
	return id, ok
}

// PromptOwner returns the backend id that owns name, if any.
func (s *Snapshot) PromptOwner(name string) (string, bool) {
	id, ok := s.promptOwner[name]
	return id, ok
}

// emptySnapshot is what an Aggregator serves before its first Rebuild.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		toolOwner:     make(map[string]string),
		resourceOwner: make(map[string]string),
		promptOwner:   make(map[string]string),
	}
}

// CapabilitySource supplies the per-backend capability sets to merge, along
// with the declaration order that decides collision winners.
type CapabilitySource interface {
	// BackendOrder returns backend ids in config declaration order.
	BackendOrder() []string
	// Capabilities returns the current capability set for id.
	Capabilities(id string) (catalog.Capabilities, bool)
}

// Aggregator holds the current Snapshot and rebuilds it on demand.
// Readers never block a concurrent rebuild: the old Snapshot remains valid
// until the new one is swapped in (§4.3 "copy-on-write").
type Aggregator struct {
	source CapabilitySource
	mu     sync.Mutex // serializes rebuilds; readers use the atomic pointer
	ptr    atomic.Pointer[Snapshot]
}

// New constructs an Aggregator backed by source, with an empty snapshot
// until the first Rebuild.
func New(source CapabilitySource) *Aggregator {
	a := &Aggregator{source: source}
	a.ptr.Store(emptySnapshot())
	return a
}

// Current returns the snapshot currently in effect. It is safe to hold and
// use across a concurrent Rebuild.
func (a *Aggregator) Current() *Snapshot {
	return a.ptr.Load()
}

// Rebuild performs the ordered merge described in §4.3: backends are
// visited in declaration order, and a backend's entry is added to the
// snapshot only if its key (tool name, resource uri, or prompt name) is
// still free; otherwise it is recorded as shadowed. The new Snapshot
// replaces the old one atomically.
func (a *Aggregator) Rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := emptySnapshot()

	for _, id := range a.source.BackendOrder() {
		caps, ok := a.source.Capabilities(id)
		if !ok {
			continue
		}
		for _, tool := range caps.Tools {
			if winner, exists := next.toolOwner[tool.Name]; exists {
				next.Shadowed = append(next.Shadowed, catalog.Shadowed{
					Kind: "tool", Key: tool.Name, BackendID: id, WinnerID: winner,
				})
				continue
			}
			next.toolOwner[tool.Name] = id
			next.Tools = append(next.Tools, tool)
		}
		for _, res := range caps.Resources {
			if winner, exists := next.resourceOwner[res.URI]; exists {
				next.Shadowed = append(next.Shadowed, catalog.Shadowed{
					Kind: "resource", Key: res.URI, BackendID: id, WinnerID: winner,
				})
				continue
			}
			next.resourceOwner[res.URI] = id
			next.Resources = append(next.Resources, res)
		}
		for _, p := range caps.Prompts {
			if winner, exists := next.promptOwner[p.Name]; exists {
				next.Shadowed = append(next.Shadowed, catalog.Shadowed{
					Kind: "prompt", Key: p.Name, BackendID: id, WinnerID: winner,
				})
				continue
			}
			next.promptOwner[p.Name] = id
			next.Prompts = append(next.Prompts, p)
		}
	}

	a.ptr.Store(next)
}
