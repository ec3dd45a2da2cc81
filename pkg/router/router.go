// Package router dispatches MCP calls that name a tool, resource, or
// prompt to the backend that owns it (§4.3 "Dispatch").
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpgateway/gateway/pkg/aggregator"
	"github.com/mcpgateway/gateway/pkg/backend"
	"github.com/mcpgateway/gateway/pkg/jsonrpc"
)

// BackendSource resolves a backend id to its adapter, satisfied by
// *registry.Registry.
type BackendSource interface {
	Adapter(id string) (*backend.Adapter, bool)
}

// Router holds the current catalog snapshot provider and backend source
// needed to dispatch a routed call.
type Router struct {
	snapshots *aggregator.Aggregator
	backends  BackendSource
	deadline  time.Duration
}

// New constructs a Router. deadline is the Router's own per-call ceiling,
// applied independently of each adapter's configured request timeout; the
// effective deadline used for a call is the minimum of the two (§4.3
// "Timeouts").
func New(snapshots *aggregator.Aggregator, backends BackendSource, deadline time.Duration) *Router {
	return &Router{snapshots: snapshots, backends: backends, deadline: deadline}
}

// toolCallParams is the params shape for a tools/call request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// resourceParams is the params shape shared by resources/read and
// resources/subscribe.
type resourceParams struct {
	URI string `json:"uri"`
}

// promptGetParams is the params shape for prompts/get.
type promptGetParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Dispatch routes one already-classified MCP call (method + raw params) to
// its owning backend and returns the backend's response verbatim, subject
// to the effective per-call deadline. A nil rpcErr with a non-nil err
// indicates either a router-local failure (unknown method, bad params,
// unknown key) or, as a *DispatchError, a failed call to the owning
// backend; a non-nil rpcErr is the backend's own JSON-RPC error, forwarded
// unchanged.
func (r *Router) Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, *jsonrpc.Error, error) {
	key, kind, err := routeKey(method, params)
	if err != nil {
		return nil, nil, err
	}

	snap := r.snapshots.Current()
	var backendID string
	var ok bool
	switch kind {
	case "tool":
		backendID, ok = snap.ToolOwner(key)
	case "resource":
		backendID, ok = snap.ResourceOwner(key)
	case "prompt":
		backendID, ok = snap.PromptOwner(key)
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: no backend owns %s %q", ErrMethodNotFound, kind, key)
	}

	adapter, ok := r.backends.Adapter(backendID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: backend %s not found", ErrMethodNotFound, backendID)
	}

	effective := r.deadline
	if d := adapter.Descriptor().RequestTimeout; d > 0 && (effective <= 0 || d < effective) {
		effective = d
	}

	result, rpcErr, err := adapter.Call(ctx, method, params, effective)
	if err != nil {
		return nil, nil, &DispatchError{BackendID: backendID, Err: fmt.Errorf("%w: %w", ErrDispatchFailed, err)}
	}
	return result, rpcErr, nil
}

// routeKey extracts the lookup key and kind from a routed method's params.
func routeKey(method string, params json.RawMessage) (key, kind string, err error) {
	switch method {
	case "tools/call":
		var p toolCallParams
		if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
			return "", "", fmt.Errorf("%w: missing or malformed name in tools/call params", ErrInvalidParams)
		}
		return p.Name, "tool", nil
	case "resources/read", "resources/subscribe":
		var p resourceParams
		if err := json.Unmarshal(params, &p); err != nil || p.URI == "" {
			return "", "", fmt.Errorf("%w: missing or malformed uri in %s params", ErrInvalidParams, method)
		}
		return p.URI, "resource", nil
	case "prompts/get":
		var p promptGetParams
		if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
			return "", "", fmt.Errorf("%w: missing or malformed name in prompts/get params", ErrInvalidParams)
		}
		return p.Name, "prompt", nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

// Routable reports whether method is one this Router knows how to route,
// distinguishing it from methods the Gateway Core handles locally.
func Routable(method string) bool {
	switch method {
	case "tools/call", "resources/read", "resources/subscribe", "prompts/get":
		return true
	default:
		return false
	}
}
