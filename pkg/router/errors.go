package router

import (
	"errors"
	"fmt"
)

// Sentinel errors the Gateway Core maps onto JSON-RPC error codes (§7).
var (
	// ErrMethodNotFound covers both an unrecognized routed method and a
	// key (tool/resource/prompt) no backend currently owns.
	ErrMethodNotFound = errors.New("method or target not found")

	// ErrInvalidParams is returned when a routed method's params are
	// missing the fields routing requires.
	ErrInvalidParams = errors.New("invalid params")

	// ErrDispatchFailed wraps any error from the owning backend's Call,
	// including backend unavailability and request timeout.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// DispatchError carries the id of the backend a failed dispatch was routed
// to, so the gateway can populate data.backendId in the JSON-RPC error it
// returns to the client (§4.4, §7).
type DispatchError struct {
	BackendID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.BackendID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
