package gateway

import (
	"errors"
	"fmt"

	"github.com/mcpgateway/gateway/pkg/backend"
	"github.com/mcpgateway/gateway/pkg/jsonrpc"
	"github.com/mcpgateway/gateway/pkg/router"
)

// routeNotFound builds the local MethodNotFound error for a method the
// gateway neither answers itself nor knows how to route.
func routeNotFound(method string) error {
	return fmt.Errorf("%w: %s", router.ErrMethodNotFound, method)
}

// errorResponse shapes a Go error returned from dispatch into the JSON-RPC
// error taxonomy of §7: MethodNotFound/InvalidParams map to their own
// codes; everything originating from a backend call (unavailable, timeout,
// or any other dispatch failure) is surfaced as InternalError with
// structured data identifying the kind and backend.
func errorResponse(id any, _ string, err error) *jsonrpc.Message {
	var msg *jsonrpc.Message

	var dispatchErr *router.DispatchError
	if errors.As(err, &dispatchErr) {
		switch {
		case errors.Is(dispatchErr.Err, backend.ErrTimeout):
			return jsonrpc.NewRequestTimeout(id, dispatchErr.BackendID, dispatchErr.Error())
		default:
			return jsonrpc.NewBackendUnavailable(id, dispatchErr.BackendID, dispatchErr.Error())
		}
	}

	switch {
	case errors.Is(err, router.ErrMethodNotFound):
		msg, _ = jsonrpc.NewError(id, jsonrpc.CodeMethodNotFound, err.Error(), nil)
	case errors.Is(err, router.ErrInvalidParams):
		msg, _ = jsonrpc.NewError(id, jsonrpc.CodeInvalidParams, err.Error(), nil)
	default:
		msg, _ = jsonrpc.NewError(id, jsonrpc.CodeInternalError, "internal error", jsonrpc.ErrorData{
			Kind: "internal", Detail: err.Error(),
		})
	}
	return msg
}
