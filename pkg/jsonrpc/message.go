// Package jsonrpc implements the wire types for JSON-RPC 2.0 as spoken both
// to clients over the SSE/HTTP surface and to backends over stdio framing.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this gateway speaks.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes. Backend and timeout failures have no
// codes of their own; they are surfaced as InternalError with structured data.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Message is a JSON-RPC 2.0 request, response, or notification.
//
// A single struct models all three shapes (following the teacher's
// transport.JSONRPCMessage): Method+ID identifies a request, Method alone
// (no ID) a notification, and ID with Result/Error a response. Params,
// Result, and Error.Data are kept as raw JSON so the gateway can forward
// backend payloads verbatim without round-tripping them through a
// schema it doesn't understand.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the structured payload the gateway attaches to internal
// errors that originate from backend dispatch, per §4.4/§7 of the spec.
type ErrorData struct {
	Kind      string `json:"kind"`
	BackendID string `json:"backendId,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// NewRequest creates a new JSON-RPC request message.
func NewRequest(id any, method string, params any) (*Message, error) {
	raw, err := marshalOrNil(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification creates a new JSON-RPC notification (no id).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalOrNil(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult creates a new JSON-RPC success response message.
func NewResult(id any, result any) (*Message, error) {
	raw, err := marshalOrNil(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError creates a new JSON-RPC error response message.
func NewError(id any, code int, message string, data any) (*Message, error) {
	raw, err := marshalOrNil(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error data: %w", err)
	}
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: raw},
	}, nil
}

// NewBackendUnavailable builds the InternalError shape the gateway returns
// when a backend is Degraded or not yet Ready (§7 BackendUnavailable).
func NewBackendUnavailable(id any, backendID, detail string) *Message {
	msg, _ := NewError(id, CodeInternalError, "backend unavailable", ErrorData{
		Kind: "backend_unavailable", BackendID: backendID, Detail: detail,
	})
	return msg
}

// NewRequestTimeout builds the InternalError shape returned when a call
// deadline elapses (§7 RequestTimeout).
func NewRequestTimeout(id any, backendID, detail string) *Message {
	msg, _ := NewError(id, CodeInternalError, "request timed out", ErrorData{
		Kind: "timeout", BackendID: backendID, Detail: detail,
	})
	return msg
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// IsRequest returns true if the message is a request (has both method and id).
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsResponse returns true if the message is a response (has id, no method).
func (m *Message) IsResponse() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IsNotification returns true if the message is a notification (method, no id).
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// Validate checks that the message is a well-formed JSON-RPC 2.0 message of
// exactly one of the three shapes.
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("invalid jsonrpc version: %q", m.JSONRPC)
	}
	if !m.IsRequest() && !m.IsResponse() && !m.IsNotification() {
		return fmt.Errorf("malformed JSON-RPC message: not a request, response, or notification")
	}
	return nil
}
