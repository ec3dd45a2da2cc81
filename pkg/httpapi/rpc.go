package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/mcpgateway/gateway/pkg/jsonrpc"
	"github.com/mcpgateway/gateway/pkg/logger"
	"github.com/mcpgateway/gateway/pkg/session"
)

const maxRequestBody = 4 << 20 // 4 MiB; generous for tool-call arguments.

// handleStatelessRPC serves POST /rpc and POST /sse: a JSON-RPC request
// with no session correlation (§4.5 "Provided because some clients probe
// /sse with POST before establishing the stream").
func (h *handlers) handleStatelessRPC(w http.ResponseWriter, r *http.Request) {
	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	ctx, cancel := withRequestTimeout(r)
	defer cancel()

	resp := h.deps.Gateway.Handle(ctx, msg)
	writeRPCResponse(w, resp)
}

// handleSessionRPC serves POST /message: a JSON-RPC request correlated to
// an open SSE session. The response is written both in the HTTP body and
// as a "message" event on the session's stream (§4.5 "the response is
// returned both in the HTTP body and as a message event").
func (h *handlers) handleSessionRPC(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("X-Session-Id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session_id")
	}
	if sessionID == "" {
		http.Error(w, "X-Session-Id is required", http.StatusBadRequest)
		return
	}

	sess, ok := h.deps.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	msg, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	ctx, cancel := withRequestTimeout(r)
	defer cancel()

	resp := h.deps.Gateway.Handle(ctx, msg)
	if resp != nil {
		if data, err := json.Marshal(resp); err == nil {
			sess.Enqueue(session.Message{EventType: "message", Data: string(data)})
		}
	}
	writeRPCResponse(w, resp)
}

// decodeMessage reads and parses a JSON-RPC message from the request body,
// writing an HTTP-level error and returning ok=false on failure.
func decodeMessage(w http.ResponseWriter, r *http.Request) (*jsonrpc.Message, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}

	var msg jsonrpc.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		resp, _ := jsonrpc.NewError(nil, jsonrpc.CodeParseError, "invalid JSON-RPC message", nil)
		writeRPCResponse(w, resp)
		return nil, false
	}
	return &msg, true
}

// writeRPCResponse writes resp as the HTTP body, or a bare 204 if resp is
// nil (the message was a notification with no reply, §4.4).
func writeRPCResponse(w http.ResponseWriter, resp *jsonrpc.Message) {
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warnf("httpapi: failed to encode JSON-RPC response: %v", err)
	}
}
