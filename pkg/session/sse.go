package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgateway/gateway/pkg/logger"
)

// keepAliveInterval is how often a keep-alive comment is written to an
// open SSE stream (§4.5, §6 "SSE event format").
const keepAliveInterval = 30 * time.Second

// SSEHandler serves `GET /sse`: it opens a session, writes the `endpoint`
// event naming the companion `/message` URL, then streams enqueued
// messages and keep-alive comments until the client disconnects, the
// session is idle-timed-out, or the server shuts down.
func (m *Manager) SSEHandler(messagesPath string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSSEHeaders(w)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		id := uuid.NewString()
		sess, err := m.Create(id)
		if err != nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		defer m.Delete(id)

		endpointURL := fmt.Sprintf("%s?session_id=%s", messagesPath, id)
		endpointMsg := Message{EventType: "endpoint", Data: endpointURL}
		if _, err := fmt.Fprint(w, endpointMsg.ToSSEString()); err != nil {
			return
		}
		flusher.Flush()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debugf("session %s disconnected", id)
				return
			case <-sess.Done():
				return
			case msg := <-sess.messageCh:
				if _, err := fmt.Fprint(w, msg.ToSSEString()); err != nil {
					return
				}
				flusher.Flush()
				sess.Touch()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, keepAliveComment); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// setSSEHeaders sets the headers required for a streaming SSE response and
// disables proxy response buffering (§9 "SSE through reverse proxies").
func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
