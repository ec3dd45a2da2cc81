package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgateway/gateway/pkg/auth/oauth"
	"github.com/mcpgateway/gateway/pkg/backend"
	"github.com/mcpgateway/gateway/pkg/registry"
)

// healthResponse is the body of GET /admin/health (§6 "{status: healthy|degraded}").
type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth reports "degraded" if any backend is not Ready.
func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	for _, s := range h.deps.Registry.StatusAll() {
		if s.State != backend.StateReady {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status})
}

// statusResponse is the body of GET /admin/status: per-backend health plus
// tool/resource/prompt counts (§6 "Registry snapshot: per-backend health,
// tool counts").
type statusResponse struct {
	Backends       []registry.Status `json:"backends"`
	ToolCount      int               `json:"toolCount"`
	ResourceCount  int               `json:"resourceCount"`
	PromptCount    int               `json:"promptCount"`
	SessionCount   int               `json:"sessionCount"`
	ShadowedCount  int               `json:"shadowedCount"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Aggregator.Current()
	writeJSON(w, http.StatusOK, statusResponse{
		Backends:      h.deps.Registry.StatusAll(),
		ToolCount:     len(snap.Tools),
		ResourceCount: len(snap.Resources),
		PromptCount:   len(snap.Prompts),
		SessionCount:  h.deps.Sessions.Count(),
		ShadowedCount: len(snap.Shadowed),
	})
}

// handleBackendRestart forces an immediate restart of one backend,
// bypassing its restart backoff schedule (SPEC_FULL admin addition).
func (h *handlers) handleBackendRestart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.deps.Registry.Restart(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleBackendShadowed reports the subset of the catalog's shadowed
// entries originating from the named backend (SPEC_FULL admin addition:
// surfacing §4.3's shadow list per-backend for operator diagnosis).
func (h *handlers) handleBackendShadowed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap := h.deps.Aggregator.Current()

	var shadowed []any
	for _, s := range snap.Shadowed {
		if s.BackendID == id {
			shadowed = append(shadowed, s)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"shadowed": shadowed})
}

// addClientRequest is the body of POST /admin/oauth/clients.
type addClientRequest struct {
	ID         string   `json:"id"`
	Secret     string   `json:"secret"`
	GrantTypes []string `json:"grantTypes"`
	Scopes     []string `json:"scopes"`
}

// handleAddOAuthClient registers a new OAuth2 client at runtime (§3
// "mutable via an admin endpoint").
func (h *handlers) handleAddOAuthClient(w http.ResponseWriter, r *http.Request) {
	var req addClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	spec := oauth.ClientSpec{
		ID: req.ID, Secret: req.Secret,
		GrantTypes: req.GrantTypes, Scopes: req.Scopes,
	}
	if err := oauth.AddClient(h.deps.OAuthStore, spec); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleRemoveOAuthClient deregisters an OAuth2 client by id.
func (h *handlers) handleRemoveOAuthClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	oauth.RemoveClient(h.deps.OAuthStore, id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
