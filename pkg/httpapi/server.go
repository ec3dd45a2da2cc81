// Package httpapi wires the gateway's external HTTP surface (§6): the
// SSE/JSON-RPC endpoints, the admin status/control endpoints, the OAuth2
// endpoints, and the discovery/branding endpoints. The OAuth token,
// revoke and authorize endpoints, discovery and the icon are public; every
// other route sits behind the bearer auth middleware and a per-caller rate
// limiter.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcpgateway/gateway/pkg/aggregator"
	"github.com/mcpgateway/gateway/pkg/auth"
	"github.com/mcpgateway/gateway/pkg/auth/oauth"
	"github.com/mcpgateway/gateway/pkg/gateway"
	"github.com/mcpgateway/gateway/pkg/registry"
	"github.com/mcpgateway/gateway/pkg/session"
)

// Deps bundles every collaborator the HTTP surface dispatches into.
// Grounded on the teacher's cmd/vmcp/app wiring style: one struct
// assembled by the serve command and handed to the transport layer.
type Deps struct {
	Gateway     *gateway.Gateway
	Sessions    *session.Manager
	Registry    *registry.Registry
	Aggregator  *aggregator.Aggregator
	AuthMW      *auth.Middleware
	OAuthServer *oauth.Server
	OAuthStore  *oauth.Storage
	RateLimit   RateLimitConfig
}

// NewRouter builds the complete chi.Mux for the gateway's HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	limiter := NewLimiter(d.RateLimit)

	public := r.With()
	public.Post("/oauth/token", d.OAuthServer.TokenHandler)
	public.Post("/oauth/revoke", d.OAuthServer.RevokeHandler)
	public.Get("/oauth/authorize", d.OAuthServer.AuthorizeHandler)
	public.Get("/.well-known/openid-configuration", d.OAuthServer.DiscoveryHandler)
	public.Get("/icon.svg", IconHandler)
	public.Get("/icon", IconHandler)

	protected := r.With()
	protected.Use(d.AuthMW.Wrap)
	protected.Use(limiter.Middleware)

	h := &handlers{deps: d}
	protected.Get("/sse", d.Sessions.SSEHandler("/message"))
	protected.Post("/sse", h.handleStatelessRPC)
	protected.Post("/rpc", h.handleStatelessRPC)
	protected.Post("/message", h.handleSessionRPC)
	protected.Post("/oauth/validate", d.OAuthServer.ValidateHandler)

	protected.Get("/admin/health", h.handleHealth)
	protected.Get("/admin/status", h.handleStatus)
	protected.Post("/admin/backends/{id}/restart", h.handleBackendRestart)
	protected.Get("/admin/backends/{id}/shadowed", h.handleBackendShadowed)
	protected.Post("/admin/oauth/clients", h.handleAddOAuthClient)
	protected.Delete("/admin/oauth/clients/{id}", h.handleRemoveOAuthClient)

	return r
}

// handlers holds the dependencies every non-trivial endpoint needs; thin
// wrapper methods keep NewRouter's wiring table readable.
type handlers struct {
	deps Deps
}

// requestTimeout bounds how long any single HTTP-triggered dispatch may
// run before the handler gives up on it, independent of the Router's own
// per-call deadline (§5 "per-call deadlines").
const requestTimeout = 60 * time.Second

func withRequestTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
