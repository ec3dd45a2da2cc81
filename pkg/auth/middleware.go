package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// OAuthValidator validates a bearer token issued by the OAuth2 server,
// satisfied by *oauth.Server.
type OAuthValidator interface {
	ValidateToken(ctx context.Context, token string) (Identity, error)
}

// Middleware validates every request's bearer token against either the
// static token list or the OAuth2 token store, attaching the resulting
// Identity to the request context (§4.6 "Validation middleware").
//
// Grounded on the teacher's TokenMiddleware: extract from the
// Authorization header (and, for SSE, a token query parameter), reject
// with 401 and a WWW-Authenticate header on any failure, otherwise attach
// claims/identity to context and call through.
type Middleware struct {
	static *StaticValidator
	oauth  OAuthValidator
	realm  string
}

// NewMiddleware constructs a Middleware. oauth may be nil if no OAuth2
// server is configured, in which case only static tokens validate.
func NewMiddleware(static *StaticValidator, oauth OAuthValidator, realm string) *Middleware {
	return &Middleware{static: static, oauth: oauth, realm: realm}
}

// Wrap returns an http.Handler that authenticates r before delegating to
// next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			m.unauthorized(w, "missing bearer token")
			return
		}

		if m.static != nil && m.static.Valid(token) {
			ctx := WithIdentity(r.Context(), Identity{Static: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if m.oauth != nil {
			id, err := m.oauth.ValidateToken(r.Context(), token)
			if err == nil {
				ctx := WithIdentity(r.Context(), id)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		m.unauthorized(w, "invalid or expired token")
	})
}

// extractToken reads the bearer token from the Authorization header or,
// for SSE clients that can't set headers, the `token` query parameter
// (§4.6 "the OAuth path additionally accepts a token in a token query
// parameter for SSE").
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func (m *Middleware) unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", m.buildWWWAuthenticate(detail))
	http.Error(w, fmt.Sprintf("Unauthorized: %s", detail), http.StatusUnauthorized)
}

func (m *Middleware) buildWWWAuthenticate(detail string) string {
	realm := m.realm
	if realm == "" {
		realm = "mcp-gateway"
	}
	return fmt.Sprintf(`Bearer realm="%s", error="invalid_token", error_description="%s"`,
		escapeQuotes(realm), escapeQuotes(detail))
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
