package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ory/fosite"

	"github.com/mcpgateway/gateway/pkg/auth"
)

// Server wraps a composed fosite.OAuth2Provider with the gateway's HTTP
// handlers and the auth.OAuthValidator adapter the bearer-token middleware
// calls into.
//
// Grounded on the teacher's authserver/oauth.Router, trimmed to the token,
// revocation, introspection, and discovery handlers this gateway's three
// grants need; the authorize endpoint is left an explicit stub since this
// gateway never issues authorization codes.
type Server struct {
	provider fosite.OAuth2Provider
	storage  *Storage
	issuer   string
}

// NewServer composes the fosite provider for cfg's grants and returns a
// Server bound to storage.
func NewServer(cfg Config, storage *Storage) (*Server, error) {
	fc, err := newFositeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Server{
		provider: buildProvider(fc, storage),
		storage:  storage,
		issuer:   cfg.Issuer,
	}, nil
}

// TokenHandler handles POST /oauth/token: client_credentials, password,
// and refresh_token grants (§4.6 grants table). Client authentication via
// HTTP Basic or form body is handled internally by fosite's
// NewAccessRequest.
func (s *Server) TokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	session := &fosite.DefaultSession{}

	accessRequest, err := s.provider.NewAccessRequest(ctx, req, session)
	if err != nil {
		s.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	response, err := s.provider.NewAccessResponse(ctx, accessRequest)
	if err != nil {
		s.provider.WriteAccessError(ctx, w, accessRequest, err)
		return
	}

	s.provider.WriteAccessResponse(ctx, w, accessRequest, response)
}

// RevokeHandler handles POST /oauth/revoke. Revoking an unknown token is
// idempotent and always returns success (§4.6 "revoking an unknown token
// is idempotent and returns success").
func (s *Server) RevokeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := req.ParseForm(); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := s.provider.NewRevocationRequest(ctx, req)
	s.provider.WriteRevocationResponse(ctx, w, err)
}

// validateResponse is the body of POST /oauth/validate.
type validateResponse struct {
	Active    bool     `json:"active"`
	ClientID  string   `json:"client_id,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	ExpiresAt int64    `json:"expires_at,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Scopes    []string `json:"-"`
}

// ValidateHandler handles POST /oauth/validate: introspection returning
// {active, client_id, scope, expires_at} (§6 external interfaces table).
func (s *Server) ValidateHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if err := req.ParseForm(); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	token := req.PostFormValue("token")

	resp := validateResponse{}
	session := &fosite.DefaultSession{}
	_, ar, err := s.provider.IntrospectToken(ctx, token, fosite.AccessToken, session)
	if err == nil {
		resp.Active = true
		resp.ClientID = ar.GetClient().GetID()
		resp.Scope = joinScopes(ar.GetGrantedScopes())
		resp.ExpiresAt = ar.GetSession().GetExpiresAt(fosite.AccessToken).Unix()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ValidateToken satisfies auth.OAuthValidator: it introspects token against
// the fosite provider and, if active, returns the caller's Identity.
func (s *Server) ValidateToken(ctx context.Context, token string) (auth.Identity, error) {
	session := &fosite.DefaultSession{}
	_, ar, err := s.provider.IntrospectToken(ctx, token, fosite.AccessToken, session)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("oauth: token validation failed: %w", err)
	}
	if exp := ar.GetSession().GetExpiresAt(fosite.AccessToken); !exp.IsZero() && time.Now().After(exp) {
		return auth.Identity{}, fmt.Errorf("oauth: token expired")
	}

	subject := ar.GetSession().GetSubject()
	if subject == "" {
		subject = ar.GetClient().GetID()
	}
	return auth.Identity{
		Subject:  subject,
		ClientID: ar.GetClient().GetID(),
		Scopes:   ar.GetGrantedScopes(),
	}, nil
}

// discoveryDocument is a trimmed OIDC-style discovery document naming only
// the endpoints and grants this gateway actually implements (§4.6
// "Discovery").
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// DiscoveryHandler handles GET /.well-known/openid-configuration. The
// issuer defaults to the request's base URL unless Server was configured
// with one explicitly (§4.6 "The issuer defaults to the request's base
// URL unless configured").
func (s *Server) DiscoveryHandler(w http.ResponseWriter, req *http.Request) {
	issuer := s.issuer
	if issuer == "" {
		issuer = requestBaseURL(req)
	}

	doc := discoveryDocument{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		IntrospectionEndpoint:             issuer + "/oauth/validate",
		GrantTypesSupported:               allGrantTypes,
		ScopesSupported:                   unionScopes(s.storage),
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(doc)
}

// AuthorizeHandler is an explicit stub: this gateway never issues
// authorization codes, so the endpoint the discovery document names for
// completeness always reports it is unimplemented.
func (*Server) AuthorizeHandler(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "authorization_code grant is not supported by this gateway", http.StatusNotImplemented)
}

func requestBaseURL(req *http.Request) string {
	scheme := "https"
	if req.TLS == nil && req.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	host := req.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = req.Host
	}
	return scheme + "://" + host
}

func joinScopes(scopes fosite.Arguments) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
