// Package auth implements the gateway's Auth Core (§4.6): bearer-token
// validation middleware backed by both a static token list and the OAuth2
// token store, and the OAuth2 server itself (in the oauth subpackage).
package auth

import "context"

// Identity describes the caller a validated request is made on behalf of.
type Identity struct {
	// Subject is the token's owning principal: the OAuth client id for
	// client_credentials grants, or the username for password grants. For
	// a static token it is empty: static tokens carry no label.
	Subject string
	// ClientID is the OAuth client the token was issued to, empty for
	// static tokens.
	ClientID string
	// Scopes is the set of scopes the token carries.
	Scopes []string
	// Static reports whether the token matched the static-token fallback
	// list rather than the OAuth store.
	Static bool
}

type identityContextKey struct{}

// WithIdentity attaches id to ctx for downstream handlers.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the Identity attached by the auth
// middleware, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
