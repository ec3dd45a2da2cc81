// Package oauth implements the OAuth2 half of the Auth Core (§4.6): the
// client_credentials, password, and refresh_token grants, opaque HMAC
// token issuance, and discovery/revocation/introspection endpoints.
//
// Unlike the teacher's authserver package — which signs JWT access tokens
// and supports the full authorization_code + PKCE + JWKS machinery — this
// gateway only needs the three grants above, so it composes fosite's
// standard compose.Compose helper with an opaque HMAC token strategy
// rather than the teacher's JWT-oriented Factory/NewOAuth2Provider
// abstraction. The authorize endpoint is left an explicit stub per the
// spec's own open question.
package oauth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/compose"
)

// Default token lifetimes (§4.6 "Tokens").
const (
	DefaultAccessTokenLifespan  = time.Hour
	DefaultRefreshTokenLifespan = 24 * time.Hour

	// sweepInterval is how often expired token-store entries are dropped
	// (§4.6 "Both stores are periodically swept").
	sweepInterval = 60 * time.Second
)

// Config bundles the fosite configuration and the registered client
// roster needed to construct a Server.
type Config struct {
	Issuer               string
	AccessTokenLifespan  time.Duration
	RefreshTokenLifespan time.Duration
	// GlobalSecret signs opaque HMAC tokens. Generated randomly if empty.
	GlobalSecret []byte
}

// newFositeConfig builds the *fosite.Config this gateway's grants run
// against.
func newFositeConfig(c Config) (*fosite.Config, error) {
	secret := c.GlobalSecret
	if len(secret) == 0 {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("oauth: failed to generate global secret: %w", err)
		}
		secret = generated
	}

	accessLifespan := c.AccessTokenLifespan
	if accessLifespan <= 0 {
		accessLifespan = DefaultAccessTokenLifespan
	}
	refreshLifespan := c.RefreshTokenLifespan
	if refreshLifespan <= 0 {
		refreshLifespan = DefaultRefreshTokenLifespan
	}

	return &fosite.Config{
		AccessTokenIssuer:    c.Issuer,
		AccessTokenLifespan:  accessLifespan,
		RefreshTokenLifespan: refreshLifespan,
		GlobalSecret:         secret,
		TokenURL:             c.Issuer + "/oauth/token",
	}, nil
}

// buildProvider composes the three grants this gateway supports (§4.6
// grants table) over an opaque HMAC token strategy, following fosite's
// documented compose.Compose entry point rather than the teacher's
// internal multi-strategy Factory abstraction (which exists to support
// JWT signing this gateway doesn't need).
func buildProvider(fc *fosite.Config, storage *Storage) fosite.OAuth2Provider {
	strategy := compose.NewOAuth2HMACStrategy(fc)
	return compose.Compose(
		fc,
		storage,
		strategy,
		compose.OAuth2ClientCredentialsGrantFactory,
		compose.OAuth2ResourceOwnerPasswordCredentialsFactory,
		compose.OAuth2RefreshTokenGrantFactory,
		compose.OAuth2TokenIntrospectionFactory,
		compose.OAuth2TokenRevocationFactory,
	)
}
