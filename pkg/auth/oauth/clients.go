package oauth

import (
	"context"

	"github.com/ory/fosite"
)

// allGrantTypes is the full grant roster this gateway's provider supports
// (§4.6 grants table); a client with no configured grantTypes is
// registered against all three rather than none.
var allGrantTypes = []string{"client_credentials", "password", "refresh_token"}

// ClientSpec is the config-file shape of one OAuth2 client, converted into
// a fosite.DefaultClient at registration time. It mirrors
// config.OAuthClient without importing the config package, keeping oauth
// free of a dependency on the config layer.
type ClientSpec struct {
	ID         string
	Secret     string
	GrantTypes []string
	Scopes     []string
}

// toFositeClient converts a ClientSpec into the fosite.Client the storage
// layer registers, grounded on the teacher's registerClients: a plain
// fosite.DefaultClient carrying an HMAC secret, since this gateway has no
// redirect-URI or PKCE-bearing flow to distinguish public from
// confidential clients.
func (c ClientSpec) toFositeClient() *fosite.DefaultClient {
	grants := c.GrantTypes
	if len(grants) == 0 {
		grants = allGrantTypes
	}
	return &fosite.DefaultClient{
		ID:         c.ID,
		Secret:     []byte(c.Secret),
		GrantTypes: grants,
		Scopes:     c.Scopes,
		Public:     c.Secret == "",
	}
}

// RegisterClients loads a config-declared client roster into storage,
// called once at startup.
func RegisterClients(storage *Storage, specs []ClientSpec) error {
	for _, spec := range specs {
		if err := storage.RegisterClient(context.Background(), spec.toFositeClient()); err != nil {
			return err
		}
	}
	return nil
}

// AddClient registers a single client at runtime, backing the admin
// POST /admin/oauth/clients endpoint (§3 "mutable via an admin endpoint").
func AddClient(storage *Storage, spec ClientSpec) error {
	return storage.RegisterClient(context.Background(), spec.toFositeClient())
}

// RemoveClient deregisters a client by id and revokes every token it was
// issued, backing the admin DELETE /admin/oauth/clients/{id} endpoint.
func RemoveClient(storage *Storage, id string) {
	storage.RemoveClient(id)
}

// unionScopes returns the deduplicated union of every registered client's
// scopes, used to populate the discovery document's scopes_supported
// (§4.6 "the union of scopes across configured clients").
func unionScopes(storage *Storage) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range storage.Clients() {
		for _, sc := range c.GetScopes() {
			if _, ok := seen[sc]; !ok {
				seen[sc] = struct{}{}
				out = append(out, sc)
			}
		}
	}
	return out
}
