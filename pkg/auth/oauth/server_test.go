package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, specs []ClientSpec) (*Server, *Storage) {
	t.Helper()
	storage := NewStorage()
	t.Cleanup(func() { _ = storage.Close() })
	require.NoError(t, RegisterClients(storage, specs))

	srv, err := NewServer(Config{Issuer: "https://gateway.example.test"}, storage)
	require.NoError(t, err)
	return srv, storage
}

func issueClientCredentialsToken(t *testing.T, srv *Server, clientID, secret, scope string) string {
	t.Helper()
	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {scope},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)
	rec := httptest.NewRecorder()

	srv.TokenHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func TestTokenHandlerClientCredentialsRoundTrip(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-a", Secret: "topsecret", GrantTypes: []string{"client_credentials"}, Scopes: []string{"read"}},
	})

	token := issueClientCredentialsToken(t, srv, "svc-a", "topsecret", "read")

	identity, err := srv.ValidateToken(t.Context(), token)
	require.NoError(t, err)
	assert.Equal(t, "svc-a", identity.ClientID)
	assert.Contains(t, identity.Scopes, "read")
}

func TestTokenHandlerRejectsBadSecret(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-b", Secret: "correct", GrantTypes: []string{"client_credentials"}},
	})

	form := url.Values{"grant_type": {"client_credentials"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("svc-b", "wrong")
	rec := httptest.NewRecorder()

	srv.TokenHandler(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	_, err := srv.ValidateToken(t.Context(), "not-a-real-token")
	assert.Error(t, err)
}

func TestRevokeHandlerIdempotentOnUnknownToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-c", Secret: "s3cret", GrantTypes: []string{"client_credentials"}},
	})

	form := url.Values{"token": {"never-issued"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("svc-c", "s3cret")
	rec := httptest.NewRecorder()

	srv.RevokeHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeHandlerInvalidatesToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-d", Secret: "pw", GrantTypes: []string{"client_credentials"}},
	})
	token := issueClientCredentialsToken(t, srv, "svc-d", "pw", "")

	form := url.Values{"token": {token}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("svc-d", "pw")
	rec := httptest.NewRecorder()
	srv.RevokeHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := srv.ValidateToken(t.Context(), token)
	assert.Error(t, err)
}

func TestValidateHandlerReportsActiveToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-e", Secret: "pw", GrantTypes: []string{"client_credentials"}, Scopes: []string{"admin"}},
	})
	token := issueClientCredentialsToken(t, srv, "svc-e", "pw", "admin")

	form := url.Values{"token": {token}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/validate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ValidateHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, "svc-e", resp.ClientID)
}

func TestValidateHandlerReportsInactiveForUnknownToken(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	form := url.Values{"token": {"bogus"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/validate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.ValidateHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Active)
}

func TestDiscoveryHandlerListsConfiguredEndpointsAndScopes(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-f", Secret: "pw", Scopes: []string{"read", "write"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	rec := httptest.NewRecorder()
	srv.DiscoveryHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc discoveryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://gateway.example.test", doc.Issuer)
	assert.Equal(t, "https://gateway.example.test/oauth/token", doc.TokenEndpoint)
	assert.ElementsMatch(t, allGrantTypes, doc.GrantTypesSupported)
	assert.ElementsMatch(t, []string{"read", "write"}, doc.ScopesSupported)
}

func TestDiscoveryHandlerDefaultsIssuerToRequestBaseURL(t *testing.T) {
	t.Parallel()
	storage := NewStorage()
	t.Cleanup(func() { _ = storage.Close() })
	srv, err := NewServer(Config{}, storage)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	req.Host = "example.internal"
	rec := httptest.NewRecorder()
	srv.DiscoveryHandler(rec, req)

	var doc discoveryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "http://example.internal", doc.Issuer)
}

func TestTokenHandlerPasswordGrantAcceptsAnyCredentials(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-g", Secret: "pw", GrantTypes: []string{"password"}, Scopes: []string{"read"}},
	})

	form := url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"whatever-alice-typed"},
		"scope":      {"read"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("svc-g", "pw")
	rec := httptest.NewRecorder()
	srv.TokenHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.NotEmpty(t, body.RefreshToken)
}

func TestTokenHandlerRefreshTokenRotation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, []ClientSpec{
		{ID: "svc-h", Secret: "pw", GrantTypes: []string{"password", "refresh_token"}, Scopes: []string{"read"}},
	})

	passwordForm := url.Values{
		"grant_type": {"password"},
		"username":   {"bob"},
		"password":   {"whatever"},
		"scope":      {"read"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(passwordForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("svc-h", "pw")
	rec := httptest.NewRecorder()
	srv.TokenHandler(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var issued struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.RefreshToken)

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {issued.RefreshToken},
	}
	req2 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(refreshForm.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req2.SetBasicAuth("svc-h", "pw")
	rec2 := httptest.NewRecorder()
	srv.TokenHandler(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())

	var rotated struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &rotated))
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, issued.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, issued.RefreshToken, rotated.RefreshToken)

	// The original access token was revoked as part of rotation.
	_, err := srv.ValidateToken(t.Context(), issued.AccessToken)
	assert.Error(t, err)

	// The new access token validates.
	identity, err := srv.ValidateToken(t.Context(), rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "svc-h", identity.ClientID)

	// The old refresh token can no longer be redeemed.
	reuseForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {issued.RefreshToken},
	}
	req3 := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(reuseForm.Encode()))
	req3.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req3.SetBasicAuth("svc-h", "pw")
	rec3 := httptest.NewRecorder()
	srv.TokenHandler(rec3, req3)
	assert.NotEqual(t, http.StatusOK, rec3.Code)
}

func TestAuthorizeHandlerIsStub(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	rec := httptest.NewRecorder()
	srv.AuthorizeHandler(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
