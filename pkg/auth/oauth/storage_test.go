package oauth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSession and mockRequester are minimal fosite.Session/Requester
// implementations for exercising Storage directly, grounded on the
// teacher's storage package test doubles of the same name.

type mockSession struct {
	subject   string
	expiresAt map[fosite.TokenType]time.Time
}

func newMockSession() *mockSession {
	return &mockSession{expiresAt: make(map[fosite.TokenType]time.Time)}
}

func (s *mockSession) SetExpiresAt(key fosite.TokenType, exp time.Time) { s.expiresAt[key] = exp }
func (s *mockSession) GetExpiresAt(key fosite.TokenType) time.Time      { return s.expiresAt[key] }
func (*mockSession) GetUsername() string                               { return "" }
func (s *mockSession) GetSubject() string                              { return s.subject }
func (s *mockSession) Clone() fosite.Session {
	clone := &mockSession{subject: s.subject, expiresAt: make(map[fosite.TokenType]time.Time)}
	for k, v := range s.expiresAt {
		clone.expiresAt[k] = v
	}
	return clone
}

type mockRequester struct {
	id            string
	client        fosite.Client
	grantedScopes fosite.Arguments
	session       fosite.Session
}

func newMockRequester(id string) *mockRequester {
	return &mockRequester{id: id, session: newMockSession()}
}

func (r *mockRequester) SetID(id string)                        { r.id = id }
func (r *mockRequester) GetID() string                          { return r.id }
func (*mockRequester) GetRequestedAt() time.Time                 { return time.Now() }
func (r *mockRequester) GetClient() fosite.Client                { return r.client }
func (*mockRequester) GetRequestedScopes() fosite.Arguments      { return nil }
func (*mockRequester) GetRequestedAudience() fosite.Arguments    { return nil }
func (*mockRequester) SetRequestedScopes(fosite.Arguments)       {}
func (*mockRequester) SetRequestedAudience(fosite.Arguments)     {}
func (*mockRequester) AppendRequestedScope(string)               {}
func (r *mockRequester) GetGrantedScopes() fosite.Arguments      { return r.grantedScopes }
func (*mockRequester) GetGrantedAudience() fosite.Arguments      { return nil }
func (r *mockRequester) GrantScope(scope string)                 { r.grantedScopes = append(r.grantedScopes, scope) }
func (*mockRequester) GrantAudience(string)                      {}
func (r *mockRequester) GetSession() fosite.Session               { return r.session }
func (r *mockRequester) SetSession(s fosite.Session)              { r.session = s }
func (*mockRequester) GetRequestForm() url.Values                 { return url.Values{} }
func (*mockRequester) Merge(fosite.Requester)                     {}
func (r *mockRequester) Sanitize([]string) fosite.Requester       { return r }

func TestStorageAccessTokenLifecycle(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	req := newMockRequester("req-1")
	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-1", req))

	got, err := s.GetAccessTokenSession(ctx, "sig-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.GetID())

	require.NoError(t, s.DeleteAccessTokenSession(ctx, "sig-1"))
	_, err = s.GetAccessTokenSession(ctx, "sig-1", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageGetAccessTokenSessionNotFound(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()

	_, err := s.GetAccessTokenSession(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageGetAccessTokenSessionExpired(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	req := newMockRequester("req-expired")
	req.session.(*mockSession).SetExpiresAt(fosite.AccessToken, time.Now().Add(-time.Minute))
	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-expired", req))

	_, err := s.GetAccessTokenSession(ctx, "sig-expired", nil)
	assert.ErrorIs(t, err, fosite.ErrTokenExpired)
}

func TestStorageCreateAccessTokenSessionRejectsEmptySignature(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()

	err := s.CreateAccessTokenSession(context.Background(), "", newMockRequester("req"))
	assert.Error(t, err)
}

func TestStorageRefreshTokenLifecycle(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	req := newMockRequester("req-2")
	require.NoError(t, s.CreateRefreshTokenSession(ctx, "refresh-sig", "access-sig", req))

	got, err := s.GetRefreshTokenSession(ctx, "refresh-sig", nil)
	require.NoError(t, err)
	assert.Equal(t, "req-2", got.GetID())

	require.NoError(t, s.DeleteRefreshTokenSession(ctx, "refresh-sig"))
	_, err = s.GetRefreshTokenSession(ctx, "refresh-sig", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageRotateRefreshTokenDeletesOldRefreshAndCoRequestAccessTokens(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	req := newMockRequester("request-123")
	require.NoError(t, s.CreateRefreshTokenSession(ctx, "refresh-sig", "access-sig", req))
	require.NoError(t, s.CreateAccessTokenSession(ctx, "access-sig", req))

	require.NoError(t, s.RotateRefreshToken(ctx, "request-123", "refresh-sig"))

	_, err := s.GetRefreshTokenSession(ctx, "refresh-sig", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAccessTokenSession(ctx, "access-sig", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageRotateRefreshTokenOnUnknownIsNoop(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()

	assert.NoError(t, s.RotateRefreshToken(context.Background(), "non-existent", "non-existent"))
}

func TestStorageRevokeAccessTokenByRequestID(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	req := newMockRequester("request-456")
	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-a", req))
	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-b", req))

	require.NoError(t, s.RevokeAccessToken(ctx, "request-456"))

	_, err := s.GetAccessTokenSession(ctx, "sig-a", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAccessTokenSession(ctx, "sig-b", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageRevokeRefreshTokenIdempotentOnUnknownRequestID(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()

	assert.NoError(t, s.RevokeRefreshToken(context.Background(), "never-issued"))
	assert.NoError(t, s.RevokeRefreshTokenMaybeGracePeriod(context.Background(), "never-issued", "sig"))
}

func TestStorageCleanupExpiredSweepsPastEntries(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	expired := newMockRequester("req-old")
	expired.session.(*mockSession).SetExpiresAt(fosite.AccessToken, time.Now().Add(-time.Hour))
	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-old", expired))

	fresh := newMockRequester("req-new")
	require.NoError(t, s.CreateAccessTokenSession(ctx, "sig-new", fresh))

	s.cleanupExpired()

	_, err := s.GetAccessTokenSession(ctx, "sig-old", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetAccessTokenSession(ctx, "sig-new", nil)
	assert.NoError(t, err)
}

func TestStorageClientRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	client := ClientSpec{ID: "client-a", Secret: "shh", GrantTypes: []string{"client_credentials"}, Scopes: []string{"read"}}
	require.NoError(t, s.RegisterClient(ctx, client.toFositeClient()))

	got, err := s.GetClient(ctx, "client-a")
	require.NoError(t, err)
	assert.Equal(t, "client-a", got.GetID())
	assert.Contains(t, s.ListClientIDs(), "client-a")
	assert.Len(t, s.Clients(), 1)

	s.RemoveClient("client-a")
	_, err = s.GetClient(ctx, "client-a")
	assert.Error(t, err)
	assert.NotContains(t, s.ListClientIDs(), "client-a")
}

func TestStorageRemoveClientRevokesItsTokens(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	client := ClientSpec{ID: "client-b", Secret: "shh", GrantTypes: []string{"client_credentials"}, Scopes: []string{"read"}}.toFositeClient()
	require.NoError(t, s.RegisterClient(ctx, client))

	req := newMockRequester("req-client-b")
	req.client = client
	require.NoError(t, s.CreateAccessTokenSession(ctx, "access-sig", req))
	require.NoError(t, s.CreateRefreshTokenSession(ctx, "refresh-sig", "access-sig", req))

	s.RemoveClient("client-b")

	_, err := s.GetAccessTokenSession(ctx, "access-sig", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRefreshTokenSession(ctx, "refresh-sig", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorageAuthenticateAcceptsAnyNonEmptyUsername(t *testing.T) {
	t.Parallel()
	s := NewStorage()
	defer func() { _ = s.Close() }()

	_, err := s.Authenticate(context.Background(), "alice", "whatever")
	assert.NoError(t, err)
	_, err = s.Authenticate(context.Background(), "bob", "")
	assert.NoError(t, err)
	_, err = s.Authenticate(context.Background(), "", "x")
	assert.Error(t, err)
}
