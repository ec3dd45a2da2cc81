package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ory/fosite"
)

// Default token lifetimes used when a Requester's session carries no
// explicit expiration (mirrors the teacher's storage.getExpirationFromRequester
// fallback behavior).
const (
	defaultAccessTokenTTL  = time.Hour
	defaultRefreshTokenTTL = 24 * time.Hour

	defaultCleanupInterval = 60 * time.Second
)

// ErrNotFound wraps every not-found condition the store returns, alongside
// the fosite sentinel each method also needs to satisfy fosite's own error
// matching.
var ErrNotFound = fmt.Errorf("oauth: not found")

// timedEntry wraps a value with its expiration time for TTL sweeping.
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// Storage is the gateway's in-memory fosite backend. It implements
// fosite.ClientManager, the access/refresh-token halves of
// oauth2.CoreStorage, oauth2.RefreshTokenGrantStorage,
// oauth2.TokenRevocationStorage, and
// oauth2.ResourceOwnerPasswordCredentialsGrantStorage.
//
// Grounded on the teacher's storage.MemoryStorage: the same
// signature-keyed map + timedEntry TTL wrapper design, trimmed to the
// three grants this gateway supports. The authorization-code, PKCE,
// upstream-IDP-token, and JWT-assertion-replay kinds the teacher carries
// for its full authorization_code + upstream-IDP flow have no owner here
// and are dropped rather than carried unused.
type Storage struct {
	mu sync.RWMutex

	clients       map[string]fosite.Client
	accessTokens  map[string]*timedEntry[fosite.Requester]
	refreshTokens map[string]*timedEntry[fosite.Requester]

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// NewStorage creates a Storage with initialized maps and starts the
// background sweep goroutine (§4.6 "Both stores are periodically swept").
func NewStorage() *Storage {
	s := &Storage{
		clients:         make(map[string]fosite.Client),
		accessTokens:    make(map[string]*timedEntry[fosite.Requester]),
		refreshTokens:   make(map[string]*timedEntry[fosite.Requester]),
		cleanupInterval: defaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background sweep goroutine and waits for it to exit.
func (s *Storage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *Storage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired drops expired access and refresh token entries. Uses the
// same collect-then-delete pattern as the teacher's cleanupExpired: gather
// expired keys under a read lock, delete under a write lock, so the write
// lock is only held when there is work to do.
func (s *Storage) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	var expiredAccess []string
	for k, v := range s.accessTokens {
		if now.After(v.expiresAt) {
			expiredAccess = append(expiredAccess, k)
		}
	}
	var expiredRefresh []string
	for k, v := range s.refreshTokens {
		if now.After(v.expiresAt) {
			expiredRefresh = append(expiredRefresh, k)
		}
	}
	s.mu.RUnlock()

	if len(expiredAccess) == 0 && len(expiredRefresh) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range expiredAccess {
		delete(s.accessTokens, k)
	}
	for _, k := range expiredRefresh {
		delete(s.refreshTokens, k)
	}
}

func expirationFromRequester(request fosite.Requester, tokenType fosite.TokenType, defaultTTL time.Duration) time.Time {
	if request == nil {
		return time.Now().Add(defaultTTL)
	}
	session := request.GetSession()
	if session == nil {
		return time.Now().Add(defaultTTL)
	}
	if exp := session.GetExpiresAt(tokenType); !exp.IsZero() {
		return exp
	}
	return time.Now().Add(defaultTTL)
}

// -----------------------
// fosite.ClientManager
// -----------------------

// RegisterClient adds or overwrites a client, used at startup to load the
// configured client roster and by the admin client-management endpoints.
func (s *Storage) RegisterClient(_ context.Context, client fosite.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.GetID()] = client
	return nil
}

// RemoveClient deletes a registered client and every access/refresh token
// issued to it, used by the admin client-management endpoint. Removal
// without revocation would leave a deregistered client's previously-issued
// tokens valid until their natural expiry (§3 "removal revokes all tokens
// owned by that client").
func (s *Storage) RemoveClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	s.revokeClientTokensLocked(id)
}

// revokeClientTokensLocked deletes every access and refresh token issued to
// client id. Requires s.mu held for writing.
func (s *Storage) revokeClientTokensLocked(id string) {
	for sig, entry := range s.accessTokens {
		if entry.value.GetClient().GetID() == id {
			delete(s.accessTokens, sig)
		}
	}
	for sig, entry := range s.refreshTokens {
		if entry.value.GetClient().GetID() == id {
			delete(s.refreshTokens, sig)
		}
	}
}

// Clients returns every registered client, used to compute the discovery
// document's supported-scopes union.
func (s *Storage) Clients() []fosite.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fosite.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// ListClientIDs returns the ids of every registered client.
func (s *Storage) ListClientIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// GetClient loads the client by its id.
func (s *Storage) GetClient(_ context.Context, id string) (fosite.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHint("Client not found"))
	}
	return client, nil
}

// ClientAssertionJWTValid always reports the JTI as unused: this gateway's
// three grants never present a client-assertion JWT.
func (*Storage) ClientAssertionJWTValid(context.Context, string) error {
	return nil
}

// SetClientAssertionJWT is a no-op for the same reason.
func (*Storage) SetClientAssertionJWT(context.Context, string, time.Time) error {
	return nil
}

// -----------------------
// oauth2.AccessTokenStorage
// -----------------------

// CreateAccessTokenSession stores the access token session.
func (s *Storage) CreateAccessTokenSession(_ context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("access token signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[signature] = &timedEntry[fosite.Requester]{
		value:     request,
		expiresAt: expirationFromRequester(request, fosite.AccessToken, defaultAccessTokenTTL),
	}
	return nil
}

// GetAccessTokenSession retrieves the access token session by its
// signature. The session parameter is a deserialization prototype for
// persistent backends; this in-memory store ignores it since it holds live
// Requester objects.
func (s *Storage) GetAccessTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.accessTokens[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHint("Access token not found"))
	}
	if time.Now().After(entry.expiresAt) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrTokenExpired)
	}
	return entry.value, nil
}

// DeleteAccessTokenSession removes the access token session.
func (s *Storage) DeleteAccessTokenSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessTokens[signature]; !ok {
		return fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHint("Access token not found"))
	}
	delete(s.accessTokens, signature)
	return nil
}

// -----------------------
// oauth2.RefreshTokenStorage / RefreshTokenGrantStorage
// -----------------------

// CreateRefreshTokenSession stores the refresh token session. The
// accessSignature parameter links it to its access token; like the
// teacher, this store doesn't index on it and instead scans by request id
// during rotation and revocation, which is acceptable at this gateway's
// scale.
func (s *Storage) CreateRefreshTokenSession(_ context.Context, signature string, _ string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("refresh token signature cannot be empty")
	}
	if request == nil {
		return fosite.ErrInvalidRequest.WithHint("request cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[signature] = &timedEntry[fosite.Requester]{
		value:     request,
		expiresAt: expirationFromRequester(request, fosite.RefreshToken, defaultRefreshTokenTTL),
	}
	return nil
}

// GetRefreshTokenSession retrieves the refresh token session by its
// signature.
func (s *Storage) GetRefreshTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.refreshTokens[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHint("Refresh token not found"))
	}
	if time.Now().After(entry.expiresAt) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrTokenExpired)
	}
	return entry.value, nil
}

// DeleteRefreshTokenSession removes the refresh token session.
func (s *Storage) DeleteRefreshTokenSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[signature]; !ok {
		return fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHint("Refresh token not found"))
	}
	delete(s.refreshTokens, signature)
	return nil
}

// RotateRefreshToken deletes the given refresh token and every access
// token sharing its request id, implementing refresh-token rotation
// (§4.6 "each refresh consumes the presented refresh token and issues a
// new one").
func (s *Storage) RotateRefreshToken(_ context.Context, requestID string, refreshTokenSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refreshTokens, refreshTokenSignature)
	for sig, entry := range s.accessTokens {
		if entry.value.GetID() == requestID {
			delete(s.accessTokens, sig)
		}
	}
	return nil
}

// -----------------------
// oauth2.TokenRevocationStorage
// -----------------------

// RevokeAccessToken removes every access token issued under requestID.
// Per RFC 7009, revocation is keyed by the grant's request id rather than
// a single token signature so an entire grant can be revoked at once.
func (s *Storage) RevokeAccessToken(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig, entry := range s.accessTokens {
		if entry.value.GetID() == requestID {
			delete(s.accessTokens, sig)
		}
	}
	return nil
}

// RevokeRefreshToken removes every refresh token issued under requestID.
func (s *Storage) RevokeRefreshToken(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig, entry := range s.refreshTokens {
		if entry.value.GetID() == requestID {
			delete(s.refreshTokens, sig)
		}
	}
	return nil
}

// RevokeRefreshTokenMaybeGracePeriod revokes immediately; this store
// doesn't implement a grace period.
func (s *Storage) RevokeRefreshTokenMaybeGracePeriod(ctx context.Context, requestID string, _ string) error {
	return s.RevokeRefreshToken(ctx, requestID)
}

// -----------------------
// oauth2.ResourceOwnerPasswordCredentialsGrantStorage
// -----------------------

// Authenticate accepts any non-empty username with any password, including
// an empty one, and returns the username as the token subject. The password
// grant exists here as test scaffolding for clients that can't run a
// client_credentials flow, not as a real user directory, so the only
// credential pair it rejects is one with an empty username.
func (*Storage) Authenticate(_ context.Context, username string, _ string) (string, error) {
	if username == "" {
		return "", fosite.ErrNotFound
	}
	return username, nil
}
