package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpgateway/gateway/pkg/auth"
)

// RateLimitConfig bounds a token-bucket limiter applied per authenticated
// caller (§6 "rate-limit parameters").
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter holds one token bucket per caller identity, created lazily on
// first use. Callers are keyed by OAuth client id or static-token presence
// rather than by IP, since every request here is already authenticated.
type Limiter struct {
	cfg  RateLimitConfig
	mu   sync.Mutex
	byID map[string]*rate.Limiter
}

// NewLimiter constructs a Limiter from cfg. A non-positive
// RequestsPerSecond disables limiting entirely.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	return &Limiter{cfg: cfg, byID: make(map[string]*rate.Limiter)}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.byID[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.byID[key] = lim
	}
	return lim
}

// Middleware rejects a request with 429 if its caller's bucket is empty,
// naming a Retry-After derived from the bucket's own reservation delay
// (§7 "RateLimited — HTTP 429 with Retry-After").
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l.cfg.RequestsPerSecond <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r)
		reservation := l.limiterFor(key).Reserve()
		if !reservation.OK() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			retryAfter := int(math.Ceil(delay.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey identifies the bucket a request draws from: the authenticated
// identity's client id, falling back to the static-token marker, falling
// back to remote address for the pathological case of no identity at all
// (auth middleware runs first, so this should not occur in practice).
func callerKey(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		if id.ClientID != "" {
			return "client:" + id.ClientID
		}
		if id.Static {
			return "static"
		}
	}
	return "addr:" + r.RemoteAddr
}
