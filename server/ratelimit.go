package server

import (
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneSize  = 1024
	limiterMaxEntries = 4096
)

// RealIP returns the client address of the request. Forwarding headers are only
// honoured for trusted proxies, by TrustedProxyMiddleware rewriting RemoteAddr.
func RealIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TrustedProxyMiddleware takes the client address from the forwarding headers when
// the connection comes from a trusted proxy. Other peers keep their RemoteAddr.
func (s *Server) TrustedProxyMiddleware(next http.Handler) http.Handler {
	if len(s.trustedProxies) == 0 {
		return next
	}
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isTrustedProxy(RealIP(r)) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isTrustedProxy(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter is a token bucket per client IP.
type clientLimiter struct {
	mu         sync.Mutex
	perMinute  int
	maxEntries int
	entries    map[string]*limiterEntry
}

// newClientLimiter returns nil when perMinute is 0, which allows everything.
func newClientLimiter(perMinute int) *clientLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &clientLimiter{
		perMinute:  perMinute,
		maxEntries: limiterMaxEntries,
		entries:    make(map[string]*limiterEntry),
	}
}

func (cl *clientLimiter) Allow(key string, now time.Time) bool {
	if cl == nil {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	e, ok := cl.entries[key]
	if !ok {
		if len(cl.entries) >= limiterPruneSize {
			cl.pruneLocked(now)
		}
		if len(cl.entries) >= cl.maxEntries {
			cl.evictOldestLocked()
		}
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cl.perMinute)), cl.perMinute),
		}
		cl.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (cl *clientLimiter) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, e := range cl.entries {
		if !found || e.lastSeen.Before(oldest) {
			oldestKey, oldest, found = key, e.lastSeen, true
		}
	}
	if found {
		delete(cl.entries, oldestKey)
	}
}

func (cl *clientLimiter) pruneLocked(now time.Time) {
	for key, e := range cl.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(cl.entries, key)
		}
	}
}

// RateLimitMiddleware rejects clients that exceed the login rate with 429.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.loginLimiter.Allow(RealIP(r), time.Now()) {
			s.requestLogger(r).Warn().Str("remote", RealIP(r)).Msg("login rate limit exceeded")
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
