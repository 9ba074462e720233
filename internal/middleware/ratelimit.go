// Package middleware carries the per-client fixed-window rate limiter used
// in front of the operator API and the websocket upgrade endpoint.
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Limiter allows at most perMin requests per client key (usually IP) per
// fixed one-minute window.
type Limiter struct {
	perMin int

	mu sync.Mutex
	m  map[string]*window
}

type window struct {
	count int
	reset time.Time
}

// New returns a limiter; perMin <= 0 disables limiting (always allow).
func New(perMin int) *Limiter {
	return &Limiter{
		perMin: perMin,
		m:      make(map[string]*window),
	}
}

// Allow reports whether a request for the given key is allowed right now.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.perMin <= 0 {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Opportunistic prune keeps the map bounded without a janitor.
	if len(l.m) > 4096 {
		for k, w := range l.m {
			if now.After(w.reset) {
				delete(l.m, k)
			}
		}
	}

	w := l.m[key]
	if w == nil || now.After(w.reset) {
		w = &window{reset: now.Add(time.Minute)}
		l.m[key] = w
	}
	if w.count >= l.perMin {
		return false
	}
	w.count++
	return true
}

// Middleware wraps an http.Handler with this limiter.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(KeyFromRequest(r)) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("rate limit"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowWS checks allowance for a WebSocket upgrade request (use before Upgrader.Upgrade).
func (l *Limiter) AllowWS(r *http.Request) bool {
	return l.Allow(KeyFromRequest(r))
}

// KeyFromRequest extracts a best-effort client key from the request:
// the left-most X-Forwarded-For entry if present, else RemoteAddr host.
func KeyFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
