// Package middleware holds HTTP middleware for the gateway listener.
package middleware

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'self'")
		h.Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// LimiterConfig configures a ClientLimiter.
type LimiterConfig struct {
	RequestsPerMin int
	Burst          int
	// TrustedProxies lists peer IPs whose X-Forwarded-For and X-Real-IP
	// headers are honoured. Empty means headers are ignored.
	TrustedProxies []string
	// IdleAfter drops a client's bucket after this long without traffic.
	IdleAfter time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client key.
type ClientLimiter struct {
	cfg LimiterConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewClientLimiter creates a limiter. RequestsPerMin <= 0 disables limiting.
func NewClientLimiter(cfg LimiterConfig) *ClientLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 3 * time.Minute
	}
	return &ClientLimiter{cfg: cfg, now: time.Now, buckets: make(map[string]*bucket)}
}

// Allow reports whether key may make one more request now.
func (l *ClientLimiter) Allow(key string) bool {
	if l.cfg.RequestsPerMin <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(l.cfg.RequestsPerMin)/60), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// Sweep drops idle buckets and returns how many were removed.
func (l *ClientLimiter) Sweep() int {
	cutoff := l.now().Add(-l.cfg.IdleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Run sweeps idle buckets every interval until ctx is done.
func (l *ClientLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r, l.cfg.TrustedProxies)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the caller's address. Forwarding headers are only read
// when the direct peer is a trusted proxy.
func ClientIP(r *http.Request, trustedProxies []string) string {
	direct := r.RemoteAddr
	if host, _, err := net.SplitHostPort(direct); err == nil {
		direct = host
	}
	if !slices.Contains(trustedProxies, direct) {
		return direct
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return direct
}
