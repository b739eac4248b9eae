package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/auth"
	"github.com/dukerupert/aisle/internal/respond"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
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

// RateLimiter is an in-memory sliding-window log: a key may make at most
// limit hits in any trailing window.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records a hit for key if it fits in the window.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) (apikey.Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := prune(rl.entries[key], now.Add(-window))

	d := apikey.Decision{Limit: limit}
	if len(hits) < limit {
		hits = append(hits, now)
		d.Allowed = true
	}
	d.Remaining = max(limit-len(hits), 0)
	d.ResetAt = now.Add(window)
	if len(hits) > 0 {
		d.ResetAt = hits[0].Add(window)
	}
	rl.entries[key] = hits
	return d, nil
}

// Cleanup removes keys with no hits inside window.
func (rl *RateLimiter) Cleanup(window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-window)
	for key, hits := range rl.entries {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(rl.entries, key)
		} else {
			rl.entries[key] = hits
		}
	}
}

// prune drops hits at or before cutoff. hits is oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// RateChecker decides whether an identity may make another request.
type RateChecker interface {
	RateLimit(identity string) apikey.Decision
}

// RateLimit returns middleware that throttles requests per key and reports
// the budget in X-RateLimit-* headers. keyFunc defaults to the authenticated
// user, falling back to the client IP.
func RateLimit(checker RateChecker, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = CallerOrIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := checker.RateLimit(keyFunc(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.UnixMilli(), 10))
			if !d.Allowed {
				retry := int(time.Until(d.ResetAt).Seconds()) + 1
				h.Set("Retry-After", strconv.Itoa(max(retry, 1)))
				respond.Error(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerOrIP keys on the authenticated user id, or the client IP when the
// request is anonymous.
func CallerOrIP(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + RealIP(r)
}
