package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/auth"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter() (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter()
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiterAllow(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		d, _ := rl.Allow("key", 5, time.Minute)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
	}

	if d, _ := rl.Allow("key", 5, time.Minute); d.Allowed || d.Remaining != 0 {
		t.Errorf("6th request = %+v, want denied with 0 remaining", d)
	}
	if d, _ := rl.Allow("other", 5, time.Minute); !d.Allowed {
		t.Error("other key should be allowed")
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl, clock := newTestLimiter()
	start := clock.t

	rl.Allow("key", 3, time.Minute)
	clock.t = start.Add(30 * time.Second)
	rl.Allow("key", 3, time.Minute)
	rl.Allow("key", 3, time.Minute)

	d, _ := rl.Allow("key", 3, time.Minute)
	if d.Allowed {
		t.Fatal("should be blocked within window")
	}
	if !d.ResetAt.Equal(start.Add(time.Minute)) {
		t.Errorf("reset = %v, want %v", d.ResetAt, start.Add(time.Minute))
	}

	// Only the first hit has left the window.
	clock.t = start.Add(61 * time.Second)
	if d, _ := rl.Allow("key", 3, time.Minute); !d.Allowed {
		t.Error("should be allowed once the oldest hit expires")
	}
	if d, _ := rl.Allow("key", 3, time.Minute); d.Allowed {
		t.Error("window still holds three hits")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, clock := newTestLimiter()

	rl.Allow("expired", 5, time.Minute)
	clock.t = clock.t.Add(2 * time.Minute)
	rl.Allow("active", 5, time.Minute)

	rl.Cleanup(time.Minute)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["expired"]; ok {
		t.Error("expired entry should have been cleaned up")
	}
	if _, ok := rl.entries["active"]; !ok {
		t.Error("active entry should still exist")
	}
}

func newTestGate(limiter apikey.Limiter, limit int) *apikey.Gate {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return apikey.New(nil, nil, limiter, logger, apikey.WithRateLimit(limit, time.Minute))
}

func TestRateLimitMiddleware(t *testing.T) {
	gate := newTestGate(NewRateLimiter(), 2)

	handler := RateLimit(gate, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctx := auth.WithCaller(context.Background(), auth.Caller{UserID: "u1"})

	// First 2 requests should pass
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want %q", got, "2")
		}
	}

	// 3rd request should be rate limited
	req := httptest.NewRequest("POST", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "0")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}

	// A different caller has its own budget.
	other := auth.WithCaller(context.Background(), auth.Caller{UserID: "u2"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil).WithContext(other))
	if rec.Code != http.StatusOK {
		t.Errorf("other caller: status = %d, want %d", rec.Code, http.StatusOK)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(string, int, time.Duration) (apikey.Decision, error) {
	return apikey.Decision{}, errors.New("backend down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	gate := newTestGate(brokenLimiter{}, 1)
	handler := RateLimit(gate, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}
}

func TestCallerOrIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := CallerOrIP(req); got != "ip:203.0.113.9" {
		t.Errorf("anonymous key = %q, want %q", got, "ip:203.0.113.9")
	}

	req = req.WithContext(auth.WithCaller(req.Context(), auth.Caller{UserID: "u1"}))
	if got := CallerOrIP(req); got != "user:u1" {
		t.Errorf("caller key = %q, want %q", got, "user:u1")
	}
}
