package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/auth"
	"github.com/dukerupert/aisle/internal/database"
	"github.com/dukerupert/aisle/internal/store"
)

func setupAuthMiddlewareDB(t *testing.T) (*apikey.Gate, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	users := store.NewUserStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := apikey.New(users, nil, NewRateLimiter(), logger, apikey.WithFailureDelay(0))
	return gate, users
}

func TestRequireAPIKeyRejects(t *testing.T) {
	gate, _ := setupAuthMiddlewareDB(t)

	handler := RequireAPIKey(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer abc", "Bearer sk_deadbeef"} {
		req := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: status = %d, want %d", header, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRequireAPIKeyBackendUnavailable(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := apikey.New(store.NewUserStore(db), nil, NewRateLimiter(), logger, apikey.WithFailureDelay(0))
	db.Close()

	handler := RequireAPIKey(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sk_"+strings.Repeat("a", 64))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRequireAPIKeyValid(t *testing.T) {
	gate, users := setupAuthMiddlewareDB(t)

	if _, err := users.Create("u1", "alice@example.com", "Alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	key, err := gate.GenerateKey("u1")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var got auth.Caller
	handler := RequireAPIKey(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", got.UserID, "u1")
	}
	if got.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", got.Email, "alice@example.com")
	}
}

func TestRequireProviderToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"disabled", "", "Bearer anything", http.StatusNotFound},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"wrong", "secret", "Bearer nope", http.StatusUnauthorized},
		{"valid", "secret", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal/users", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireProviderToken(tt.token)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
