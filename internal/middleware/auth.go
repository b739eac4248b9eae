package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/auth"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/respond"
)

// Authenticator resolves an Authorization header to a caller.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*apikey.Identity, error)
}

type callerSlotKey struct{}

func withCallerSlot(ctx context.Context, slot *auth.Caller) context.Context {
	return context.WithValue(ctx, callerSlotKey{}, slot)
}

// RequireAPIKey validates the bearer API key and populates the caller in the
// request context. Every rejected key gets the same 401; an unreachable
// database gets a 503.
func RequireAPIKey(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if errors.Is(err, model.ErrBackendUnavailable) {
				respond.Error(w, http.StatusServiceUnavailable, "Database not configured")
				return
			}
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			caller := auth.Caller{UserID: id.UserID, Email: id.Email}
			if slot, ok := r.Context().Value(callerSlotKey{}).(*auth.Caller); ok {
				*slot = caller
			}
			ctx := auth.WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireProviderToken guards routes called by the identity provider with a
// shared secret. An empty token disables the routes.
func RequireProviderToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				respond.Error(w, http.StatusNotFound, "Not found")
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				respond.Error(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
