// Package handler implements the JSON API. Every response goes through the
// respond envelope.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/dukerupert/aisle/internal/auth"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/respond"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst. It writes the 400 itself and
// returns false on failure. An empty body leaves dst untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	respond.Error(w, http.StatusBadRequest, "Invalid JSON body")
	return false
}

// writeError maps a service error to its status code. Messages of client
// errors are shown as-is; anything unexpected is logged and hidden.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		invalid  *model.ValidationError
		capacity *model.CapacityError
		missing  *model.NotFoundError
		limited  *model.RateLimitError
	)
	switch {
	case errors.As(err, &invalid):
		respond.Error(w, http.StatusBadRequest, invalid.Message)
	case errors.As(err, &capacity):
		respond.Error(w, http.StatusBadRequest, capacity.Message)
	case errors.Is(err, model.ErrDuplicateName):
		respond.Error(w, http.StatusBadRequest, "A store with this name already exists")
	case errors.As(err, &missing):
		respond.Error(w, http.StatusNotFound, missing.Message)
	case errors.Is(err, model.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "Not found")
	case errors.Is(err, model.ErrUnauthorized):
		respond.Error(w, http.StatusUnauthorized, "Invalid API key")
	case errors.As(err, &limited):
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		respond.Error(w, http.StatusTooManyRequests, limited.Message)
	case errors.Is(err, model.ErrRateLimited):
		respond.Error(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
	case errors.Is(err, model.ErrBackendUnavailable):
		logger.Error("backend unavailable", "error", err)
		respond.Error(w, http.StatusServiceUnavailable, "Database not configured")
	default:
		logger.Error("request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func callerID(r *http.Request) string {
	return auth.UserID(r.Context())
}

// Pinger checks that the backing store can be reached.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports ok while p answers, and 503 otherwise.
func Health(p Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, logger, err)
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
