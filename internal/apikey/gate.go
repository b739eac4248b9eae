// Package apikey issues and checks the bearer keys external integrations
// use, and throttles requests per caller.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dukerupert/aisle/internal/model"
)

const (
	// Prefix starts every raw key.
	Prefix = "sk_"

	keyBytes = 32

	// GenerateInterval is the minimum time between two generated keys for
	// one user.
	GenerateInterval = time.Hour

	DefaultLimit  = 100
	DefaultWindow = time.Minute

	// DefaultFailureDelay is the minimum time a rejected Authenticate takes.
	DefaultFailureDelay = 100 * time.Millisecond

	// touchTimeout bounds the last-used update on each authenticated request.
	touchTimeout = 2 * time.Second
)

// Users is the slice of the user store the gate needs.
type Users interface {
	GetByID(id string) (*model.User, error)
	GetByAPIKeyHash(hash string) (*model.User, error)
	SetAPIKey(id, hash string, createdAt time.Time) error
	ClearAPIKey(id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// Stores resolves store documents for access checks.
type Stores interface {
	Get(ctx context.Context, storeID string) (*model.Store, error)
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits per key over a trailing window.
type Limiter interface {
	Allow(key string, limit int, window time.Duration) (Decision, error)
}

// Identity is who a valid key belongs to.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Status describes a user's key without revealing it.
type Status struct {
	HasKey    bool       `json:"hasKey"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
}

type Option func(*Gate)

// WithPepper keys the hash so that a leaked users table alone cannot be
// matched against candidate keys.
func WithPepper(pepper string) Option {
	return func(g *Gate) {
		key := []byte(pepper)
		if len(key) > blake2b.Size {
			sum := blake2b.Sum512(key)
			key = sum[:]
		}
		g.pepper = key
	}
}

// WithRateLimit overrides the per-caller request budget.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(g *Gate) {
		if limit > 0 {
			g.limit = limit
		}
		if window > 0 {
			g.window = window
		}
	}
}

// WithFailureDelay overrides DefaultFailureDelay.
func WithFailureDelay(d time.Duration) Option {
	return func(g *Gate) {
		g.failureDelay = d
	}
}

type Gate struct {
	users   Users
	stores  Stores
	limiter Limiter
	logger  *slog.Logger

	pepper       []byte
	limit        int
	window       time.Duration
	failureDelay time.Duration
	now          func() time.Time
}

func New(users Users, stores Stores, limiter Limiter, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		users:        users,
		stores:       stores,
		limiter:      limiter,
		logger:       logger.With("component", "apikey"),
		limit:        DefaultLimit,
		window:       DefaultWindow,
		failureDelay: DefaultFailureDelay,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Hash returns the stored form of a raw key.
func (g *Gate) Hash(rawKey string) string {
	h, err := blake2b.New256(g.pepper)
	if err != nil {
		// Only reachable with a key over 64 bytes, which WithPepper prevents.
		panic(err)
	}
	h.Write([]byte(rawKey))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateKey creates a new key for userID, replacing any existing one. The
// raw key is returned only here.
func (g *Gate) GenerateKey(userID string) (string, error) {
	u, err := g.users.GetByID(userID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", model.NotFound("User not found")
	}

	now := g.now()
	if u.APIKeyCreatedAt != nil {
		next := u.APIKeyCreatedAt.Add(GenerateInterval)
		if now.Before(next) {
			wait := next.Sub(now)
			minutes := int(math.Ceil(wait.Minutes()))
			return "", &model.RateLimitError{
				Message:    fmt.Sprintf("API key was recently generated. Please wait %d minutes before generating a new one.", minutes),
				RetryAfter: wait,
			}
		}
	}

	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	raw := Prefix + hex.EncodeToString(buf)
	if err := g.users.SetAPIKey(userID, g.Hash(raw), now); err != nil {
		return "", err
	}
	g.logger.Info("api key generated", "user_id", userID)
	return raw, nil
}

// Revoke removes userID's key. Revoking when no key exists is not an error.
func (g *Gate) Revoke(userID string) error {
	if err := g.users.ClearAPIKey(userID); err != nil {
		return err
	}
	g.logger.Info("api key revoked", "user_id", userID)
	return nil
}

func (g *Gate) Status(userID string) (*Status, error) {
	u, err := g.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.NotFound("User not found")
	}
	if u.APIKeyHash == nil {
		return &Status{}, nil
	}
	return &Status{HasKey: true, CreatedAt: u.APIKeyCreatedAt, LastUsed: u.APIKeyLastUsed}, nil
}

// Authenticate resolves an Authorization header of the form
// "Bearer sk_<hex>". Every rejection returns model.ErrUnauthorized and takes
// at least the configured failure delay, whatever the reason. A database that
// cannot be reached is reported as model.ErrBackendUnavailable instead.
func (g *Gate) Authenticate(ctx context.Context, header string) (*Identity, error) {
	start := time.Now()
	id, err := g.authenticate(ctx, header)
	if err == nil || errors.Is(err, model.ErrBackendUnavailable) {
		return id, err
	}

	if wait := g.failureDelay - time.Since(start); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	return nil, err
}

func (g *Gate) authenticate(ctx context.Context, header string) (*Identity, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || !strings.HasPrefix(raw, Prefix) {
		return nil, model.ErrUnauthorized
	}
	u, err := g.users.GetByAPIKeyHash(g.Hash(raw))
	if err != nil {
		g.logger.Error("look up api key", "error", err)
		if errors.Is(err, model.ErrBackendUnavailable) {
			return nil, err
		}
		return nil, model.ErrUnauthorized
	}
	if u == nil {
		return nil, model.ErrUnauthorized
	}

	touchCtx, cancel := context.WithTimeout(ctx, touchTimeout)
	defer cancel()
	if err := g.users.TouchAPIKey(touchCtx, u.ID, g.now()); err != nil {
		g.logger.Warn("touch api key", "user_id", u.ID, "error", err)
	}

	return &Identity{UserID: u.ID, Email: u.Email}, nil
}

// CheckAccess reports whether userID owns storeID or it is shared with them.
func (g *Gate) CheckAccess(ctx context.Context, userID, storeID string) (bool, error) {
	s, err := g.stores.Get(ctx, storeID)
	if err != nil {
		return false, err
	}
	return s != nil && s.HasAccess(userID), nil
}

// RateLimit counts one request for identity. A limiter error lets the request
// through.
func (g *Gate) RateLimit(identity string) Decision {
	d, err := g.limiter.Allow(identity, g.limit, g.window)
	if err != nil {
		g.logger.Warn("rate limiter unavailable, allowing request", "identity", identity, "error", err)
		return Decision{
			Allowed:   true,
			Limit:     g.limit,
			Remaining: g.limit - 1,
			ResetAt:   g.now().Add(g.window),
		}
	}
	return d
}
