package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/docstore"
	"github.com/dukerupert/aisle/internal/handler"
	"github.com/dukerupert/aisle/internal/learned"
	"github.com/dukerupert/aisle/internal/middleware"
	"github.com/dukerupert/aisle/internal/model"
	"github.com/dukerupert/aisle/internal/registry"
	"github.com/dukerupert/aisle/internal/shopping"
	"github.com/dukerupert/aisle/internal/store"
	ws "github.com/dukerupert/aisle/internal/websocket"
)

type Config struct {
	// ProviderToken guards /internal. Empty disables those routes.
	ProviderToken  string
	APIKeyPepper   string
	RateLimit      int
	RateWindow     time.Duration
	AllowedOrigins []string
	// Inviter sends pending-share emails. Nil disables them.
	Inviter handler.Inviter
}

type Server struct {
	docs          *docstore.SQLiteStore
	hub           *ws.Hub
	storeH        *handler.StoreHandler
	itemH         *handler.ItemHandler
	userH         *handler.UserHandler
	subscribeH    *handler.SubscribeHandler
	gate          *apikey.Gate
	rateLimiter   *middleware.RateLimiter
	rateWindow    time.Duration
	providerToken string
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	docs := docstore.NewSQLiteStore(db)
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	reg := registry.New(docs, userStore, logger)
	ranker := learned.NewRanker(docs)
	mutator := shopping.NewMutator(docs, ranker, logger)

	limiter := middleware.NewRateLimiter()
	gate := apikey.New(userStore, reg, limiter, logger,
		apikey.WithPepper(cfg.APIKeyPepper),
		apikey.WithRateLimit(cfg.RateLimit, cfg.RateWindow),
	)

	window := cfg.RateWindow
	if window <= 0 {
		window = apikey.DefaultWindow
	}

	return &Server{
		docs:          docs,
		hub:           hub,
		storeH:        handler.NewStoreHandler(reg, cfg.Inviter, logger.With("component", "store")),
		itemH:         handler.NewItemHandler(reg, mutator, ranker, logger.With("component", "item")),
		userH:         handler.NewUserHandler(userStore, reg, gate, logger.With("component", "user")),
		subscribeH:    handler.NewSubscribeHandler(reg, hub, cfg.AllowedOrigins, logger.With("component", "subscribe")),
		gate:          gate,
		rateLimiter:   limiter,
		rateWindow:    window,
		providerToken: cfg.ProviderToken,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// RateWindow is the window the limiter's entries should be pruned against.
func (s *Server) RateWindow() time.Duration {
	return s.rateWindow
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Relay forwards committed store changes to WebSocket subscribers until ctx
// is done.
func (s *Server) Relay(ctx context.Context) {
	changes, cancel := s.docs.Watch(model.StoresCollection)
	defer cancel()
	s.hub.Relay(ctx, changes)
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", handler.Health(s.docs, s.logger.With("component", "health")))

	// Identity provider routes, shared-secret bearer token
	internalMux := http.NewServeMux()
	s.registerInternalRoutes(internalMux)
	outerMux.Handle("/internal/", middleware.RequireProviderToken(s.providerToken)(internalMux))

	// API routes, API key then per-caller rate limit
	apiMux := http.NewServeMux()
	s.registerAPIRoutes(apiMux)
	rateLimit := middleware.RateLimit(s.gate, middleware.CallerOrIP)
	outerMux.Handle("/", middleware.RequireAPIKey(s.gate)(rateLimit(apiMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /internal/users", s.userH.Create)
	mux.HandleFunc("GET /internal/users/{id}/apikey", s.userH.KeyStatus)
	mux.HandleFunc("POST /internal/users/{id}/apikey", s.userH.GenerateKey)
	mux.HandleFunc("DELETE /internal/users/{id}/apikey", s.userH.RevokeKey)
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Stores
	mux.HandleFunc("GET /stores", s.storeH.List)
	mux.HandleFunc("POST /stores", s.storeH.Create)
	mux.HandleFunc("GET /stores/{id}", s.storeH.Get)
	mux.HandleFunc("PATCH /stores/{id}", s.storeH.UpdateName)
	mux.HandleFunc("DELETE /stores/{id}", s.storeH.Delete)

	// Sections (owner only)
	mux.HandleFunc("PUT /stores/{id}/sections", s.storeH.UpdateSections)
	mux.HandleFunc("POST /stores/{id}/sections", s.storeH.AddSection)
	mux.HandleFunc("DELETE /stores/{id}/sections/{sectionId}", s.storeH.RemoveSection)

	// Sharing (owner only)
	mux.HandleFunc("POST /stores/{id}/shares", s.storeH.Share)
	mux.HandleFunc("DELETE /stores/{id}/shares/{userId}", s.storeH.Unshare)
	mux.HandleFunc("DELETE /stores/{id}/pending-shares/{email}", s.storeH.CancelPendingShare)

	// Shopping list
	mux.HandleFunc("GET /stores/{id}/items", s.itemH.List)
	mux.HandleFunc("POST /stores/{id}/items", s.itemH.Add)
	mux.HandleFunc("PATCH /stores/{id}/items/{itemId}", s.itemH.Update)
	mux.HandleFunc("DELETE /stores/{id}/items/{itemId}", s.itemH.Delete)
	mux.HandleFunc("POST /stores/{id}/items/clear", s.itemH.Clear)
	mux.HandleFunc("POST /stores/{id}/items/uncheck", s.itemH.UncheckAll)

	// Suggestions
	mux.HandleFunc("GET /stores/{id}/learned", s.itemH.Suggest)

	// Live updates
	mux.HandleFunc("GET /stores/{id}/ws", s.subscribeH.Subscribe)
}
