package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/aisle/internal/config"
	"github.com/dukerupert/aisle/internal/database"
	"github.com/dukerupert/aisle/internal/email"
	"github.com/dukerupert/aisle/internal/logging"
	"github.com/dukerupert/aisle/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if !emailClient.Configured() {
		slog.Warn("postmark not configured, share invites will not be emailed")
	}
	if cfg.ProviderToken == "" {
		slog.Warn("AISLE_PROVIDER_TOKEN not set, /internal routes are disabled")
	}

	srv := server.New(db, server.Config{
		ProviderToken:  cfg.ProviderToken,
		APIKeyPepper:   cfg.APIKeyPepper,
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateWindow,
		AllowedOrigins: cfg.AllowedOrigins,
		Inviter:        emailClient,
	}, logger)

	// No WriteTimeout: it would also cut off WebSocket subscriptions.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go srv.Relay(bgCtx)

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup(srv.RateWindow())
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("aisle starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
