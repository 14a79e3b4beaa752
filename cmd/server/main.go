// Package main is the entrypoint for the dispatch API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/repairgrid/dispatch/internal/api"
	"github.com/repairgrid/dispatch/internal/api/handler"
	mw "github.com/repairgrid/dispatch/internal/api/middleware"
	"github.com/repairgrid/dispatch/internal/api/response"
	"github.com/repairgrid/dispatch/internal/cache"
	"github.com/repairgrid/dispatch/internal/claim"
	"github.com/repairgrid/dispatch/internal/config"
	"github.com/repairgrid/dispatch/internal/feed"
	"github.com/repairgrid/dispatch/internal/notify"
	"github.com/repairgrid/dispatch/internal/push"
	"github.com/repairgrid/dispatch/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "max_active_jobs", cfg.Claim.MaxActiveJobs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache and event broker
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	broker, err := notify.NewRedisBroker(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create event broker: %w", err)
	}
	defer broker.Close()

	// 5. Create core services
	pgStore := store.NewPostgresStore(pool)

	feedSvc := feed.NewService(pgStore)
	coordinator := claim.NewCoordinator(pgStore, broker,
		cfg.Claim.MaxActiveJobs, cfg.Claim.RetryAttempts, cfg.Claim.RetryBackoff)

	gateway := push.NewHTTPGateway(cfg.Push.GatewayURL, cfg.Push.AuthToken, cfg.Push.Timeout)
	dispatcher := push.NewDispatcher(pgStore, redisCache, gateway,
		cfg.Push.Concurrency, cfg.Push.DeepLinkBase)

	hub := notify.NewHub(pgStore)
	watcher := notify.NewWatcher(pool, broker, redisCache, pgStore, dispatcher)

	go func() {
		if err := hub.Run(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session hub stopped", "error", err)
		}
	}()
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("job event watcher stopped", "error", err)
		}
	}()

	// 6. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Feed.RequestsPerMinute)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),
		FeedHandler:   handler.NewFeedHandler(feedSvc),
		ClaimHandler:  handler.NewClaimHandler(coordinator),
		StreamHandler: handler.NewStreamHandler(hub, pgStore),

		RegisterDeviceHandler: handler.NewRegisterDeviceHandler(pgStore),
		RemoveDeviceHandler:   handler.NewRemoveDeviceHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoint holds connections open
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
