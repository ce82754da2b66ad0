// Package main is the entrypoint for the forge3d studio server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/forge3d/internal/api"
	mw "github.com/kiranshivaraju/forge3d/internal/api/middleware"
	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/backend"
	"github.com/kiranshivaraju/forge3d/internal/cache"
	"github.com/kiranshivaraju/forge3d/internal/config"
	"github.com/kiranshivaraju/forge3d/internal/genapi"
	"github.com/kiranshivaraju/forge3d/internal/metrics"
	"github.com/kiranshivaraju/forge3d/internal/poller"
	"github.com/kiranshivaraju/forge3d/internal/progress"
	"github.com/kiranshivaraju/forge3d/internal/store"
	"github.com/kiranshivaraju/forge3d/internal/studio"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

// pinger is satisfied by both the store and the cache.
type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	setupLogger(slog.LevelInfo)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Server.LogLevel)
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"generation_api", cfg.Generation.BaseURL,
		"backend_api", cfg.Backend.BaseURL,
	)

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
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Upstream clients and the studio service
	pgStore := store.NewPostgresStore(pool)
	gen := genapi.NewHTTPClient(cfg.Generation.BaseURL, cfg.Generation.Timeout)
	be := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	svc := studio.NewService(gen, be, pgStore, redisCache, studio.Options{
		Progress: progress.Params{
			WaitingCeiling:    cfg.Progress.WaitingCeiling,
			ProcessingCeiling: cfg.Progress.ProcessingCeiling,
			FallbackTotal:     cfg.Progress.FallbackTotal,
		},
		Poll: poller.Config{
			Interval:         cfg.Poll.Interval,
			FailureThreshold: cfg.Poll.FailureThreshold,
		},
		TerminalTTL: cfg.Limits.TerminalStatusTTL,
		IdleTTL:     cfg.Limits.WorkspaceIdleTTL,
	})
	defer svc.Close()

	metrics.MustRegister()

	// 6. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.JWTSecret)
	if !auth.Verifies() {
		slog.Warn("AUTH_JWT_SECRET not set, identity tokens will be checked with the bookkeeping backend")
	}

	deps := api.Dependencies{
		Auth:             auth,
		SubmitLimit:      mw.NewRateLimit(redisCache, "submit", cfg.Limits.SubmitPerMinute),
		EarlyAccessLimit: mw.NewRateLimit(redisCache, "early_access", cfg.Limits.EarlyAccessPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.Handler(),
	}.WithStudio(svc)

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// image uploads and upstream submissions can be slow
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
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
