// Package main is the entrypoint for the AccessGate API server.
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

	"github.com/edustack/accessgate/internal/api"
	"github.com/edustack/accessgate/internal/api/handler"
	mw "github.com/edustack/accessgate/internal/api/middleware"
	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/cache"
	"github.com/edustack/accessgate/internal/config"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/metrics"
	"github.com/edustack/accessgate/internal/session"
	"github.com/edustack/accessgate/internal/store"
	"github.com/edustack/accessgate/internal/token"
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
	slog.Info("config loaded", "env", cfg.Server.Env)

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

	// 5. Register metrics
	metrics.Init()

	// 6. Wire core components
	pgStore := store.NewPostgresStore(pool)
	accessGate := gate.New(pgStore, redisCache)
	broker := token.NewBroker(pgStore, cfg.Token)
	sessions := session.NewManager(cfg.Session)

	auth := mw.NewAuth(sessions, accessGate)
	familyLimit := mw.NewFamilyRateLimit(redisCache, cfg.Token.AttemptsPerMinute)

	deps := api.Dependencies{
		Auth:            auth,
		FamilyRateLimit: familyLimit,

		HealthHandler: healthHandler(pgStore, redisCache),
		LoginHandler:  handler.NewLoginHandler(pgStore, sessions),
		MeHandler:     handler.NewMeHandler(),

		FamilyAccessHandler:   handler.NewFamilyAccessHandler(broker, pgStore),
		FamilyCommentHandler:  handler.NewFamilyCommentHandler(broker),
		FamilyApprovalHandler: handler.NewFamilyApprovalHandler(broker),

		CreatePlanHandler:   handler.NewCreatePlanHandler(pgStore),
		ListPlansHandler:    handler.NewListPlansHandler(pgStore),
		GetPlanHandler:      handler.NewGetPlanHandler(pgStore),
		ListCommentsHandler: handler.NewListCommentsHandler(pgStore),
		AddCommentHandler:   handler.NewAddCommentHandler(pgStore),

		IssueTokenHandler: handler.NewIssueTokenHandler(broker),
		ListTokensHandler: handler.NewListTokensHandler(broker),

		ActivatePrincipalHandler: handler.NewActivatePrincipalHandler(pgStore, accessGate),
		AssignRoleHandler:        handler.NewAssignRoleHandler(pgStore, accessGate),
		SetScopeHandler:          handler.NewSetScopeHandler(pgStore, accessGate),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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
