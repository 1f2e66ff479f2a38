// Command server exposes the operator status API for sync runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-pricesync/internal/api"
	"github.com/irfndi/celebrum-pricesync/internal/api/handlers"
	"github.com/irfndi/celebrum-pricesync/internal/cache"
	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/database"
	"github.com/irfndi/celebrum-pricesync/internal/logging"
	"github.com/irfndi/celebrum-pricesync/internal/middleware"
	"github.com/irfndi/celebrum-pricesync/internal/services"
	"github.com/irfndi/celebrum-pricesync/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("Failed to shutdown telemetry")
		}
	}()

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	pool := database.NewTracedPool(db.Pool)

	runRepo := database.NewSyncRunRepository(pool)
	failureRepo := database.NewFailureRepository(pool)
	tracker := services.NewFailureTracker(failureRepo, cfg.Sync.MaxStockFailureRetries, logger)

	cleanupService := services.NewCleanupService(runRepo, logger)
	cleanupService.Start(services.CleanupConfig{
		StaleAfter:      cfg.Sync.StaleAfter,
		MarkStaleFailed: cfg.Sync.MarkStaleFailed,
	})
	defer cleanupService.Stop()

	checks := map[string]handlers.HealthChecker{"database": db}
	syncDeps := handlers.SyncHandlerDeps{
		Runs:       runRepo,
		Stale:      cleanupService,
		Failures:   failureRepo,
		Resetter:   tracker,
		MaxRetries: cfg.Sync.MaxStockFailureRetries,
		StaleAfter: cfg.Sync.StaleAfter,
		Logger:     logger,
	}
	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, breaker and lock views disabled")
		} else {
			defer rc.Close()
			checks["redis"] = rc
			syncDeps.Breakers = cache.NewBreakerStatePublisher(rc.Client, 0)
			syncDeps.Lock = cache.NewRunLock(rc.Client, "")
		}
	}

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.RouteDeps{
		ServiceName: cfg.Telemetry.ServiceName,
		Health:      handlers.NewHealthHandler(checks, cfg.Telemetry.ServiceVersion),
		Sync:        handlers.NewSyncHandler(syncDeps),
		Admin:       middleware.NewAdminMiddleware(cfg.Security),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Status server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down status server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited gracefully")
	return nil
}
