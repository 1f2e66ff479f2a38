// Command sync runs one daily price sync batch and exits.
//
// Exit codes: 0 when the run completed (or another run already holds the
// lock), 1 when the run failed, 2 on configuration or startup errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/cache"
	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/database"
	"github.com/irfndi/celebrum-pricesync/internal/logging"
	"github.com/irfndi/celebrum-pricesync/internal/models"
	"github.com/irfndi/celebrum-pricesync/internal/providers"
	"github.com/irfndi/celebrum-pricesync/internal/services"
	"github.com/irfndi/celebrum-pricesync/internal/telemetry"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitStartup   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitStartup
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Environment)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize telemetry")
		return exitStartup
	}
	defer flush("tracer provider", logger, shutdownTracing)

	if cfg.Telemetry.Enabled && cfg.Telemetry.OTLPEndpoint != "" {
		hook, err := logging.NewOTLPHook(ctx, logging.OTLPConfig{
			Endpoint:       cfg.Telemetry.OTLPEndpoint,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Environment,
		})
		if err != nil {
			logger.WithError(err).Warn("OTLP log export disabled")
		} else {
			logger.AddHook(hook)
			defer flush("log exporter", logger, hook.Shutdown)
		}
	}

	orch, cleanup, err := build(ctx, cfg, logger)
	defer cleanup()
	if err != nil {
		logger.WithError(err).Error("Sync startup failed")
		return exitStartup
	}

	result, err := orch.Run(ctx)
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		logger.Warn("Another sync run holds the lock, nothing to do")
		return exitCompleted
	case result == nil:
		logger.WithError(err).Error("Sync run failed before a run record was written")
		return exitFailed
	case result.Status == models.SyncRunCompleted:
		return exitCompleted
	default:
		logger.WithFields(logrus.Fields{
			"run_id": result.RunID.String(),
			"error":  result.ErrorMessage,
		}).Error("Sync run failed")
		return exitFailed
	}
}

// build wires stores, providers and the orchestrator. The returned cleanup
// func is always safe to call.
func build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*services.Orchestrator, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return nil, cleanup, err
	}
	closers = append(closers, db.Close)

	pool := database.NewTracedPool(db.Pool)
	if cfg.Database.AutoMigrate {
		if err := database.EnsureSchema(ctx, pool); err != nil {
			return nil, cleanup, err
		}
	}

	runRepo := database.NewSyncRunRepository(pool)
	symbolRepo := database.NewSymbolRepository(pool)

	optimizer := services.NewResourceOptimizer(logger)
	host := optimizer.SystemInfo(ctx)
	logger.WithFields(logrus.Fields{
		"hostname":  host.Hostname,
		"platform":  host.Platform,
		"cpu_cores": host.CPUCores,
		"memory_gb": fmt.Sprintf("%.1f", host.MemoryGB),
	}).Info("Sync host resources")

	ocfg := services.NewOrchestratorConfig(cfg, host.Hostname)
	ocfg.Workers = optimizer.OptimalWorkers(ctx, cfg.Sync.Workers)

	chain, err := providers.BuildChain(cfg.Providers, logger)
	if err != nil {
		return nil, cleanup, err
	}

	deps := services.OrchestratorDeps{
		Providers: chain,
		Breakers:  services.NewCircuitBreakerManager(logger),
		Rates:     services.NewRateController(logger),
		Failures:  database.NewFailureRepository(pool),
		Prices:    database.NewPriceRepository(pool),
		Runs:      runRepo,
		Symbols:   symbolRepo,
		Cleanup:   services.NewCleanupService(runRepo, logger),
		Logger:    logger,
	}

	if cfg.Redis.Enabled {
		rc, err := database.NewRedisConnection(ctx, cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, running without run lock or symbol cache")
		} else {
			closers = append(closers, rc.Close)
			deps.Symbols = cache.NewSymbolUniverseCache(rc.Client, symbolRepo, cfg.Sync.SymbolCacheTTL, logger)
			deps.Lock = cache.NewRunLock(rc.Client, "")
			deps.Publisher = cache.NewBreakerStatePublisher(rc.Client, 0)
		}
	}

	notifier, err := services.NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Environment, logger)
	if err != nil {
		logger.WithError(err).Warn("Telegram alerts disabled")
	} else {
		deps.Notifier = notifier
	}

	orch, err := services.NewOrchestrator(ocfg, deps)
	if err != nil {
		return nil, cleanup, err
	}
	return orch, cleanup, nil
}

func flush(what string, logger *logrus.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).Warnf("Failed to flush %s", what)
	}
}
