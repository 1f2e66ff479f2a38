package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// StaleRunMessage is written into runs abandoned by a previous process.
const StaleRunMessage = "stale: abandoned by previous process"

// CleanupService detects sync runs stuck in running past their expected
// duration and, when configured, closes them as failed.
type CleanupService struct {
	runs   SyncRunStore
	logger *logrus.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// CleanupConfig defines cleanup configuration
type CleanupConfig struct {
	StaleAfter      time.Duration `yaml:"stale_after" default:"6h"`
	MarkStaleFailed bool          `yaml:"mark_stale_failed" default:"true"`
	Interval        time.Duration `yaml:"interval" default:"15m"`
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(runs SyncRunStore, logger *logrus.Logger) *CleanupService {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CleanupService{
		runs:   runs,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start sweeps once immediately and then on every interval until Stop.
func (c *CleanupService) Start(config CleanupConfig) {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	c.logger.WithFields(logrus.Fields{
		"stale_after": config.StaleAfter.String(),
		"interval":    config.Interval.String(),
	}).Info("Starting stale run cleanup service")

	go func() {
		if _, err := c.SweepStaleRuns(c.ctx, config); err != nil {
			c.logger.WithError(err).Error("Initial stale run sweep failed")
		}
	}()

	ticker := time.NewTicker(config.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.SweepStaleRuns(c.ctx, config); err != nil {
					c.logger.WithError(err).Error("Stale run sweep failed")
				}
			}
		}
	}()
}

// Stop stops the cleanup service
func (c *CleanupService) Stop() {
	c.logger.Info("Stopping stale run cleanup service")
	c.cancel()
}

// FindStaleRuns returns running rows older than StaleAfter.
func (c *CleanupService) FindStaleRuns(ctx context.Context, staleAfter time.Duration) ([]models.SyncRun, error) {
	if staleAfter <= 0 {
		return nil, nil
	}
	runs, err := c.runs.ListStale(ctx, c.now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	return runs, nil
}

// SweepStaleRuns finds stale runs and marks them failed when configured to.
// It returns the stale runs found.
func (c *CleanupService) SweepStaleRuns(ctx context.Context, config CleanupConfig) ([]models.SyncRun, error) {
	stale, err := c.FindStaleRuns(ctx, config.StaleAfter)
	if err != nil {
		return nil, err
	}

	for _, run := range stale {
		entry := c.logger.WithFields(logrus.Fields{
			"run_id":     run.RunID.String(),
			"started_at": run.StartedAt.Format(time.RFC3339),
			"hostname":   run.Hostname,
			"processed":  run.Processed,
		})
		if !config.MarkStaleFailed {
			entry.Warn("Found stale sync run")
			continue
		}

		marked, err := c.runs.MarkFailed(ctx, run.RunID, StaleRunMessage, c.now())
		if err != nil {
			return stale, fmt.Errorf("failed to mark run %s as failed: %w", run.RunID, err)
		}
		if marked {
			entry.Warn("Marked stale sync run as failed")
		}
	}
	return stale, nil
}
