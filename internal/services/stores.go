package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// PriceStore persists daily bars keyed by (symbol, trade date).
type PriceStore interface {
	// UpsertPrices writes bars, overwriting existing rows for the same day.
	UpsertPrices(ctx context.Context, symbol, source string, bars []models.PriceBar) (int64, error)
	// ListDates returns the stored trade dates for symbol within [from, to], ascending.
	ListDates(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error)
}

// SyncRunStore is the audit trail of orchestrator runs.
type SyncRunStore interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Update(ctx context.Context, run *models.SyncRun) error
	ListStale(ctx context.Context, startedBefore time.Time) ([]models.SyncRun, error)
	MarkFailed(ctx context.Context, runID uuid.UUID, message string, completedAt time.Time) (bool, error)
}

// FailureStore persists per-symbol consecutive failure counters.
type FailureStore interface {
	Get(ctx context.Context, symbol string) (*models.FailureRecord, error)
	Increment(ctx context.Context, symbol, lastError string, at time.Time) (int, error)
	Reset(ctx context.Context, symbol string) error
}

// SymbolSource yields the universe of symbols to sync.
type SymbolSource interface {
	ListActive(ctx context.Context) ([]string, error)
}

// RunLock prevents two sync processes from running at once.
type RunLock interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

// Notifier delivers operator alerts. Implementations must not block for long.
type Notifier interface {
	NotifyRunFailed(ctx context.Context, run *models.SyncRun) error
	NotifyBreakerOpen(ctx context.Context, snapshot BreakerSnapshot) error
}

// StoreError marks a persistence failure so the orchestrator can tell it
// apart from provider errors.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
