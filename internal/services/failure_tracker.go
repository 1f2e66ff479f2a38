package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxRetries is the permanent-skip budget when none is configured.
const DefaultMaxRetries = 3

// FailureTracker enforces the per-symbol retry budget across runs. Once a
// symbol reaches maxRetries consecutive failures it is skipped until an
// operator resets it.
type FailureTracker struct {
	store      FailureStore
	maxRetries int
	logger     *logrus.Logger
	now        func() time.Time
}

func NewFailureTracker(store FailureStore, maxRetries int, logger *logrus.Logger) *FailureTracker {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &FailureTracker{store: store, maxRetries: maxRetries, logger: logger, now: time.Now}
}

func (ft *FailureTracker) MaxRetries() int { return ft.maxRetries }

// ShouldSkip reports whether symbol has exhausted its retry budget.
func (ft *FailureTracker) ShouldSkip(ctx context.Context, symbol string) (bool, error) {
	rec, err := ft.store.Get(ctx, symbol)
	if err != nil {
		return false, storeErr("get failure record", err)
	}
	if rec == nil {
		return false, nil
	}
	return rec.Exhausted(ft.maxRetries), nil
}

// RecordAttempt resets the counter on success and increments it on failure.
func (ft *FailureTracker) RecordAttempt(ctx context.Context, symbol string, succeeded bool, cause error) error {
	if succeeded {
		return storeErr("reset failure record", ft.store.Reset(ctx, symbol))
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	count, err := ft.store.Increment(ctx, symbol, msg, ft.now())
	if err != nil {
		return storeErr("increment failure record", err)
	}

	if count == ft.maxRetries {
		ft.logger.WithFields(logrus.Fields{
			"symbol":               symbol,
			"consecutive_failures": count,
			"last_error":           msg,
		}).Warn("Symbol reached retry budget and will be skipped until reset")
	}
	return nil
}

// Reset clears a symbol's counter, used by the operator API.
func (ft *FailureTracker) Reset(ctx context.Context, symbol string) error {
	return storeErr("reset failure record", ft.store.Reset(ctx, symbol))
}
