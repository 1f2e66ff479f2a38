package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

const (
	getFailureSQL = `SELECT symbol, consecutive_failures, last_attempt_at, last_error FROM symbol_failures WHERE symbol = $1`

	incrementFailureSQL = `INSERT INTO symbol_failures (symbol, consecutive_failures, last_attempt_at, last_error) VALUES ($1, 1, $2, $3) ON CONFLICT (symbol) DO UPDATE SET consecutive_failures = symbol_failures.consecutive_failures + 1, last_attempt_at = EXCLUDED.last_attempt_at, last_error = EXCLUDED.last_error RETURNING consecutive_failures`

	resetFailureSQL = `DELETE FROM symbol_failures WHERE symbol = $1`

	listExhaustedSQL = `SELECT symbol, consecutive_failures, last_attempt_at, last_error FROM symbol_failures WHERE consecutive_failures >= $1 ORDER BY last_attempt_at DESC`
)

// maxErrorLen bounds the stored last_error text.
const maxErrorLen = 1024

// FailureRepository persists per-symbol consecutive failure counters.
type FailureRepository struct {
	pool DatabasePool
}

func NewFailureRepository(pool DatabasePool) *FailureRepository {
	return &FailureRepository{pool: pool}
}

// Get returns the record for symbol, or nil when it has no failures.
func (r *FailureRepository) Get(ctx context.Context, symbol string) (*models.FailureRecord, error) {
	var rec models.FailureRecord
	err := r.pool.QueryRow(ctx, getFailureSQL, symbol).Scan(
		&rec.Symbol,
		&rec.ConsecutiveFailures,
		&rec.LastAttemptAt,
		&rec.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failure record for %s: %w", symbol, err)
	}
	return &rec, nil
}

// Increment atomically bumps the counter and returns the new value.
func (r *FailureRepository) Increment(ctx context.Context, symbol, lastError string, at time.Time) (int, error) {
	lastError = models.TruncateText(lastError, maxErrorLen)
	var count int
	if err := r.pool.QueryRow(ctx, incrementFailureSQL, symbol, at, lastError).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment failure record for %s: %w", symbol, err)
	}
	return count, nil
}

// Reset clears the counter for symbol. Resetting a clean symbol is a no-op.
func (r *FailureRepository) Reset(ctx context.Context, symbol string) error {
	if _, err := r.pool.Exec(ctx, resetFailureSQL, symbol); err != nil {
		return fmt.Errorf("failed to reset failure record for %s: %w", symbol, err)
	}
	return nil
}

// ListExhausted returns symbols with at least minFailures consecutive failures.
func (r *FailureRepository) ListExhausted(ctx context.Context, minFailures int) ([]models.FailureRecord, error) {
	rows, err := r.pool.Query(ctx, listExhaustedSQL, minFailures)
	if err != nil {
		return nil, fmt.Errorf("failed to list exhausted symbols: %w", err)
	}
	defer rows.Close()

	var out []models.FailureRecord
	for rows.Next() {
		var rec models.FailureRecord
		if err := rows.Scan(&rec.Symbol, &rec.ConsecutiveFailures, &rec.LastAttemptAt, &rec.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan failure record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failure records: %w", err)
	}
	return out, nil
}
