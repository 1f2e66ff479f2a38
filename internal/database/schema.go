package database

import (
	"context"
	"fmt"
)

// schemaStatements create the tables the sync core reads and writes. They
// are idempotent so EnsureSchema can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS symbols (
		code       TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		exchange   TEXT NOT NULL DEFAULT '',
		is_active  BOOLEAN NOT NULL DEFAULT true,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_prices (
		symbol         TEXT NOT NULL,
		trade_date     DATE NOT NULL,
		open           NUMERIC(20, 6) NOT NULL,
		high           NUMERIC(20, 6) NOT NULL,
		low            NUMERIC(20, 6) NOT NULL,
		close          NUMERIC(20, 6) NOT NULL,
		adjusted_close NUMERIC(20, 6) NOT NULL,
		volume         BIGINT NOT NULL,
		source         TEXT NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (symbol, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		run_id           UUID PRIMARY KEY,
		started_at       TIMESTAMPTZ NOT NULL,
		completed_at     TIMESTAMPTZ,
		status           TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
		total_symbols    INTEGER NOT NULL DEFAULT 0,
		processed        INTEGER NOT NULL DEFAULT 0,
		primary_success  INTEGER NOT NULL DEFAULT 0,
		fallback_success INTEGER NOT NULL DEFAULT 0,
		failed           INTEGER NOT NULL DEFAULT 0,
		skipped          INTEGER NOT NULL DEFAULT 0,
		up_to_date       INTEGER NOT NULL DEFAULT 0,
		records_upserted BIGINT NOT NULL DEFAULT 0,
		provider_stats   JSONB NOT NULL DEFAULT '{}'::jsonb,
		duration_ms      BIGINT NOT NULL DEFAULT 0,
		environment      TEXT NOT NULL DEFAULT '',
		hostname         TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_status_started ON sync_runs (status, started_at)`,
	`CREATE TABLE IF NOT EXISTS symbol_failures (
		symbol               TEXT PRIMARY KEY,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_attempt_at      TIMESTAMPTZ NOT NULL,
		last_error           TEXT NOT NULL DEFAULT ''
	)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, pool DatabasePool) error {
	for i, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
