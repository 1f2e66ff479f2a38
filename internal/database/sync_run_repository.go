package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/irfndi/celebrum-pricesync/internal/models"
)

// ErrRunNotFound is returned when no sync run has the requested id.
var ErrRunNotFound = errors.New("sync run not found")

const syncRunColumns = `run_id, started_at, completed_at, status, total_symbols, processed, primary_success, fallback_success, failed, skipped, up_to_date, records_upserted, provider_stats, duration_ms, environment, hostname, error_message`

const (
	insertSyncRunSQL = `INSERT INTO sync_runs (run_id, started_at, status, total_symbols, provider_stats, environment, hostname) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateSyncRunSQL = `UPDATE sync_runs SET completed_at = $2, status = $3, total_symbols = $4, processed = $5, primary_success = $6, fallback_success = $7, failed = $8, skipped = $9, up_to_date = $10, records_upserted = $11, provider_stats = $12, duration_ms = $13, error_message = $14 WHERE run_id = $1 AND status = 'running'`

	getSyncRunSQL = `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE run_id = $1`

	listRecentSyncRunsSQL = `SELECT ` + syncRunColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT $1`

	listStaleSyncRunsSQL = `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE status = 'running' AND started_at < $1 ORDER BY started_at`

	markSyncRunFailedSQL = `UPDATE sync_runs SET status = 'failed', error_message = $2, completed_at = $3, duration_ms = (EXTRACT(EPOCH FROM ($3 - started_at)) * 1000)::bigint WHERE run_id = $1 AND status = 'running'`
)

// SyncRunRepository persists the sync run audit trail.
type SyncRunRepository struct {
	pool DatabasePool
}

func NewSyncRunRepository(pool DatabasePool) *SyncRunRepository {
	return &SyncRunRepository{pool: pool}
}

// Create inserts a new run row.
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	stats, err := encodeProviderStats(run.ProviderStats)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, insertSyncRunSQL,
		run.RunID, run.StartedAt, string(run.Status), run.TotalSymbols, stats, run.Environment, run.Hostname)
	if err != nil {
		return fmt.Errorf("failed to create sync run %s: %w", run.RunID, err)
	}
	return nil
}

// Update overwrites the counters and status of a run that is still running.
// A row finalized elsewhere is left alone and models.ErrRunFinalized returned.
func (r *SyncRunRepository) Update(ctx context.Context, run *models.SyncRun) error {
	stats, err := encodeProviderStats(run.ProviderStats)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, updateSyncRunSQL,
		run.RunID,
		run.CompletedAt,
		string(run.Status),
		run.TotalSymbols,
		run.Processed,
		run.PrimarySuccess,
		run.FallbackSuccess,
		run.Failed,
		run.Skipped,
		run.UpToDate,
		run.RecordsUpserted,
		stats,
		run.TotalDuration.Milliseconds(),
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run %s: %w", run.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", models.ErrRunFinalized, run.RunID)
	}
	return nil
}

// Get returns the run with the given id.
func (r *SyncRunRepository) Get(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error) {
	run, err := scanSyncRun(r.pool.QueryRow(ctx, getSyncRunSQL, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run %s: %w", runID, err)
	}
	return run, nil
}

// ListRecent returns the newest runs first.
func (r *SyncRunRepository) ListRecent(ctx context.Context, limit int) ([]models.SyncRun, error) {
	return r.list(ctx, "recent", listRecentSyncRunsSQL, limit)
}

// ListStale returns runs still marked running that started before startedBefore.
func (r *SyncRunRepository) ListStale(ctx context.Context, startedBefore time.Time) ([]models.SyncRun, error) {
	return r.list(ctx, "stale", listStaleSyncRunsSQL, startedBefore)
}

// MarkFailed closes a running row as failed. It reports false when the run
// was already terminal or does not exist.
func (r *SyncRunRepository) MarkFailed(ctx context.Context, runID uuid.UUID, message string, completedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, markSyncRunFailedSQL, runID, message, completedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark sync run %s failed: %w", runID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SyncRunRepository) list(ctx context.Context, what, query string, arg interface{}) ([]models.SyncRun, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s sync runs: %w", what, err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}
	return runs, nil
}

func scanSyncRun(row pgx.Row) (*models.SyncRun, error) {
	var (
		run        models.SyncRun
		status     string
		stats      []byte
		durationMs int64
	)
	err := row.Scan(
		&run.RunID,
		&run.StartedAt,
		&run.CompletedAt,
		&status,
		&run.TotalSymbols,
		&run.Processed,
		&run.PrimarySuccess,
		&run.FallbackSuccess,
		&run.Failed,
		&run.Skipped,
		&run.UpToDate,
		&run.RecordsUpserted,
		&stats,
		&durationMs,
		&run.Environment,
		&run.Hostname,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	run.Status = models.SyncRunStatus(status)
	run.TotalDuration = time.Duration(durationMs) * time.Millisecond
	run.ProviderStats = make(map[string]models.ProviderTally)
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &run.ProviderStats); err != nil {
			return nil, fmt.Errorf("failed to decode provider stats: %w", err)
		}
	}
	return &run, nil
}

func encodeProviderStats(stats map[string]models.ProviderTally) (string, error) {
	if stats == nil {
		return "{}", nil
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "", fmt.Errorf("failed to encode provider stats: %w", err)
	}
	return string(b), nil
}
