package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SyncRunStatus is the lifecycle state of a sync run row.
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
)

// ErrRunFinalized is returned when a progress write targets a run that is no
// longer running, typically because the stale-run sweeper closed it.
var ErrRunFinalized = errors.New("sync run is no longer running")

// ProviderTally counts per-provider outcomes within a run.
type ProviderTally struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// SyncRun is the durable audit record of one orchestrator invocation.
type SyncRun struct {
	RunID           uuid.UUID                `json:"run_id" db:"run_id"`
	StartedAt       time.Time                `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty" db:"completed_at"`
	Status          SyncRunStatus            `json:"status" db:"status"`
	TotalSymbols    int                      `json:"total_symbols" db:"total_symbols"`
	Processed       int                      `json:"processed" db:"processed"`
	PrimarySuccess  int                      `json:"primary_success" db:"primary_success"`
	FallbackSuccess int                      `json:"fallback_success" db:"fallback_success"`
	Failed          int                      `json:"failed" db:"failed"`
	Skipped         int                      `json:"skipped" db:"skipped"`
	UpToDate        int                      `json:"up_to_date" db:"up_to_date"`
	RecordsUpserted int64                    `json:"records_upserted" db:"records_upserted"`
	ProviderStats   map[string]ProviderTally `json:"provider_stats" db:"provider_stats"`
	TotalDuration   time.Duration            `json:"total_duration" db:"duration_ms"`
	Environment     string                   `json:"environment" db:"environment"`
	Hostname        string                   `json:"hostname" db:"hostname"`
	ErrorMessage    string                   `json:"error_message,omitempty" db:"error_message"`
}

// NewSyncRun creates a running record with a fresh run id.
func NewSyncRun(startedAt time.Time, environment, hostname string) *SyncRun {
	return &SyncRun{
		RunID:         uuid.New(),
		StartedAt:     startedAt,
		Status:        SyncRunRunning,
		ProviderStats: make(map[string]ProviderTally),
		Environment:   environment,
		Hostname:      hostname,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *SyncRun) Clone() *SyncRun {
	cp := *r
	cp.ProviderStats = make(map[string]ProviderTally, len(r.ProviderStats))
	for k, v := range r.ProviderStats {
		cp.ProviderStats[k] = v
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// IsStale reports whether a running row has outlived the expected duration.
func (r *SyncRun) IsStale(now time.Time, staleAfter time.Duration) bool {
	return r.Status == SyncRunRunning && staleAfter > 0 && now.Sub(r.StartedAt) > staleAfter
}

// IsTerminal reports whether the run reached completed or failed.
func (r *SyncRun) IsTerminal() bool {
	return r.Status == SyncRunCompleted || r.Status == SyncRunFailed
}
