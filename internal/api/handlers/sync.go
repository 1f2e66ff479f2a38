package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-pricesync/internal/database"
	"github.com/irfndi/celebrum-pricesync/internal/models"
	"github.com/irfndi/celebrum-pricesync/internal/services"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// RunReader reads the sync run audit table.
type RunReader interface {
	ListRecent(ctx context.Context, limit int) ([]models.SyncRun, error)
	Get(ctx context.Context, runID uuid.UUID) (*models.SyncRun, error)
}

// StaleRunFinder reports running rows older than a threshold.
type StaleRunFinder interface {
	FindStaleRuns(ctx context.Context, staleAfter time.Duration) ([]models.SyncRun, error)
}

// FailureLister lists symbols whose failure counter reached a threshold.
type FailureLister interface {
	ListExhausted(ctx context.Context, minFailures int) ([]models.FailureRecord, error)
}

// FailureResetter clears a symbol's failure budget.
type FailureResetter interface {
	Reset(ctx context.Context, symbol string) error
}

// BreakerStateReader returns the last published breaker snapshots.
type BreakerStateReader interface {
	BreakerStates(ctx context.Context) (map[string]services.BreakerSnapshot, error)
}

// LockReader returns the current run lock owner.
type LockReader interface {
	Holder(ctx context.Context) (string, error)
}

// SyncHandlerDeps groups the stores the status endpoints read.
// Breakers and Lock are optional and only available with Redis.
type SyncHandlerDeps struct {
	Runs       RunReader
	Stale      StaleRunFinder
	Failures   FailureLister
	Resetter   FailureResetter
	Breakers   BreakerStateReader
	Lock       LockReader
	MaxRetries int
	StaleAfter time.Duration
	Logger     *logrus.Logger
}

// SyncHandler serves the operator view of sync runs and failure budgets.
type SyncHandler struct {
	deps SyncHandlerDeps
}

func NewSyncHandler(deps SyncHandlerDeps) *SyncHandler {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &SyncHandler{deps: deps}
}

// ListRuns returns the most recent runs, newest first.
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.deps.Runs.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "Failed to list sync runs", err)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetRun returns one run by id.
func (h *SyncHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.deps.Runs.Get(c.Request.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to load sync run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListStaleRuns reports runs stuck in running past the stale threshold.
func (h *SyncHandler) ListStaleRuns(c *gin.Context) {
	runs, err := h.deps.Stale.FindStaleRuns(c.Request.Context(), h.deps.StaleAfter)
	if err != nil {
		h.internalError(c, "Failed to list stale runs", err)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	c.JSON(http.StatusOK, gin.H{
		"stale_after": h.deps.StaleAfter.String(),
		"runs":        runs,
		"count":       len(runs),
	})
}

// ListFailures lists symbols at or over the failure budget, or over ?min=.
func (h *SyncHandler) ListFailures(c *gin.Context) {
	threshold := h.deps.MaxRetries
	if raw := c.Query("min"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min must be a positive integer"})
			return
		}
		threshold = n
	}

	recs, err := h.deps.Failures.ListExhausted(c.Request.Context(), threshold)
	if err != nil {
		h.internalError(c, "Failed to list failure records", err)
		return
	}
	if recs == nil {
		recs = []models.FailureRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"min_failures": threshold,
		"max_retries":  h.deps.MaxRetries,
		"symbols":      recs,
		"count":        len(recs),
	})
}

// ResetFailure clears one symbol's counter so the next run retries it.
func (h *SyncHandler) ResetFailure(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	if err := h.deps.Resetter.Reset(c.Request.Context(), symbol); err != nil {
		h.internalError(c, "Failed to reset failure record", err)
		return
	}

	h.deps.Logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"admin":  c.GetString("admin_subject"),
	}).Info("Failure budget reset by operator")
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "reset": true})
}

// BreakerStates returns the last snapshot published for each provider.
func (h *SyncHandler) BreakerStates(c *gin.Context) {
	if h.deps.Breakers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "breaker state requires redis"})
		return
	}
	states, err := h.deps.Breakers.BreakerStates(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to read breaker states", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakers": states})
}

// LockStatus reports whether a sync run currently holds the run lock.
func (h *SyncHandler) LockStatus(c *gin.Context) {
	if h.deps.Lock == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run lock requires redis"})
		return
	}
	holder, err := h.deps.Lock.Holder(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to read run lock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": holder != "", "holder": holder})
}

func (h *SyncHandler) internalError(c *gin.Context, msg string, err error) {
	h.deps.Logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
