package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
	HalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrBreakerOpen is matched by every BreakerOpenError.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerOpenError is returned without calling upstream while a breaker
// rejects traffic.
type BreakerOpenError struct {
	Name       string
	State      CircuitBreakerState
	RetryAfter time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s, retry after %s", e.Name, e.State, e.RetryAfter.Round(time.Second))
}

func (e *BreakerOpenError) Is(target error) bool {
	return target == ErrBreakerOpen
}

// Outcome is how a call result affects breaker state.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	// OutcomeRateLimited only trips the breaker once it repeats
	// RateLimitThreshold times in a row.
	OutcomeRateLimited
	// OutcomeIgnored leaves counters untouched, used for cancellation.
	OutcomeIgnored
)

// DefaultClassifier treats cancellation as ignored and any other error as a failure.
func DefaultClassifier(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeIgnored
	default:
		return OutcomeFailure
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold   int                 `json:"failure_threshold"`    // Failures before opening
	RecoveryTimeout    time.Duration       `json:"recovery_timeout"`     // Time in OPEN before a trial is allowed
	HalfOpenMaxCalls   int                 `json:"half_open_max_calls"`  // Trial calls admitted, and successes needed to close
	RateLimitThreshold int                 `json:"rate_limit_threshold"` // Consecutive rate limits that count as one failure
	Classify           func(error) Outcome `json:"-"`
}

// CircuitBreakerStats holds statistics for the circuit breaker
type CircuitBreakerStats struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	RejectedRequests   int64     `json:"rejected_requests"`
	RateLimited        int64     `json:"rate_limited"`
	LastFailureTime    time.Time `json:"last_failure_time"`
	LastSuccessTime    time.Time `json:"last_success_time"`
	StateChanges       int64     `json:"state_changes"`
}

// BreakerSnapshot is a point-in-time copy of breaker state.
type BreakerSnapshot struct {
	Name              string              `json:"name"`
	State             string              `json:"state"`
	FailureCount      int                 `json:"failure_count"`
	LastFailureTime   time.Time           `json:"last_failure_time"`
	HalfOpenTrials    int                 `json:"half_open_trial_count"`
	HalfOpenSuccesses int                 `json:"half_open_successes"`
	Stats             CircuitBreakerStats `json:"stats"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// StateChangeFunc is invoked after a transition, outside the breaker lock.
type StateChangeFunc func(name string, from, to CircuitBreakerState, snapshot BreakerSnapshot)

// CircuitBreaker implements the circuit breaker pattern. The lock is only
// held while admitting a call and while recording its result, never across
// the call itself.
type CircuitBreaker struct {
	name          string
	config        CircuitBreakerConfig
	logger        *logrus.Logger
	now           func() time.Time
	onStateChange StateChangeFunc

	mu                sync.Mutex
	state             CircuitBreakerState
	failureCount      int
	rateLimitStreak   int
	lastFailureTime   time.Time
	halfOpenTrials    int
	halfOpenSuccesses int
	stats             CircuitBreakerStats
}

type transition struct {
	from, to CircuitBreakerState
	snapshot BreakerSnapshot
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 1
	}
	if config.RateLimitThreshold <= 0 {
		config.RateLimitThreshold = 3
	}
	if config.Classify == nil {
		config.Classify = DefaultClassifier
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
		state:  Closed,
	}
}

// OnStateChange registers a callback for state transitions.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// SetClock replaces the time source.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn with circuit breaker protection. It returns a
// *BreakerOpenError without calling fn when the breaker rejects the call,
// otherwise fn's error unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	start := time.Now()
	err := fn(ctx)
	cb.record(err, time.Since(start))
	return err
}

// ExecuteValue is Execute for calls that return a value.
func ExecuteValue[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Allow reports whether a call would currently be admitted, without
// consuming a half-open trial slot.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		return cb.now().Sub(cb.lastFailureTime) >= cb.config.RecoveryTimeout
	default:
		return cb.halfOpenTrials < cb.config.HalfOpenMaxCalls
	}
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	cb.stats.TotalRequests++

	var tr *transition
	now := cb.now()

	switch cb.state {
	case Open:
		if now.Sub(cb.lastFailureTime) < cb.config.RecoveryTimeout {
			err := cb.rejectLocked(now)
			cb.mu.Unlock()
			return err
		}
		tr = cb.setStateLocked(HalfOpen)
		cb.halfOpenTrials = 1
		cb.halfOpenSuccesses = 0
	case HalfOpen:
		if cb.halfOpenTrials >= cb.config.HalfOpenMaxCalls {
			err := cb.rejectLocked(now)
			cb.mu.Unlock()
			return err
		}
		cb.halfOpenTrials++
	}

	hook := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(hook, tr)
	return nil
}

func (cb *CircuitBreaker) rejectLocked(now time.Time) error {
	cb.stats.RejectedRequests++
	retryAfter := cb.config.RecoveryTimeout - now.Sub(cb.lastFailureTime)
	if retryAfter < 0 {
		retryAfter = 0
	}
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           cb.state.String(),
		"failure_count":   cb.failureCount,
	}).Debug("Circuit breaker rejecting request")
	return &BreakerOpenError{Name: cb.name, State: cb.state, RetryAfter: retryAfter}
}

func (cb *CircuitBreaker) record(err error, duration time.Duration) {
	cb.mu.Lock()
	var tr *transition

	switch cb.config.Classify(err) {
	case OutcomeSuccess:
		tr = cb.onSuccessLocked(duration)
	case OutcomeFailure:
		tr = cb.onFailureLocked(err, duration)
	case OutcomeRateLimited:
		cb.stats.RateLimited++
		cb.rateLimitStreak++
		if cb.state == HalfOpen || cb.rateLimitStreak >= cb.config.RateLimitThreshold {
			cb.rateLimitStreak = 0
			tr = cb.onFailureLocked(err, duration)
		}
	case OutcomeIgnored:
		// The trial never produced a verdict, give the slot back.
		if cb.state == HalfOpen && cb.halfOpenTrials > 0 {
			cb.halfOpenTrials--
		}
	}

	hook := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(hook, tr)
}

func (cb *CircuitBreaker) onSuccessLocked(duration time.Duration) *transition {
	cb.stats.SuccessfulRequests++
	cb.stats.LastSuccessTime = cb.now()
	cb.rateLimitStreak = 0

	var tr *transition
	switch cb.state {
	case Closed:
		cb.failureCount = 0
	case HalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.HalfOpenMaxCalls {
			tr = cb.setStateLocked(Closed)
			cb.failureCount = 0
			cb.halfOpenTrials = 0
			cb.halfOpenSuccesses = 0
		}
	case Open:
		// A call admitted before another worker tripped the breaker.
	}

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           cb.state.String(),
		"duration_ms":     duration.Milliseconds(),
	}).Debug("Circuit breaker: successful execution")
	return tr
}

func (cb *CircuitBreaker) onFailureLocked(err error, duration time.Duration) *transition {
	now := cb.now()
	cb.stats.FailedRequests++
	cb.stats.LastFailureTime = now

	var tr *transition
	switch cb.state {
	case Closed:
		cb.failureCount++
		cb.lastFailureTime = now
		if cb.failureCount >= cb.config.FailureThreshold {
			tr = cb.setStateLocked(Open)
		}
	case HalfOpen:
		cb.failureCount++
		cb.lastFailureTime = now
		tr = cb.setStateLocked(Open)
		cb.halfOpenTrials = 0
		cb.halfOpenSuccesses = 0
	case Open:
		cb.failureCount++
	}

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           cb.state.String(),
		"error":           err.Error(),
		"duration_ms":     duration.Milliseconds(),
		"failure_count":   cb.failureCount,
	}).Warn("Circuit breaker: failed execution")
	return tr
}

func (cb *CircuitBreaker) setStateLocked(newState CircuitBreakerState) *transition {
	if cb.state == newState {
		return nil
	}
	oldState := cb.state
	cb.state = newState
	cb.stats.StateChanges++

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"old_state":       oldState.String(),
		"new_state":       newState.String(),
		"failure_count":   cb.failureCount,
	}).Info("Circuit breaker state changed")

	return &transition{from: oldState, to: newState, snapshot: cb.snapshotLocked()}
}

func (cb *CircuitBreaker) notify(hook StateChangeFunc, tr *transition) {
	if hook == nil || tr == nil {
		return
	}
	hook(cb.name, tr.from, tr.to, tr.snapshot)
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns the current statistics
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Snapshot returns a copy of the breaker's state.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.snapshotLocked()
}

func (cb *CircuitBreaker) snapshotLocked() BreakerSnapshot {
	return BreakerSnapshot{
		Name:              cb.name,
		State:             cb.state.String(),
		FailureCount:      cb.failureCount,
		LastFailureTime:   cb.lastFailureTime,
		HalfOpenTrials:    cb.halfOpenTrials,
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		Stats:             cb.stats,
		UpdatedAt:         cb.now(),
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.setStateLocked(Closed)
	cb.failureCount = 0
	cb.rateLimitStreak = 0
	cb.halfOpenTrials = 0
	cb.halfOpenSuccesses = 0
	hook := cb.onStateChange
	cb.mu.Unlock()

	cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker manually reset")
	cb.notify(hook, tr)
}

// CircuitBreakerManager owns one breaker per provider.
type CircuitBreakerManager struct {
	breakers      map[string]*CircuitBreaker
	logger        *logrus.Logger
	onStateChange StateChangeFunc
	mu            sync.RWMutex
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(logger *logrus.Logger) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// OnStateChange sets the callback attached to breakers created afterwards.
func (cbm *CircuitBreakerManager) OnStateChange(fn StateChangeFunc) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	cbm.onStateChange = fn
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (cbm *CircuitBreakerManager) GetOrCreate(name string, config CircuitBreakerConfig) *CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	if breaker, exists := cbm.breakers[name]; exists {
		return breaker
	}

	breaker := NewCircuitBreaker(name, config, cbm.logger)
	breaker.onStateChange = cbm.onStateChange
	cbm.breakers[name] = breaker
	return breaker
}

// Get returns the breaker registered under name, if any.
func (cbm *CircuitBreakerManager) Get(name string) (*CircuitBreaker, bool) {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()
	b, ok := cbm.breakers[name]
	return b, ok
}

// Snapshots returns the state of every breaker keyed by name.
func (cbm *CircuitBreakerManager) Snapshots() map[string]BreakerSnapshot {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()

	out := make(map[string]BreakerSnapshot, len(cbm.breakers))
	for name, breaker := range cbm.breakers {
		out[name] = breaker.Snapshot()
	}
	return out
}

// ResetAll resets all circuit breakers
func (cbm *CircuitBreakerManager) ResetAll() {
	cbm.mu.RLock()
	defer cbm.mu.RUnlock()

	for _, breaker := range cbm.breakers {
		breaker.Reset()
	}
}
