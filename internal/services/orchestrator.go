package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/celebrum-pricesync/internal/config"
	"github.com/irfndi/celebrum-pricesync/internal/gaps"
	"github.com/irfndi/celebrum-pricesync/internal/models"
	"github.com/irfndi/celebrum-pricesync/internal/providers"
)

const tracerName = "github.com/irfndi/celebrum-pricesync/internal/services"

// finalizeTimeout bounds the writes made after the run context is cancelled.
const finalizeTimeout = 15 * time.Second

var (
	// ErrRunInProgress is returned when another process holds the run lock.
	ErrRunInProgress = errors.New("another sync run is in progress")
	// ErrRunInterrupted is returned when cancellation stopped a run early.
	ErrRunInterrupted = errors.New("sync run interrupted")

	errNoBarsInRange = errors.New("no bars in requested range")
)

// OrchestratorState is the lifecycle of a single Run call.
type OrchestratorState int32

const (
	StateIdle OrchestratorState = iota
	StateStarting
	StateRunning
	StateCompleted
	StateFailed
)

func (s OrchestratorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OrchestratorConfig is the immutable option set a run is built with.
type OrchestratorConfig struct {
	SyncDays               int
	BatchSize              int
	MaxStockFailureRetries int
	Workers                int
	MinGapDays             int
	GracePeriod            time.Duration
	RunTimeout             time.Duration
	StaleAfter             time.Duration
	MarkStaleFailed        bool
	StoreFailureLimit      int
	LockTTL                time.Duration
	Environment            string
	Hostname               string
	Breakers               map[string]CircuitBreakerConfig
}

// NewOrchestratorConfig derives orchestrator options from loaded configuration.
func NewOrchestratorConfig(cfg *config.Config, hostname string) OrchestratorConfig {
	oc := OrchestratorConfig{
		SyncDays:               cfg.Sync.Days,
		BatchSize:              cfg.Sync.BatchSize,
		MaxStockFailureRetries: cfg.Sync.MaxStockFailureRetries,
		Workers:                cfg.Sync.Workers,
		MinGapDays:             cfg.Sync.MinGapDays,
		GracePeriod:            cfg.Sync.GracePeriod,
		RunTimeout:             cfg.Sync.RunTimeout,
		StaleAfter:             cfg.Sync.StaleAfter,
		MarkStaleFailed:        cfg.Sync.MarkStaleFailed,
		StoreFailureLimit:      cfg.Sync.StoreFailureLimit,
		LockTTL:                cfg.Sync.LockTTL,
		Environment:            cfg.Environment,
		Hostname:               hostname,
		Breakers:               make(map[string]CircuitBreakerConfig),
	}
	for _, name := range config.KnownProviders {
		pc, _ := cfg.Providers.ByName(name)
		oc.Breakers[name] = BreakerConfigFor(pc)
	}
	return oc
}

// BreakerConfigFor maps a provider block onto breaker settings.
func BreakerConfigFor(pc config.ProviderConfig) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   pc.FailureThreshold,
		RecoveryTimeout:    pc.RecoveryTimeout,
		HalfOpenMaxCalls:   pc.HalfOpenMaxCalls,
		RateLimitThreshold: pc.RateLimitBreakerThreshold,
		Classify:           ProviderOutcome,
	}
}

// ProviderOutcome classifies adapter errors for the breaker. A provider that
// answers "no such symbol" is healthy; throttling trips only when repeated.
func ProviderOutcome(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeIgnored
	case providers.IsRateLimited(err):
		return OutcomeRateLimited
	case providers.CountsAsBreakerFailure(err):
		return OutcomeFailure
	case providers.IsNotFound(err):
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

// BreakerStatePublisher mirrors breaker snapshots somewhere operators can read them.
type BreakerStatePublisher interface {
	PublishBreakerState(ctx context.Context, snapshot BreakerSnapshot) error
}

// OrchestratorDeps are the collaborators a run needs. Lock, Cleanup,
// Notifier and Publisher are optional.
type OrchestratorDeps struct {
	Providers []providers.Provider
	Breakers  *CircuitBreakerManager
	Rates     *RateController
	Failures  FailureStore
	Prices    PriceStore
	Runs      SyncRunStore
	Symbols   SymbolSource
	Lock      RunLock
	Cleanup   *CleanupService
	Notifier  Notifier
	Publisher BreakerStatePublisher
	Logger    *logrus.Logger
}

// Orchestrator drives one sync batch across the provider chain.
type Orchestrator struct {
	cfg       OrchestratorConfig
	chain     []providers.Provider
	manager   *CircuitBreakerManager
	breakers  map[string]*CircuitBreaker
	rates     *RateController
	failures  *FailureTracker
	detector  *gaps.Detector
	prices    PriceStore
	runs      SyncRunStore
	symbols   SymbolSource
	lock      RunLock
	cleanup   *CleanupService
	notifier  Notifier
	publisher BreakerStatePublisher
	logger    *logrus.Logger
	tracer    trace.Tracer
	now       func() time.Time

	state  atomic.Int32
	alerts sync.WaitGroup

	// mu guards run and the store failure streak; progress writes happen
	// under it so rows are never written out of order.
	mu            sync.Mutex
	run           *models.SyncRun
	storeFailures int
}

type outcomeStatus int

const (
	outcomePrimary outcomeStatus = iota
	outcomeFallback
	outcomeFailed
	outcomeSkipped
	outcomeUpToDate
	outcomeCancelled
)

type providerAttempt struct {
	provider string
	ok       bool
}

type symbolOutcome struct {
	symbol   string
	status   outcomeStatus
	provider string
	records  int64
	attempts []providerAttempt
	err      error
	storeErr error
}

func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) (*Orchestrator, error) {
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("%w: orchestrator needs at least one provider", config.ErrInvalidConfig)
	}
	if deps.Prices == nil || deps.Runs == nil || deps.Failures == nil || deps.Symbols == nil {
		return nil, fmt.Errorf("%w: orchestrator stores are required", config.ErrInvalidConfig)
	}
	if cfg.SyncDays <= 0 || cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: sync days and batch size must be positive", config.ErrInvalidConfig)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > config.MaxWorkers {
		cfg.Workers = config.MaxWorkers
	}
	if cfg.StoreFailureLimit <= 0 {
		cfg.StoreFailureLimit = 5
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}

	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	manager := deps.Breakers
	if manager == nil {
		manager = NewCircuitBreakerManager(logger)
	}
	rates := deps.Rates
	if rates == nil {
		rates = NewRateController(logger)
	}

	o := &Orchestrator{
		cfg:       cfg,
		chain:     deps.Providers,
		manager:   manager,
		breakers:  make(map[string]*CircuitBreaker, len(deps.Providers)),
		rates:     rates,
		failures:  NewFailureTracker(deps.Failures, cfg.MaxStockFailureRetries, logger),
		detector:  gaps.NewDetector(cfg.MinGapDays),
		prices:    deps.Prices,
		runs:      deps.Runs,
		symbols:   deps.Symbols,
		lock:      deps.Lock,
		cleanup:   deps.Cleanup,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}

	for _, p := range deps.Providers {
		bc, ok := cfg.Breakers[p.Name()]
		if !ok {
			bc = CircuitBreakerConfig{}
		}
		if bc.Classify == nil {
			bc.Classify = ProviderOutcome
		}
		b := manager.GetOrCreate(p.Name(), bc)
		b.OnStateChange(o.onBreakerStateChange)
		o.breakers[p.Name()] = b
		rates.Register(p.Name(), p.RateProfile())
	}
	return o, nil
}

// State returns the lifecycle state of the current or last run.
func (o *Orchestrator) State() OrchestratorState {
	return OrchestratorState(o.state.Load())
}

func (o *Orchestrator) setState(s OrchestratorState) {
	o.state.Store(int32(s))
}

// Progress returns a copy of the run record as last tallied.
func (o *Orchestrator) Progress() *models.SyncRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return nil
	}
	return o.run.Clone()
}

// Run executes one sync batch. The returned run is the final record; the
// error is non-nil whenever the run did not complete.
func (o *Orchestrator) Run(ctx context.Context) (*models.SyncRun, error) {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("sync.environment", o.cfg.Environment),
		attribute.Int("sync.workers", o.cfg.Workers),
		attribute.Int("sync.batch_size", o.cfg.BatchSize),
	))
	defer span.End()

	o.setState(StateStarting)

	if o.lock != nil {
		owner := lockOwner(o.cfg.Hostname)
		acquired, err := o.lock.Acquire(ctx, owner, o.cfg.LockTTL)
		switch {
		case err != nil:
			o.logger.WithError(err).Warn("Run lock unavailable, continuing without it")
		case !acquired:
			o.setState(StateFailed)
			span.SetStatus(codes.Error, ErrRunInProgress.Error())
			return nil, ErrRunInProgress
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
				defer cancel()
				if err := o.lock.Release(releaseCtx, owner); err != nil {
					o.logger.WithError(err).Warn("Failed to release run lock")
				}
			}()
		}
	}

	if o.cleanup != nil {
		if _, err := o.cleanup.SweepStaleRuns(ctx, CleanupConfig{
			StaleAfter:      o.cfg.StaleAfter,
			MarkStaleFailed: o.cfg.MarkStaleFailed,
		}); err != nil {
			o.logger.WithError(err).Warn("Stale run sweep failed")
		}
	}

	run := models.NewSyncRun(o.now(), o.cfg.Environment, o.cfg.Hostname)
	if err := o.runs.Create(ctx, run); err != nil {
		o.setState(StateFailed)
		err = storeErr("create sync run", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	o.mu.Lock()
	o.run = run
	o.storeFailures = 0
	o.mu.Unlock()

	span.SetAttributes(attribute.String("sync.run_id", run.RunID.String()))
	o.logger.WithFields(logrus.Fields{
		"run_id":    run.RunID.String(),
		"hostname":  run.Hostname,
		"sync_days": o.cfg.SyncDays,
		"providers": o.providerNames(),
	}).Info("Sync run started")

	symbols, err := o.symbols.ListActive(ctx)
	if err != nil {
		return o.finish(ctx, span, storeErr("list symbols", err))
	}
	symbols = uniqueSymbols(symbols)

	o.mu.Lock()
	run.TotalSymbols = len(symbols)
	o.mu.Unlock()
	o.setState(StateRunning)
	if err := o.flushProgress(ctx); err != nil {
		o.logger.WithError(err).Warn("Failed to record symbol total")
	}

	return o.finish(ctx, span, o.process(ctx, symbols))
}

// process runs the symbols chunk by chunk through a bounded worker pool.
// Cancelling ctx stops dispatch at once; in-flight symbols get GracePeriod
// before their context is cancelled too.
func (o *Orchestrator) process(ctx context.Context, symbols []string) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	stopDrain := context.AfterFunc(ctx, func() {
		o.logger.WithField("grace_period", o.cfg.GracePeriod.String()).Warn("Stop requested, draining in-flight symbols")
		time.AfterFunc(o.cfg.GracePeriod, cancelWork)
	})
	defer stopDrain()

	for start := 0; start < len(symbols); start += o.cfg.BatchSize {
		if ctx.Err() != nil {
			return nil
		}
		end := min(start+o.cfg.BatchSize, len(symbols))
		chunk := symbols[start:end]

		g, gctx := errgroup.WithContext(workCtx)
		g.SetLimit(o.cfg.Workers)
		for _, symbol := range chunk {
			if ctx.Err() != nil || gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				// dispatch may have been stopped while waiting for a slot
				if ctx.Err() != nil {
					return nil
				}
				return o.recordOutcome(ctx, o.syncSymbol(gctx, symbol))
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		o.logger.WithFields(logrus.Fields{
			"chunk_start": start,
			"chunk_end":   end,
			"total":       len(symbols),
		}).Info("Sync chunk finished")
	}
	return nil
}

// syncSymbol walks the provider chain for one symbol.
func (o *Orchestrator) syncSymbol(ctx context.Context, symbol string) symbolOutcome {
	ctx, span := o.tracer.Start(ctx, "sync.symbol", trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()

	out := symbolOutcome{symbol: symbol}
	defer func() {
		span.SetAttributes(attribute.String("sync.outcome", out.status.String()))
		if out.provider != "" {
			span.SetAttributes(attribute.String("sync.provider", out.provider))
		}
		if out.err != nil {
			span.RecordError(out.err)
		}
	}()

	cancelled := func() symbolOutcome {
		out.status = outcomeCancelled
		return out
	}

	skip, err := o.failures.ShouldSkip(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		out.status, out.err, out.storeErr = outcomeFailed, err, err
		return out
	}
	if skip {
		out.status = outcomeSkipped
		return out
	}

	spans, err := o.fetchPlan(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled()
		}
		out.status, out.err, out.storeErr = outcomeFailed, err, err
		return out
	}
	if len(spans) == 0 {
		out.status = outcomeUpToDate
		return out
	}
	window, _ := models.Hull(spans)
	closedSession := hasClosedSession(spans, models.TradingDay(o.now()))

	var lastErr error
	attempted := false
	for i, p := range o.chain {
		if ctx.Err() != nil {
			return cancelled()
		}
		breaker := o.breakers[p.Name()]
		if !breaker.Allow() {
			lastErr = &BreakerOpenError{Name: p.Name(), State: breaker.GetState()}
			continue
		}
		if err := o.rates.Wait(ctx, p); err != nil {
			return cancelled()
		}

		bars, err := ExecuteValue(ctx, breaker, func(ctx context.Context) ([]models.PriceBar, error) {
			bars, err := p.FetchHistorical(ctx, symbol, window.Start, window.End)
			if err != nil {
				return nil, err
			}
			if err := models.ValidateBars(bars); err != nil {
				return nil, &providers.Error{Provider: p.Name(), Symbol: symbol, Kind: providers.ErrMalformed, Err: err}
			}
			bars = models.FilterRange(bars, spans)
			if len(bars) == 0 && closedSession {
				return nil, &providers.Error{Provider: p.Name(), Symbol: symbol, Kind: providers.ErrNotFound, Err: errNoBarsInRange}
			}
			return bars, nil
		})
		o.rates.Record(p.Name(), err)

		if err != nil {
			if ctx.Err() != nil && ProviderOutcome(err) == OutcomeIgnored {
				return cancelled()
			}
			if !errors.Is(err, ErrBreakerOpen) {
				attempted = true
				out.attempts = append(out.attempts, providerAttempt{provider: p.Name()})
			}
			lastErr = err
			o.logger.WithFields(logrus.Fields{
				"symbol":   symbol,
				"provider": p.Name(),
			}).WithError(err).Debug("Provider attempt failed")
			continue
		}

		out.attempts = append(out.attempts, providerAttempt{provider: p.Name(), ok: true})
		out.provider = p.Name()

		// Only today's session was missing and it has not been published yet.
		if len(bars) == 0 {
			out.status = outcomeUpToDate
			return out
		}

		n, err := o.prices.UpsertPrices(ctx, symbol, p.Name(), bars)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled()
			}
			err = storeErr("upsert prices", err)
			out.status, out.err, out.storeErr = outcomeFailed, err, err
			return out
		}
		out.records = n

		out.status = outcomePrimary
		if i > 0 {
			out.status = outcomeFallback
		}
		if err := o.failures.RecordAttempt(ctx, symbol, true, nil); err != nil {
			out.storeErr = err
		}
		return out
	}

	out.status, out.err = outcomeFailed, lastErr
	// Symbols are only charged when a provider was actually asked.
	if attempted {
		if err := o.failures.RecordAttempt(ctx, symbol, false, lastErr); err != nil && ctx.Err() == nil {
			out.storeErr = err
		}
	}
	return out
}

// lockOwner identifies one Run call, so runs on the same host never share
// an owner.
func lockOwner(hostname string) string {
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), uuid.NewString())
}

// hasClosedSession reports whether spans hold a business day before today.
func hasClosedSession(spans []models.DateRange, today time.Time) bool {
	yesterday := today.AddDate(0, 0, -1)
	for _, s := range spans {
		end := s.End
		if end.After(yesterday) {
			end = yesterday
		}
		if !end.Before(s.Start) && models.BusinessDaysBetween(s.Start, end) > 0 {
			return true
		}
	}
	return false
}

// fetchPlan returns the date spans to fetch for symbol, empty when it is up
// to date. No stored rows means the whole lookback window.
func (o *Orchestrator) fetchPlan(ctx context.Context, symbol string) ([]models.DateRange, error) {
	end := models.TradingDay(o.now())
	start := end.AddDate(0, 0, -o.cfg.SyncDays)
	window := models.DateRange{Start: start, End: end}

	dates, err := o.prices.ListDates(ctx, symbol, start, end)
	if err != nil {
		return nil, storeErr("list stored dates", err)
	}
	if len(dates) == 0 {
		return []models.DateRange{window}, nil
	}

	var spans []models.DateRange
	for _, g := range o.detector.Detect(symbol, dates, &window) {
		spans = append(spans, g.Range())
	}

	last := dates[0]
	for _, d := range dates[1:] {
		if d.After(last) {
			last = d
		}
	}
	tailStart := models.TradingDay(last).AddDate(0, 0, 1)
	if !tailStart.After(end) && models.BusinessDaysBetween(tailStart, end) > 0 {
		covered := false
		for _, s := range spans {
			if s.Contains(tailStart) {
				covered = true
				break
			}
		}
		if !covered {
			spans = append(spans, models.DateRange{Start: tailStart, End: end})
		}
	}
	return spans, nil
}

// recordOutcome tallies a symbol into the run and flushes progress. It
// returns an error only when store failures have become fatal.
func (o *Orchestrator) recordOutcome(ctx context.Context, out symbolOutcome) error {
	if out.status == outcomeCancelled {
		return nil
	}

	o.mu.Lock()
	run := o.run
	run.Processed++
	switch out.status {
	case outcomePrimary:
		run.PrimarySuccess++
	case outcomeFallback:
		run.FallbackSuccess++
	case outcomeFailed:
		run.Failed++
	case outcomeSkipped:
		run.Skipped++
	case outcomeUpToDate:
		run.UpToDate++
	}
	run.RecordsUpserted += out.records
	for _, a := range out.attempts {
		tally := run.ProviderStats[a.provider]
		if a.ok {
			tally.Success++
		} else {
			tally.Failure++
		}
		run.ProviderStats[a.provider] = tally
	}
	o.mu.Unlock()

	entry := o.logger.WithFields(logrus.Fields{
		"symbol":  out.symbol,
		"outcome": out.status.String(),
		"records": out.records,
	})
	if out.provider != "" {
		entry = entry.WithField("provider", out.provider)
	}
	if out.err != nil {
		entry.WithError(out.err).Warn("Symbol sync failed")
	} else {
		entry.Debug("Symbol synced")
	}

	storeFailure := out.storeErr
	if err := o.flushProgress(ctx); err != nil {
		if errors.Is(err, models.ErrRunFinalized) {
			return fmt.Errorf("sync run closed by another process: %w", err)
		}
		storeFailure = err
	}
	return o.trackStoreHealth(storeFailure)
}

// trackStoreHealth escalates once StoreFailureLimit consecutive symbols hit
// a store error.
func (o *Orchestrator) trackStoreHealth(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err == nil {
		o.storeFailures = 0
		return nil
	}
	o.storeFailures++
	if o.storeFailures >= o.cfg.StoreFailureLimit {
		return fmt.Errorf("store unavailable after %d consecutive failures: %w", o.storeFailures, err)
	}
	return nil
}

// flushProgress writes the current counters. It survives cancellation of
// ctx so the row keeps up with a draining run.
func (o *Orchestrator) flushProgress(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.runs.Update(flushCtx, o.run); err != nil {
		return storeErr("update sync run", err)
	}
	return nil
}

// finish finalizes the run row, notifies on failure and returns the final record.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, fatal error) (*models.SyncRun, error) {
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	o.mu.Lock()
	run := o.run
	now := o.now()
	run.CompletedAt = &now
	run.TotalDuration = now.Sub(run.StartedAt)

	var runErr error
	switch {
	case fatal != nil:
		run.Status = models.SyncRunFailed
		run.ErrorMessage = fatal.Error()
		runErr = fatal
	case ctx.Err() != nil && run.Processed < run.TotalSymbols:
		run.Status = models.SyncRunFailed
		run.ErrorMessage = fmt.Sprintf("interrupted after %d/%d symbols: %v", run.Processed, run.TotalSymbols, context.Cause(ctx))
		runErr = fmt.Errorf("%w: %v", ErrRunInterrupted, context.Cause(ctx))
	default:
		run.Status = models.SyncRunCompleted
	}
	final := run.Clone()
	o.mu.Unlock()

	if err := o.runs.Update(finalCtx, final); err != nil {
		if errors.Is(err, models.ErrRunFinalized) {
			o.logger.WithError(err).WithField("run_id", final.RunID.String()).Warn("Sync run row was already finalized")
		} else {
			o.logger.WithError(err).WithField("run_id", final.RunID.String()).Error("Failed to finalize sync run")
		}
		if runErr == nil {
			runErr = storeErr("finalize sync run", err)
		}
	}

	if final.Status == models.SyncRunFailed {
		o.setState(StateFailed)
		span.SetStatus(codes.Error, final.ErrorMessage)
		if o.notifier != nil {
			if err := o.notifier.NotifyRunFailed(finalCtx, final); err != nil {
				o.logger.WithError(err).Warn("Failed to send run failure alert")
			}
		}
	} else if runErr != nil {
		o.setState(StateFailed)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		o.setState(StateCompleted)
		span.SetStatus(codes.Ok, "")
	}

	o.publishBreakers(finalCtx)
	o.alerts.Wait()

	span.SetAttributes(
		attribute.String("sync.status", string(final.Status)),
		attribute.Int("sync.total_symbols", final.TotalSymbols),
		attribute.Int("sync.primary_success", final.PrimarySuccess),
		attribute.Int("sync.fallback_success", final.FallbackSuccess),
		attribute.Int("sync.failed", final.Failed),
		attribute.Int("sync.skipped", final.Skipped),
	)

	o.logger.WithFields(logrus.Fields{
		"run_id":           final.RunID.String(),
		"status":           final.Status,
		"total_symbols":    final.TotalSymbols,
		"processed":        final.Processed,
		"primary_success":  final.PrimarySuccess,
		"fallback_success": final.FallbackSuccess,
		"failed":           final.Failed,
		"skipped":          final.Skipped,
		"up_to_date":       final.UpToDate,
		"records_upserted": final.RecordsUpserted,
		"duration":         final.TotalDuration.String(),
		"error":            final.ErrorMessage,
	}).Info("Sync run finished")

	return final, runErr
}

func (o *Orchestrator) onBreakerStateChange(name string, _, to CircuitBreakerState, snap BreakerSnapshot) {
	if o.publisher == nil && (o.notifier == nil || to != Open) {
		return
	}
	o.alerts.Add(1)
	go func() {
		defer o.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()

		if o.publisher != nil {
			if err := o.publisher.PublishBreakerState(ctx, snap); err != nil {
				o.logger.WithError(err).WithField("provider", name).Debug("Failed to publish breaker state")
			}
		}
		if to == Open && o.notifier != nil {
			if err := o.notifier.NotifyBreakerOpen(ctx, snap); err != nil {
				o.logger.WithError(err).WithField("provider", name).Warn("Failed to send breaker alert")
			}
		}
	}()
}

func (o *Orchestrator) publishBreakers(ctx context.Context) {
	if o.publisher == nil {
		return
	}
	for name, b := range o.breakers {
		if err := o.publisher.PublishBreakerState(ctx, b.Snapshot()); err != nil {
			o.logger.WithError(err).WithField("provider", name).Debug("Failed to publish breaker state")
		}
	}
}

func (o *Orchestrator) providerNames() []string {
	names := make([]string, len(o.chain))
	for i, p := range o.chain {
		names[i] = p.Name()
	}
	return names
}

func (s outcomeStatus) String() string {
	switch s {
	case outcomePrimary:
		return "primary_success"
	case outcomeFallback:
		return "fallback_success"
	case outcomeFailed:
		return "failed"
	case outcomeSkipped:
		return "skipped"
	case outcomeUpToDate:
		return "up_to_date"
	default:
		return "cancelled"
	}
}

// uniqueSymbols normalizes codes and drops blanks and duplicates, keeping order.
func uniqueSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = models.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
