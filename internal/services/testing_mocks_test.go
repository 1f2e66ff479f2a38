package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/irfndi/celebrum-pricesync/internal/models"
	"github.com/irfndi/celebrum-pricesync/internal/providers"
)

var errStoreDown = errors.New("connection refused")

// memPriceStore keeps bars keyed by symbol and trading day.
type memPriceStore struct {
	mu        sync.Mutex
	rows      map[string]map[time.Time]models.PriceRecord
	upsertErr error
	listErr   error
	upserts   int
}

func newMemPriceStore() *memPriceStore {
	return &memPriceStore{rows: make(map[string]map[time.Time]models.PriceRecord)}
}

func (s *memPriceStore) UpsertPrices(_ context.Context, symbol, source string, bars []models.PriceBar) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserts++
	if s.rows[symbol] == nil {
		s.rows[symbol] = make(map[time.Time]models.PriceRecord)
	}
	for _, b := range bars {
		day := models.TradingDay(b.Date)
		b.Date = day
		s.rows[symbol][day] = models.PriceRecord{Symbol: symbol, PriceBar: b, Source: source}
	}
	return int64(len(bars)), nil
}

func (s *memPriceStore) ListDates(_ context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []time.Time
	r := models.DateRange{Start: from, End: to}
	for day := range s.rows[symbol] {
		if r.Contains(day) {
			out = append(out, day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *memPriceStore) seed(symbol string, days ...time.Time) {
	bars := make([]models.PriceBar, 0, len(days))
	for _, d := range days {
		bars = append(bars, testBar(d))
	}
	_, _ = s.UpsertPrices(context.Background(), symbol, "seed", bars)
}

func (s *memPriceStore) count(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[symbol])
}

// memRunStore records every write so tests can inspect progress history.
type memRunStore struct {
	mu        sync.Mutex
	runs      map[uuid.UUID]*models.SyncRun
	history   []models.SyncRun
	createErr error
	updateErr error
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[uuid.UUID]*models.SyncRun)}
}

func (s *memRunStore) Create(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *memRunStore) Update(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if cur, ok := s.runs[run.RunID]; !ok || cur.Status != models.SyncRunRunning {
		return models.ErrRunFinalized
	}
	s.runs[run.RunID] = run.Clone()
	s.history = append(s.history, *run.Clone())
	return nil
}

func (s *memRunStore) ListStale(_ context.Context, startedBefore time.Time) ([]models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncRun
	for _, r := range s.runs {
		if r.Status == models.SyncRunRunning && r.StartedAt.Before(startedBefore) {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (s *memRunStore) MarkFailed(_ context.Context, runID uuid.UUID, message string, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.Status != models.SyncRunRunning {
		return false, nil
	}
	r.Status = models.SyncRunFailed
	r.ErrorMessage = message
	r.CompletedAt = &completedAt
	return true, nil
}

// sweepAll closes every running row the way the stale-run sweeper does.
func (s *memRunStore) sweepAll(message string) {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		_, _ = s.MarkFailed(context.Background(), id, message, time.Now())
	}
}

func (s *memRunStore) get(id uuid.UUID) *models.SyncRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		return r.Clone()
	}
	return nil
}

// memFailureStore is an in-memory FailureStore.
type memFailureStore struct {
	mu     sync.Mutex
	recs   map[string]models.FailureRecord
	getErr error
}

func newMemFailureStore() *memFailureStore {
	return &memFailureStore{recs: make(map[string]models.FailureRecord)}
}

func (s *memFailureStore) Get(_ context.Context, symbol string) (*models.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.recs[symbol]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memFailureStore) Increment(_ context.Context, symbol, lastError string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recs[symbol]
	rec.Symbol = symbol
	rec.ConsecutiveFailures++
	rec.LastError = lastError
	rec.LastAttemptAt = at
	s.recs[symbol] = rec
	return rec.ConsecutiveFailures, nil
}

func (s *memFailureStore) Reset(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, symbol)
	return nil
}

func (s *memFailureStore) count(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[symbol].ConsecutiveFailures
}

type staticSymbols []string

func (s staticSymbols) ListActive(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// scriptedProvider answers each fetch through a per-call function.
type scriptedProvider struct {
	name  string
	fetch func(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)

	mu    sync.Mutex
	calls map[string]int
}

func newScriptedProvider(name string, fetch func(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error)) *scriptedProvider {
	return &scriptedProvider{name: name, fetch: fetch, calls: make(map[string]int)}
}

func (p *scriptedProvider) Name() string                       { return p.name }
func (p *scriptedProvider) RateProfile() providers.RateProfile { return providers.RateProfile{} }

func (p *scriptedProvider) FetchHistorical(ctx context.Context, symbol string, start, end time.Time) ([]models.PriceBar, error) {
	p.mu.Lock()
	p.calls[symbol]++
	p.mu.Unlock()
	return p.fetch(ctx, symbol, start, end)
}

func (p *scriptedProvider) callsFor(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[symbol]
}

func (p *scriptedProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// weekdayBars returns one valid bar per weekday in [start, end].
func weekdayBars(start, end time.Time) []models.PriceBar {
	var out []models.PriceBar
	for d := models.TradingDay(start); !d.After(models.TradingDay(end)); d = d.AddDate(0, 0, 1) {
		if models.IsBusinessDay(d) {
			out = append(out, testBar(d))
		}
	}
	return out
}

func weekdayDays(start, end time.Time) []time.Time {
	var out []time.Time
	for _, b := range weekdayBars(start, end) {
		out = append(out, b.Date)
	}
	return out
}

func testBar(day time.Time) models.PriceBar {
	return models.PriceBar{
		Date:          day,
		Open:          decimal.RequireFromString("100.50"),
		High:          decimal.RequireFromString("102.00"),
		Low:           decimal.RequireFromString("99.75"),
		Close:         decimal.RequireFromString("101.25"),
		AdjustedClose: decimal.RequireFromString("101.25"),
		Volume:        1_250_000,
	}
}

func serveBars(_ context.Context, _ string, start, end time.Time) ([]models.PriceBar, error) {
	return weekdayBars(start, end), nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyRunFailed(ctx context.Context, run *models.SyncRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *mockNotifier) NotifyBreakerOpen(ctx context.Context, snapshot BreakerSnapshot) error {
	return m.Called(ctx, snapshot).Error(0)
}

type mockRunLock struct {
	mock.Mock
}

func (m *mockRunLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, owner, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockRunLock) Release(ctx context.Context, owner string) error {
	return m.Called(ctx, owner).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishBreakerState(ctx context.Context, snapshot BreakerSnapshot) error {
	return m.Called(ctx, snapshot).Error(0)
}
