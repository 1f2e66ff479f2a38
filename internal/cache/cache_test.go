package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-pricesync/internal/services"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) ListActive(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func TestSymbolUniverseCache_MissThenHit(t *testing.T) {
	s, client := setupTestRedis(t)
	loader := &mockLoader{}
	loader.On("ListActive", mock.Anything).Return([]string{"AAPL", "MSFT"}, nil).Once()

	c := NewSymbolUniverseCache(client, loader, time.Hour, logrus.New())

	got, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)

	got, err = c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)

	loader.AssertExpectations(t)
	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, time.Hour, s.TTL("pricesync:symbols:active"))
}

func TestSymbolUniverseCache_ExpiryReloads(t *testing.T) {
	s, client := setupTestRedis(t)
	loader := &mockLoader{}
	loader.On("ListActive", mock.Anything).Return([]string{"AAPL"}, nil).Twice()

	c := NewSymbolUniverseCache(client, loader, time.Minute, nil)
	_, err := c.ListActive(context.Background())
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)
	_, err = c.ListActive(context.Background())
	require.NoError(t, err)
	loader.AssertExpectations(t)
}

func TestSymbolUniverseCache_InvalidateAndCorruptEntry(t *testing.T) {
	s, client := setupTestRedis(t)
	loader := &mockLoader{}
	loader.On("ListActive", mock.Anything).Return([]string{"AAPL"}, nil)

	c := NewSymbolUniverseCache(client, loader, time.Hour, nil)
	require.NoError(t, s.Set("pricesync:symbols:active", "{not json"))

	got, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, got)
	assert.Equal(t, int64(1), c.GetStats().Errors)

	require.NoError(t, c.Invalidate(context.Background()))
	assert.False(t, s.Exists("pricesync:symbols:active"))
}

func TestSymbolUniverseCache_RedisDownFallsThrough(t *testing.T) {
	s, client := setupTestRedis(t)
	loader := &mockLoader{}
	loader.On("ListActive", mock.Anything).Return([]string{"AAPL"}, nil)
	s.Close()

	c := NewSymbolUniverseCache(client, loader, time.Hour, nil)
	got, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, got)
	assert.Equal(t, int64(2), c.GetStats().Errors)
}

func TestSymbolUniverseCache_LoaderError(t *testing.T) {
	_, client := setupTestRedis(t)
	loader := &mockLoader{}
	loader.On("ListActive", mock.Anything).Return(nil, errors.New("db down"))

	c := NewSymbolUniverseCache(client, loader, time.Hour, nil)
	_, err := c.ListActive(context.Background())
	assert.EqualError(t, err, "db down")
	assert.Zero(t, c.GetStats().Sets)
}

func TestRunLock_AcquireRelease(t *testing.T) {
	s, client := setupTestRedis(t)
	lock := NewRunLock(client, "")
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "host-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, s.TTL("pricesync:run_lock"))

	ok, err = lock.Acquire(ctx, "host-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := lock.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, "host-a", holder)

	// only the owner can release
	require.NoError(t, lock.Release(ctx, "host-b"))
	holder, _ = lock.Holder(ctx)
	assert.Equal(t, "host-a", holder)

	require.NoError(t, lock.Release(ctx, "host-a"))
	holder, err = lock.Holder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder)

	ok, err = lock.Acquire(ctx, "host-b", 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLock_ExpiresAfterTTL(t *testing.T) {
	s, client := setupTestRedis(t)
	lock := NewRunLock(client, "test:lock")

	ok, err := lock.Acquire(context.Background(), "crashed", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Minute)
	ok, err = lock.Acquire(context.Background(), "next", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLock_RedisDown(t *testing.T) {
	s, client := setupTestRedis(t)
	lock := NewRunLock(client, "")
	s.Close()

	_, err := lock.Acquire(context.Background(), "host-a", time.Hour)
	assert.ErrorContains(t, err, "failed to acquire run lock")
}

func TestBreakerStatePublisher(t *testing.T) {
	s, client := setupTestRedis(t)
	pub := NewBreakerStatePublisher(client, 0)
	ctx := context.Background()

	last := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, pub.PublishBreakerState(ctx, services.BreakerSnapshot{Name: "alphavantage", State: "OPEN", FailureCount: 5, LastFailureTime: last}))
	require.NoError(t, pub.PublishBreakerState(ctx, services.BreakerSnapshot{Name: "yahoo", State: "CLOSED"}))
	require.NoError(t, pub.PublishBreakerState(ctx, services.BreakerSnapshot{Name: "alphavantage", State: "HALF_OPEN", FailureCount: 5, LastFailureTime: last}))
	assert.Equal(t, 24*time.Hour, s.TTL("pricesync:breaker:yahoo"))

	states, err := pub.BreakerStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "HALF_OPEN", states["alphavantage"].State)
	assert.Equal(t, 5, states["alphavantage"].FailureCount)
	assert.True(t, last.Equal(states["alphavantage"].LastFailureTime))
	assert.Equal(t, "CLOSED", states["yahoo"].State)
}
