package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SymbolLoader is the authoritative source of the sync universe.
type SymbolLoader interface {
	ListActive(ctx context.Context) ([]string, error)
}

// SymbolCacheEntry represents a cached symbol universe with metadata
type SymbolCacheEntry struct {
	Symbols  []string  `json:"symbols"`
	CachedAt time.Time `json:"cached_at"`
}

// SymbolCacheStats tracks cache performance metrics
type SymbolCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// SymbolUniverseCache fronts the symbols table with a Redis copy. A Redis
// outage degrades to reading the loader directly.
type SymbolUniverseCache struct {
	redis  redis.Cmdable
	loader SymbolLoader
	ttl    time.Duration
	key    string
	logger *logrus.Logger

	mu    sync.Mutex
	stats SymbolCacheStats
}

// NewSymbolUniverseCache creates a new Redis-based symbol cache
func NewSymbolUniverseCache(client redis.Cmdable, loader SymbolLoader, ttl time.Duration, logger *logrus.Logger) *SymbolUniverseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SymbolUniverseCache{
		redis:  client,
		loader: loader,
		ttl:    ttl,
		key:    "pricesync:symbols:active",
		logger: logger,
	}
}

// ListActive returns the cached universe, loading and caching it on a miss.
func (c *SymbolUniverseCache) ListActive(ctx context.Context) ([]string, error) {
	if symbols, ok := c.get(ctx); ok {
		return symbols, nil
	}

	symbols, err := c.loader.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	c.set(ctx, symbols)
	return symbols, nil
}

func (c *SymbolUniverseCache) get(ctx context.Context) ([]string, bool) {
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.count(func(s *SymbolCacheStats) { s.Misses++ })
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Redis error reading symbol universe, using database")
		c.count(func(s *SymbolCacheStats) { s.Errors++ })
		return nil, false
	}

	var entry SymbolCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).Warn("Discarding undecodable symbol universe entry")
		c.count(func(s *SymbolCacheStats) { s.Errors++ })
		return nil, false
	}

	c.count(func(s *SymbolCacheStats) { s.Hits++ })
	return entry.Symbols, true
}

func (c *SymbolUniverseCache) set(ctx context.Context, symbols []string) {
	data, err := json.Marshal(SymbolCacheEntry{Symbols: symbols, CachedAt: time.Now()})
	if err != nil {
		c.logger.WithError(err).Warn("Error serializing symbol universe")
		return
	}
	if err := c.redis.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis error caching symbol universe")
		c.count(func(s *SymbolCacheStats) { s.Errors++ })
		return
	}
	c.count(func(s *SymbolCacheStats) { s.Sets++ })

	c.logger.WithFields(logrus.Fields{
		"symbols": len(symbols),
		"ttl":     c.ttl.String(),
	}).Debug("Cached symbol universe")
}

// Invalidate drops the cached universe so the next read reloads it.
func (c *SymbolUniverseCache) Invalidate(ctx context.Context) error {
	if err := c.redis.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("error clearing symbol cache: %w", err)
	}
	return nil
}

// GetStats returns current cache statistics
func (c *SymbolUniverseCache) GetStats() SymbolCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *SymbolUniverseCache) count(fn func(*SymbolCacheStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}
