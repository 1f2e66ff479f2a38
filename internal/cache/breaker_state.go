package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/irfndi/celebrum-pricesync/internal/services"
)

const breakerKeyPrefix = "pricesync:breaker:"

// BreakerStatePublisher mirrors in-process breaker snapshots into Redis for
// dashboards. Nothing reads them back into a breaker.
type BreakerStatePublisher struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewBreakerStatePublisher(client redis.Cmdable, ttl time.Duration) *BreakerStatePublisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BreakerStatePublisher{redis: client, ttl: ttl}
}

// PublishBreakerState stores the latest snapshot for one provider.
func (p *BreakerStatePublisher) PublishBreakerState(ctx context.Context, snapshot services.BreakerSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode breaker snapshot: %w", err)
	}
	if err := p.redis.Set(ctx, breakerKeyPrefix+snapshot.Name, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish breaker state for %s: %w", snapshot.Name, err)
	}
	return nil
}

// BreakerStates returns every published snapshot keyed by provider name.
func (p *BreakerStatePublisher) BreakerStates(ctx context.Context) (map[string]services.BreakerSnapshot, error) {
	var keys []string
	iter := p.redis.Scan(ctx, 0, breakerKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning breaker keys: %w", err)
	}

	out := make(map[string]services.BreakerSnapshot, len(keys))
	for _, key := range keys {
		data, err := p.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		var snap services.BreakerSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, breakerKeyPrefix)] = snap
	}
	return out, nil
}
