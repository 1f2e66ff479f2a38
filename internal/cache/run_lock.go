package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a single-holder Redis lock keyed by owner id.
type RunLock struct {
	redis redis.Cmdable
	key   string
}

func NewRunLock(client redis.Cmdable, key string) *RunLock {
	if key == "" {
		key = "pricesync:run_lock"
	}
	return &RunLock{redis: client, key: key}
}

// Acquire takes the lock for ttl. It reports false when another owner holds it.
func (l *RunLock) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	ok, err := l.redis.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock if owner still holds it.
func (l *RunLock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.redis, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Holder returns the current owner, or "" when the lock is free.
func (l *RunLock) Holder(ctx context.Context) (string, error) {
	owner, err := l.redis.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read run lock: %w", err)
	}
	return owner, nil
}
