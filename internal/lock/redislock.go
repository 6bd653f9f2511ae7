// Package lock serialises work across API replicas with Redis leases.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired wraps the context error when a lease could not be taken in
// time.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that someone else re-took is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out exclusive leases on Redis keys.
type Locker struct {
	R            redis.Cmdable
	RetryBackoff time.Duration
}

// Key namespaces a lock name, e.g. Key("subscription", payerID).
func Key(parts ...string) string {
	return "lock:" + strings.Join(parts, ":")
}

// WithLock runs fn while holding key for at most ttl, polling every
// RetryBackoff until the lease is free or ctx ends. The lease is released when
// fn returns, whatever its result.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	poll := l.RetryBackoff
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	token := uuid.NewString()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		acquired, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}
