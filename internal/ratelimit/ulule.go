package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow adapts a ulule limiter to the Limiter interface.
type FixedWindow struct {
	L *limiter.Limiter
}

// NewRedisFixedWindow builds a fixed window limiter of perPeriod events per
// period stored in Redis under prefix.
func NewRedisFixedWindow(rdb *redis.Client, prefix string, perPeriod int64, period time.Duration) (FixedWindow, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return FixedWindow{}, err
	}
	return NewFixedWindow(store, perPeriod, period), nil
}

// NewFixedWindow wraps any ulule store.
func NewFixedWindow(store limiter.Store, perPeriod int64, period time.Duration) FixedWindow {
	return FixedWindow{L: limiter.New(store, limiter.Rate{Period: period, Limit: perPeriod})}
}

// Allow implements Limiter.
func (f FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := f.L.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !res.Reached,
		Limit:     int(res.Limit),
		Remaining: int(res.Remaining),
		Reset:     time.Unix(res.Reset, 0),
	}, nil
}
