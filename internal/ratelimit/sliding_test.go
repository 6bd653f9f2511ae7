package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAllow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := SlidingWindow{Client: client, Prefix: "rl:callback:", Window: time.Minute, Max: 2}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := limiter.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)

	other, err := limiter.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.True(t, other.Allowed)
	require.True(t, mr.Exists("rl:callback:1.2.3.4"))

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("rl:callback:1.2.3.4"))
}

func TestSlidingWindowDisabled(t *testing.T) {
	d, err := SlidingWindow{}.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
