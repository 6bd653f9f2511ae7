package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/lock"
)

func TestWithLockIdempotent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var order []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})

	go func() {
		err := locker.WithLock(ctx, lock.Key("subscription", "member@example.com"), 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstDone

	go func() {
		err := locker.WithLock(ctx, lock.Key("subscription", "member@example.com"), 100*time.Millisecond, func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)
	time.Sleep(20 * time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestReleaseLeavesForeignLease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key := lock.Key("subscription", "slow")
	locker := lock.Locker{R: client}
	err = locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
		// lease expired mid-run and another replica took it
		require.NoError(t, mr.Set(key, "other-token"))
		return nil
	})
	require.NoError(t, err)
	value, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "other-token", value)

	require.NoError(t, locker.WithLock(context.Background(), lock.Key("subscription", "fast"), time.Second, func(context.Context) error { return nil }))
	require.False(t, mr.Exists(lock.Key("subscription", "fast")))
}

func TestWithLockHonoursContext(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key := lock.Key("subscription", "busy")
	require.Equal(t, "lock:subscription:busy", key)
	require.NoError(t, mr.Set(key, "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	locker := lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	err = locker.WithLock(ctx, key, time.Second, func(context.Context) error {
		t.Fatal("callback must not run without the lock")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, lock.ErrNotAcquired)

	value, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", value)
}
