package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/resilience"
)

func TestBreakerPublishesTransitions(t *testing.T) {
	resilience.MustRegisterMetrics("gym", prometheus.NewRegistry())
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	clock := &fakeClock{t: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}
	breaker := resilience.NewBreaker(1, 0.5, 10*time.Second).WithClock(clock.Now).WithTarget("event-webhook")
	ctx := context.Background()
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("event-webhook")) }
	transitions := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("event-webhook", from, to))
	}

	require.Zero(t, state())
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, float64(resilience.Open), state())

	clock.Advance(10 * time.Second)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, float64(resilience.HalfOpen), state())
	breaker.Report(ctx, true)
	require.Equal(t, float64(resilience.Closed), state())

	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("event-webhook")))
	require.Equal(t, 1.0, transitions("closed", "open"))
	require.Equal(t, 1.0, transitions("open", "half_open"))
	require.Equal(t, 1.0, transitions("half_open", "closed"))
}
