package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gym-payments/internal/common"
	"github.com/noah-isme/gym-payments/internal/resilience"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process-wide readiness flag. Shutdown clears it so load
// balancers drain traffic before the listener closes.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// RedisChecker pings a Redis client.
type RedisChecker struct {
	R redis.Cmdable
}

// PingRedis implements Checker.
func (c RedisChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.R.Ping(ctx).Err()
}

// StateReporter is satisfied by *resilience.Breaker.
type StateReporter interface {
	State() resilience.State
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	RedisTimeout time.Duration
	// Breakers are reported but never fail readiness; an open breaker only
	// affects the provider behind it.
	Breakers map[string]StateReporter
	// Unconfigured lists providers started without credentials.
	Unconfigured []string
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable", nil)
		return
	}
	redisStatus := "ok"
	if err := h.Checker.PingRedis(r.Context(), h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}

	body := map[string]any{"redis": redisStatus}
	if len(h.Breakers) > 0 {
		breakers := make(map[string]string, len(h.Breakers))
		for name, b := range h.Breakers {
			breakers[name] = b.State().String()
		}
		body["breakers"] = breakers
	}
	if len(h.Unconfigured) > 0 {
		unconfigured := append([]string(nil), h.Unconfigured...)
		sort.Strings(unconfigured)
		body["unconfigured_providers"] = unconfigured
	}

	status := http.StatusOK
	if !ready.Load() {
		status = http.StatusServiceUnavailable
		body["shutdown"] = true
	}
	if redisStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, body)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
