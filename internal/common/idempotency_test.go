package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/common"
)

func TestIdempotencyRejectsReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	h := common.Idem{R: client, TTL: time.Hour}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusCreated, send("/api/v1/payments/stripe/initiate", "abc"))
	require.Equal(t, http.StatusConflict, send("/api/v1/payments/stripe/initiate", "abc"))
	require.Equal(t, http.StatusCreated, send("/api/v1/payments/jazzcash/initiate", "abc"))
	require.Equal(t, http.StatusCreated, send("/api/v1/payments/stripe/initiate", ""))
	require.Equal(t, 3, calls)

	mr.FastForward(2 * time.Hour)
	require.Equal(t, http.StatusCreated, send("/api/v1/payments/stripe/initiate", "abc"))
}

func TestClientIPUsesRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	require.Equal(t, "10.1.1.1", common.ClientIP(req))

	req.RemoteAddr = "203.0.113.9"
	require.Equal(t, "203.0.113.9", common.ClientIP(req))
}

func TestWriteError(t *testing.T) {
	cause := errors.New("redis: connection refused")
	wrapped := fmt.Errorf("complete: %w", common.NewAppError(http.StatusConflict, "PAYMENT_ALREADY_PROCESSED", "payment already processed", cause).
		WithDetails(map[string]string{"reference": "T1"}))
	require.ErrorIs(t, wrapped, cause)

	rec := httptest.NewRecorder()
	common.WriteError(rec, wrapped)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"error":{"code":"PAYMENT_ALREADY_PROCESSED","message":"payment already processed","details":{"reference":"T1"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	common.WriteError(rec, cause)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}
