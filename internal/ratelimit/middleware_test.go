package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("store down")
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	h := Handler{
		Limiter: NewFixedWindow(memory.NewStore(), 2, time.Minute),
		Key:     ByClientIP,
	}
	srv := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/jazzcash/initiate", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusCreated, do().Code)
	second := do()
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "2", second.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := do()
	require.Equal(t, http.StatusTooManyRequests, third.Code)
	require.Contains(t, third.Body.String(), "RATE_LIMITED")
	require.NotEmpty(t, third.Header().Get("Retry-After"))
}

func TestMiddlewareFailsOpen(t *testing.T) {
	var reported error
	h := Handler{
		Limiter: failingLimiter{},
		Key:     ByClientIP,
		OnError: func(err error) { reported = err },
	}
	rec := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.EqualError(t, reported, "store down")
}

func TestByProviderAndIP(t *testing.T) {
	var key string
	r := chi.NewRouter()
	r.Get("/payments/{provider}/callback", func(_ http.ResponseWriter, req *http.Request) {
		key = ByProviderAndIP(req)
	})
	req := httptest.NewRequest(http.MethodGet, "/payments/JazzCash/callback", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "jazzcash:192.0.2.7", key)
}
