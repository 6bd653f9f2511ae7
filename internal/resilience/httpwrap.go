package resilience

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Transport guards an http.RoundTripper with a circuit breaker. Transport
// errors and 5xx responses count as failures; anything else is a success.
type Transport struct {
	Base    http.RoundTripper
	Breaker *Breaker
}

// RoundTrip implements http.RoundTripper. When the breaker is open the
// request is not sent and ErrOpenCircuit is returned.
func (t Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Breaker == nil {
		return base.RoundTrip(req)
	}
	ctx := req.Context()
	if !t.Breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}
	resp, err := base.RoundTrip(req)
	t.Breaker.Report(ctx, err == nil && resp.StatusCode < http.StatusInternalServerError)
	return resp, err
}

// Backoff doubles base for every attempt after the first. jitterPct spreads
// the result by up to that fraction in either direction.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << max(attempt-1, 0)
	if jitterPct > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * jitterPct * float64(d))
	}
	return d
}

// RetryDelay returns the wait before retry attempt n (1-based), honouring a
// Retry-After header in seconds when the server sent one.
func RetryDelay(base time.Duration, attempt int, jitterPct float64, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return Backoff(base, attempt, jitterPct)
}
