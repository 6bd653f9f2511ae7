package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHeadersMiddlewareSetsSecurityHeaders(t *testing.T) {
	handler := Headers{
		Enable:                true,
		EnableHSTS:            true,
		HSTSIncludeSubdomains: true,
		NoStorePrefixes:       []string{"/api/v1/payments"},
	}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "https://gym.example.com/api/v1/payments/stripe/initiate", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	headers := rr.Result().Header
	require.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	require.Equal(t, "max-age=31536000; includeSubDomains", headers.Get("Strict-Transport-Security"))
	require.Equal(t, "no-store", headers.Get("Cache-Control"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://gym.example.com/health/live", nil))
	require.Empty(t, rr.Header().Get("Cache-Control"))
	require.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}

func TestHeadersMiddlewareDisabled(t *testing.T) {
	handler := Headers{Enable: false, EnableHSTS: true}.Middleware(okHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://example.com", nil))
	require.Empty(t, rr.Header().Get("X-Content-Type-Options"))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	handler := CORS([]string{"https://gym.example.com", " "})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/v1/payments/stripe/initiate", nil)
	req.Header.Set("Origin", "https://gym.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, "https://gym.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	bad := httptest.NewRequest(http.MethodOptions, "http://localhost/api/v1/payments/stripe/initiate", nil)
	bad.Header.Set("Origin", "https://malicious.example")
	bad.Header.Set("Access-Control-Request-Method", http.MethodPost)
	badRR := httptest.NewRecorder()
	handler.ServeHTTP(badRR, bad)
	require.Empty(t, badRR.Header().Get("Access-Control-Allow-Origin"))
}
