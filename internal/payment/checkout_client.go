package payment

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/gym-payments/internal/obs"
	"github.com/noah-isme/gym-payments/internal/resilience"
)

const (
	defaultCheckoutBaseURL = "https://api.stripe.com"
	defaultRemoteTimeout   = 10 * time.Second

	// SessionPaid is the payment_status a completed checkout session reports.
	SessionPaid = "paid"
)

// CheckoutClientConfig configures the hosted-checkout session API client.
type CheckoutClientConfig struct {
	BaseURL     string
	SecretKey   string
	Timeout     time.Duration
	RetryCount  int
	RetryWait   time.Duration
	Breaker     *resilience.Breaker
	Transport   http.RoundTripper
	ServiceName string
	Logger      *zerolog.Logger
}

// CheckoutClient is a thin client for the checkout session API: create a
// session and retrieve its status. Integrity is delegated to the provider.
type CheckoutClient struct {
	http       *resty.Client
	configured bool
	timeout    time.Duration
}

// SessionParams describes a single-item payment session.
type SessionParams struct {
	AmountMinor   int64
	Currency      string
	Name          string
	Description   string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
	Metadata      map[string]string
}

// Session is the subset of the provider session object the adapter needs.
type Session struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewCheckoutClient builds a resty client with bearer auth, the
// breaker-guarded transport and OpenTelemetry instrumentation. Timeout bounds
// a whole call, retries included.
func NewCheckoutClient(cfg CheckoutClientConfig) *CheckoutClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultCheckoutBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = 200 * time.Millisecond
	}
	name := cfg.ServiceName
	if name == "" {
		name = "checkout-api"
	}
	transport := otelhttp.NewTransport(
		resilience.Transport{Base: cfg.Transport, Breaker: cfg.Breaker},
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return name + " " + r.Method + " " + r.URL.Path
		}),
	)

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	client := resty.New().
		SetLogger(obs.RestyLogger{Logger: logger.With().Str("client", name).Logger()}).
		SetBaseURL(baseURL).
		SetAuthToken(cfg.SecretKey).
		SetTransport(transport).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(retryWait).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			var raw *http.Response
			attempt := 1
			if resp != nil {
				raw = resp.RawResponse
				if resp.Request != nil {
					attempt = resp.Request.Attempt
				}
			}
			return resilience.RetryDelay(retryWait, attempt, 0.2, raw), nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp != nil && resp.Request != nil && resp.Request.Context().Err() != nil {
				return false
			}
			if err != nil {
				return !errors.Is(err, resilience.ErrOpenCircuit) && !errors.Is(err, context.Canceled)
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
		})

	return &CheckoutClient{http: client, configured: strings.TrimSpace(cfg.SecretKey) != "", timeout: timeout}
}

// Configured reports whether an API key is present.
func (c *CheckoutClient) Configured() bool { return c != nil && c.configured }

// CreateSession opens a checkout session. Each call carries a fresh
// Idempotency-Key so transport retries cannot create duplicate sessions.
func (c *CheckoutClient) CreateSession(ctx context.Context, p SessionParams) (Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(p.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.Name)
	if p.Description != "" {
		form.Set("line_items[0][price_data][product_data][description]", p.Description)
	}
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}
	for k, v := range p.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	// retries share one deadline
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var session Session
	var apiErr apiErrorBody
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", uuid.NewString()).
		SetFormDataFromValues(form).
		SetResult(&session).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	observeRemote("create_session", start, resp, err)
	if rerr := classifyRemote(resp, err, &apiErr); rerr != nil {
		return Session{}, rerr
	}
	if session.ID == "" || session.URL == "" {
		return Session{}, remoteError(ProviderStripe, false, "checkout session response is missing id or url", nil)
	}
	return session, nil
}

// RetrieveSession fetches a session by id.
func (c *CheckoutClient) RetrieveSession(ctx context.Context, id string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var session Session
	var apiErr apiErrorBody
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&session).
		SetError(&apiErr).
		Get("/v1/checkout/sessions/{id}")
	observeRemote("retrieve_session", start, resp, err)
	if rerr := classifyRemote(resp, err, &apiErr); rerr != nil {
		return Session{}, rerr
	}
	return session, nil
}

// classifyRemote maps transport and HTTP failures to remote errors. Network
// failures, timeouts, an open breaker, 429 and 5xx are retryable; other 4xx
// responses are terminal.
func classifyRemote(resp *resty.Response, err error, apiErr *apiErrorBody) error {
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrOpenCircuit):
			return remoteError(ProviderStripe, true, "payment gateway unreachable: circuit open", err)
		case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
			return remoteError(ProviderStripe, true, "payment gateway unreachable: timeout", err)
		case errors.Is(err, context.Canceled):
			return remoteError(ProviderStripe, false, "payment request canceled", err)
		default:
			return remoteError(ProviderStripe, true, "payment gateway unreachable", err)
		}
	}
	if !resp.IsError() {
		return nil
	}
	status := resp.StatusCode()
	msg := strings.TrimSpace(apiErr.Error.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	retryable := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return remoteError(ProviderStripe, retryable, msg, &RemoteStatusError{Status: status, Type: apiErr.Error.Type, Code: apiErr.Error.Code})
}

// RemoteStatusError records the HTTP status and provider error code of a
// rejected call. It is kept out of user facing messages.
type RemoteStatusError struct {
	Status int
	Type   string
	Code   string
}

func (e *RemoteStatusError) Error() string {
	return "remote status " + strconv.Itoa(e.Status) + " " + e.Type + " " + e.Code
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func observeRemote(op string, start time.Time, resp *resty.Response, err error) {
	if obs.PaymentRemoteDuration == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "network_error"
	case resp.IsError():
		outcome = strconv.Itoa(resp.StatusCode())
	}
	obs.PaymentRemoteDuration.WithLabelValues(op, outcome).Observe(obs.DurationMillis(time.Since(start)))
}
