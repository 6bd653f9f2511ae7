package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/gym-payments/internal/payment"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	PaymentCallbackBaseURL string
	Credentials            payment.Credentials
	PaymentRemoteTimeout   time.Duration
	PaymentRemoteRetries   int
	AmountPKR              decimal.Decimal
	AmountUSD              decimal.Decimal
	SubscriptionExtension  time.Duration
	PaymentReplayTTL       time.Duration
	PendingPaymentTTL      time.Duration

	IdempotencyTTL          time.Duration
	RateLimitInitiatePerMin int64
	RateLimitCallbackPerMin int
	BodyLimitBytes          int64

	CircuitCheckoutMinRequests  int
	CircuitCheckoutFailureRatio float64
	CircuitCheckoutOpenFor      time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	EventQueueEnabled      bool
	EventQueueName         string
	EventWebhookURL        string
	EventWebhookSecret     string
	EventWebhookTimeout    time.Duration
	EventWorkerConcurrency int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PaymentCallbackBaseURL: strings.TrimRight(valueOrDefault(k.String("PAYMENT_CALLBACK_BASE_URL"), "http://localhost:8080"), "/"),
		Credentials: payment.Credentials{
			JazzCash: payment.JazzCashCredentials{
				MerchantID:    strings.TrimSpace(k.String("JAZZCASH_MERCHANT_ID")),
				Password:      strings.TrimSpace(k.String("JAZZCASH_PASSWORD")),
				IntegritySalt: strings.TrimSpace(k.String("JAZZCASH_INTEGRITY_SALT")),
				PostURL:       strings.TrimSpace(k.String("JAZZCASH_URL")),
			},
			EasyPaisa: payment.EasyPaisaCredentials{
				StoreID: strings.TrimSpace(k.String("EASYPAISA_STORE_ID")),
				HashKey: strings.TrimSpace(k.String("EASYPAISA_HASH_KEY")),
				PostURL: strings.TrimSpace(k.String("EASYPAISA_URL")),
			},
			Stripe: payment.StripeCredentials{
				SecretKey:      strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
				PublishableKey: strings.TrimSpace(k.String("STRIPE_PUBLIC_KEY")),
				BaseURL:        strings.TrimSpace(k.String("STRIPE_BASE_URL")),
			},
		},
		PaymentRemoteTimeout:  parseDuration(k.String("PAYMENT_REMOTE_TIMEOUT"), "10s"),
		PaymentRemoteRetries:  parseInt(k.String("PAYMENT_REMOTE_RETRIES"), 2),
		AmountPKR:             parseDecimal(k.String("PAYMENT_AMOUNT_PKR"), "5000"),
		AmountUSD:             parseDecimal(k.String("PAYMENT_AMOUNT_USD"), "60"),
		SubscriptionExtension: parseDuration(k.String("SUBSCRIPTION_EXTENSION"), "720h"),
		PaymentReplayTTL:      parseDuration(k.String("PAYMENT_REPLAY_TTL"), "2160h"),
		PendingPaymentTTL:     parseDuration(k.String("PAYMENT_PENDING_TTL"), "24h"),

		IdempotencyTTL:          parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitInitiatePerMin: int64(parseInt(k.String("RATE_LIMIT_INITIATE_PER_MIN"), 10)),
		RateLimitCallbackPerMin: parseInt(k.String("RATE_LIMIT_CALLBACK_PER_MIN"), 60),
		BodyLimitBytes:          int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),

		CircuitCheckoutMinRequests:  parseInt(k.String("CIRCUIT_CHECKOUT_MIN_REQ"), 10),
		CircuitCheckoutFailureRatio: parseFloat(k.String("CIRCUIT_CHECKOUT_FAILURE_RATE"), 0.5),
		CircuitCheckoutOpenFor:      parseDuration(k.String("CIRCUIT_CHECKOUT_OPEN_FOR"), "30s"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		EventQueueEnabled:      parseBool(valueOrDefault(k.String("EVENT_QUEUE_ENABLED"), "true")),
		EventQueueName:         valueOrDefault(k.String("EVENT_QUEUE_NAME"), "payments"),
		EventWebhookURL:        strings.TrimSpace(k.String("EVENT_WEBHOOK_URL")),
		EventWebhookSecret:     strings.TrimSpace(k.String("EVENT_WEBHOOK_SECRET")),
		EventWebhookTimeout:    parseDuration(k.String("EVENT_WEBHOOK_TIMEOUT"), "5s"),
		EventWorkerConcurrency: parseInt(k.String("EVENT_WORKER_CONCURRENCY"), 5),
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if !cfg.AmountPKR.IsPositive() || !cfg.AmountUSD.IsPositive() {
		return nil, errors.New("PAYMENT_AMOUNT_PKR and PAYMENT_AMOUNT_USD must be positive")
	}
	if cfg.SubscriptionExtension <= 0 {
		return nil, errors.New("SUBSCRIPTION_EXTENSION must be positive")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// MissingProviders lists providers whose credentials are incomplete. They stay
// registered and fail each call with a configuration error.
func (c *Config) MissingProviders() []payment.ProviderKey {
	configured := c.Credentials.Configured()
	var missing []payment.ProviderKey
	for _, key := range []payment.ProviderKey{payment.ProviderJazzCash, payment.ProviderEasyPaisa, payment.ProviderStripe} {
		if !configured[key] {
			missing = append(missing, key)
		}
	}
	return missing
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseFloat(value string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && v > 0 {
		return v
	}
	return fallback
}

func parseDecimal(value, fallback string) decimal.Decimal {
	if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
		return d
	}
	return decimal.RequireFromString(fallback)
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
