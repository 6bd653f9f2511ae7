package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gym-payments/internal/billing"
	"github.com/noah-isme/gym-payments/internal/common"
	"github.com/noah-isme/gym-payments/internal/config"
	"github.com/noah-isme/gym-payments/internal/events"
	"github.com/noah-isme/gym-payments/internal/health"
	"github.com/noah-isme/gym-payments/internal/lock"
	"github.com/noah-isme/gym-payments/internal/obs"
	"github.com/noah-isme/gym-payments/internal/payment"
	"github.com/noah-isme/gym-payments/internal/ratelimit"
	"github.com/noah-isme/gym-payments/internal/resilience"
	"github.com/noah-isme/gym-payments/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "gym")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.MustRegisterMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "gym-payments-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("ping redis")
	}
	cancel()

	missing := cfg.MissingProviders()
	unconfigured := make([]string, 0, len(missing))
	for _, key := range missing {
		unconfigured = append(unconfigured, string(key))
		logger.Warn().Str("provider", string(key)).Msg("payment provider credentials missing; calls will fail until configured")
	}

	checkoutBreaker := resilience.NewBreaker(cfg.CircuitCheckoutMinRequests, cfg.CircuitCheckoutFailureRatio, cfg.CircuitCheckoutOpenFor).
		WithTarget("checkout-api").
		WithLogger(logger)
	checkoutClient := payment.NewCheckoutClient(payment.CheckoutClientConfig{
		BaseURL:    cfg.Credentials.Stripe.BaseURL,
		SecretKey:  cfg.Credentials.Stripe.SecretKey,
		Timeout:    cfg.PaymentRemoteTimeout,
		RetryCount: cfg.PaymentRemoteRetries,
		Breaker:    checkoutBreaker,
		Logger:     &logger,
	})
	gateway := payment.NewGateway(logger.With().Str("component", "payment").Logger(),
		payment.NewJazzCash(&cfg.Credentials.JazzCash),
		payment.NewEasyPaisa(&cfg.Credentials.EasyPaisa),
		payment.NewStripe(&cfg.Credentials.Stripe, checkoutClient),
	)

	bus, closeBus := newEventBus(cfg, redisOpts, redisClient, logger)
	defer closeBus()

	svc := &billing.Service{
		Gateway:  gateway,
		Pending:  billing.PendingPayments{R: redisClient, TTL: cfg.PendingPaymentTTL},
		Consumed: billing.ConsumedReferences{R: redisClient, TTL: cfg.PaymentReplayTTL},
		Subscriptions: billing.SubscriptionStore{
			R:       redisClient,
			Locker:  lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
			LockTTL: cfg.LockTTL,
		},
		Events: bus,
		Pricing: billing.Pricing{
			PKR: cfg.AmountPKR,
			USD: cfg.AmountUSD,
		},
		CallbackBaseURL: cfg.PaymentCallbackBaseURL,
		Extension:       cfg.SubscriptionExtension,
		Logger:          logger.With().Str("component", "billing").Logger(),
	}
	billingHandler := &billing.Handler{Svc: svc, Validate: validator.New()}

	initiateLimiter, err := ratelimit.NewRedisFixedWindow(redisClient, "rl:initiate", cfg.RateLimitInitiatePerMin, time.Minute)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	onLimiterError := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:          envBool("SECURITY_HEADERS_ENABLED", true),
		EnableHSTS:      envBool("SECURITY_HSTS_ENABLED", cfg.AppEnv == "production"),
		NoStorePrefixes: []string{"/api/v1/payments"},
	}.Middleware)
	r.Use(security.CORS(allowedOrigins(cfg)))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      health.RedisChecker{R: redisClient},
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
		Breakers:     map[string]health.StateReporter{"checkout-api": checkoutBreaker},
		Unconfigured: unconfigured,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	billingHandler.Routes(r, billing.Middlewares{
		Initiate: []func(http.Handler) http.Handler{
			ratelimit.Handler{Limiter: initiateLimiter, Key: ratelimit.ByProviderAndIP, OnError: onLimiterError}.Middleware,
			idem.Middleware,
		},
		Callback: []func(http.Handler) http.Handler{
			ratelimit.Handler{
				Limiter: ratelimit.SlidingWindow{Client: redisClient, Prefix: "rl:callback:", Window: time.Minute, Max: cfg.RateLimitCallbackPerMin},
				Key:     ratelimit.ByClientIP,
				OnError: onLimiterError,
			}.Middleware,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("gateway", gateway.String()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// newEventBus wires the Redis stream store, the asynq scheduler and the log
// notifier. The returned func closes the asynq client.
func newEventBus(cfg *config.Config, opts *redis.Options, rdb *redis.Client, logger zerolog.Logger) (*events.Bus, func()) {
	bus := &events.Bus{
		Store:     events.RedisStore{R: rdb},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}
	if !cfg.EventQueueEnabled {
		return bus, func() {}
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	bus.Scheduler = events.AsynqScheduler{
		Client:   client,
		Queue:    cfg.EventQueueName,
		MaxRetry: 10,
		Timeout:  30 * time.Second,
	}
	return bus, func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
