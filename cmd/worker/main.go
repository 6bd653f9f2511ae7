package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gym-payments/internal/config"
	"github.com/noah-isme/gym-payments/internal/events"
	"github.com/noah-isme/gym-payments/internal/obs"
	"github.com/noah-isme/gym-payments/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	namespace := envOrDefault("OBS_METRICS_NAMESPACE", "gym")
	obs.MustRegisterDomainMetrics(namespace, nil)
	resilience.MustRegisterMetrics(namespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	if cfg.EventWebhookURL == "" {
		logger.Warn().Msg("EVENT_WEBHOOK_URL not set; forwarded events are only logged")
	}
	breaker := resilience.NewBreaker(5, 0.5, cfg.CircuitCheckoutOpenFor).
		WithTarget("event-webhook").
		WithLogger(logger)
	handler := events.DeliveryHandler{Notifiers: []events.Notifier{
		events.LogNotifier{Logger: logger},
		events.NewWebhookNotifier(cfg.EventWebhookURL, cfg.EventWebhookSecret, cfg.EventWebhookTimeout, breaker, redisClient, cfg.PaymentReplayTTL).
			WithLogger(logger),
	}}

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Addr:      redisOpts.Addr,
		Username:  redisOpts.Username,
		Password:  redisOpts.Password,
		DB:        redisOpts.DB,
		TLSConfig: redisOpts.TLSConfig,
	}, asynq.Config{
		Concurrency: cfg.EventWorkerConcurrency,
		Queues:      map[string]int{cfg.EventQueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task_type", task.Type()).Msg("event delivery failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(events.TaskTypePaymentEvent, handler)

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Str("queue", cfg.EventQueueName).Int("concurrency", cfg.EventWorkerConcurrency).Msg("worker started")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Options, *redis.Client) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisOpts, redisClient
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
