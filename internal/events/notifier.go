package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/gym-payments/internal/obs"
	"github.com/noah-isme/gym-payments/internal/resilience"
)

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	n.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", payload).
		Msg("payment_event")
	return nil
}

// WebhookNotifier posts forwarded events to a single subscriber endpoint. The
// body is signed with HMAC-SHA256 over "<ts>.<eventID>.<body>".
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *resty.Client
	Replay redis.Cmdable
	TTL    time.Duration
}

// NewWebhookNotifier builds a notifier whose transport is guarded by breaker.
func NewWebhookNotifier(url, secret string, timeout time.Duration, breaker *resilience.Breaker, replay redis.Cmdable, replayTTL time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetLogger(obs.RestyLogger{Logger: zerolog.Nop()}).
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(resilience.Transport{Breaker: breaker})).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "gym-payments-events/1.0")
	return &WebhookNotifier{URL: url, Secret: secret, Client: client, Replay: replay, TTL: replayTTL}
}

// WithLogger sends the HTTP client's own diagnostics to logger.
func (n *WebhookNotifier) WithLogger(logger zerolog.Logger) *WebhookNotifier {
	if n.Client != nil {
		n.Client.SetLogger(obs.RestyLogger{Logger: logger.With().Str("client", "event-webhook").Logger()})
	}
	return n
}

// Notify implements Notifier. Non-2xx responses are errors so the queue retries.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		return nil
	}
	if n.Client == nil {
		return errors.New("events: webhook client not configured")
	}
	if n.Replay != nil && n.TTL > 0 {
		exists, err := n.Replay.Exists(ctx, deliveredKey(ev.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}
	}
	body, err := ev.envelope()
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	resp, err := n.Client.R().
		SetContext(ctx).
		SetHeader("X-Event-ID", ev.ID).
		SetHeader("X-Event-Topic", ev.Topic).
		SetHeader("X-Timestamp", strconv.FormatInt(ts, 10)).
		SetHeader("X-Signature", SignEvent(n.Secret, ts, ev.ID, body)).
		SetBody(body).
		Post(n.URL)
	if err != nil {
		countDelivery(ev.Topic, "failed")
		return fmt.Errorf("deliver %s: %w", ev.ID, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		countDelivery(ev.Topic, "failed")
		return fmt.Errorf("deliver %s: status %d", ev.ID, resp.StatusCode())
	}
	countDelivery(ev.Topic, "delivered")
	if n.Replay != nil && n.TTL > 0 {
		_ = n.Replay.Set(ctx, deliveredKey(ev.ID), "1", n.TTL).Err()
	}
	return nil
}

// SignEvent computes the webhook signature header value.
func SignEvent(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func deliveredKey(eventID string) string {
	return "events:delivered:" + eventID
}

func (ev Event) envelope() ([]byte, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{ev.ID, ev.Topic, ev.AggregateID, payload, ev.OccurredAt})
}
