package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/gym-payments/internal/events"
	"github.com/noah-isme/gym-payments/internal/obs"
	"github.com/noah-isme/gym-payments/internal/payment"
)

var (
	// ErrAlreadyConsumed is returned when a verified reference was already
	// used to extend a subscription.
	ErrAlreadyConsumed = errors.New("billing: payment reference already consumed")
	// ErrUnknownReference is returned for verified callbacks whose reference
	// was never issued by this service or has expired.
	ErrUnknownReference = errors.New("billing: unknown payment reference")
)

// Gateway is the subset of *payment.Gateway used by the service.
type Gateway interface {
	InitiatePayment(ctx context.Context, provider string, amount float64, payerID, returnURL string, opts ...payment.Option) payment.InitiationResult
	VerifyPayment(ctx context.Context, provider string, payload map[string]string) payment.VerificationResult
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service turns gateway results into membership time.
type Service struct {
	Gateway         Gateway
	Pending         PendingPayments
	Consumed        ConsumedReferences
	Subscriptions   SubscriptionStore
	Events          Emitter
	Pricing         Pricing
	CallbackBaseURL string
	Extension       time.Duration
	Logger          zerolog.Logger
}

// Completion is the outcome of a verified and settled callback.
type Completion struct {
	Provider     payment.ProviderKey `json:"provider"`
	Reference    string              `json:"reference"`
	Message      string              `json:"message"`
	Subscription Subscription        `json:"subscription"`
}

type paymentEvent struct {
	Provider  payment.ProviderKey `json:"provider"`
	Reference string              `json:"reference"`
	PayerID   string              `json:"payerId,omitempty"`
	Amount    string              `json:"amount,omitempty"`
	Currency  string              `json:"currency,omitempty"`
	Message   string              `json:"message,omitempty"`
	ExpiresAt *time.Time          `json:"expiresAt,omitempty"`
	Market    Market              `json:"market,omitempty"`
}

// CallbackURL is where provider redirects land for provider.
func (s *Service) CallbackURL(provider payment.ProviderKey) string {
	return strings.TrimRight(s.CallbackBaseURL, "/") + "/api/v1/payments/" + string(provider) + "/callback"
}

// Initiate starts a membership payment for payerID through provider. Payment
// failures come back inside the result; the error is reserved for failures
// of this service's own storage.
func (s *Service) Initiate(ctx context.Context, provider, payerID string) (payment.InitiationResult, error) {
	key, ok := payment.ParseProviderKey(provider)
	if !ok {
		return s.Gateway.InitiatePayment(ctx, provider, 0, payerID, ""), nil
	}
	market, currency, amount := s.Pricing.Quote(key)
	callback := s.CallbackURL(key)
	opts := []payment.Option{payment.WithCurrency(currency), payment.WithExtra("market", string(market))}
	if key == payment.ProviderStripe {
		base := strings.TrimRight(s.CallbackBaseURL, "/")
		opts = append(opts,
			payment.WithExtra("success_url", callback),
			payment.WithExtra("cancel_url", base+"/subscription?payment=cancelled"),
		)
	}

	res := s.Gateway.InitiatePayment(ctx, provider, amount.InexactFloat64(), payerID, callback, opts...)
	if !res.Success {
		return res, nil
	}
	if err := s.Pending.Remember(ctx, key, res.Reference, strings.TrimSpace(payerID)); err != nil {
		return payment.InitiationResult{}, fmt.Errorf("billing: remember reference: %w", err)
	}
	s.emit(ctx, events.TopicPaymentInitiated, res.Reference, paymentEvent{
		Provider:  key,
		Reference: res.Reference,
		PayerID:   strings.TrimSpace(payerID),
		Amount:    amount.StringFixed(2),
		Currency:  currency,
	})
	return res, nil
}

// Complete verifies a provider callback and, on success, extends the payer's
// subscription exactly once per reference.
func (s *Service) Complete(ctx context.Context, provider string, payload map[string]string) (Completion, error) {
	ctx, span := otel.Tracer("billing.Service").Start(ctx, "Service.Complete")
	defer span.End()

	res := s.Gateway.VerifyPayment(ctx, provider, payload)
	span.SetAttributes(
		attribute.String("payment.provider", string(res.Provider)),
		attribute.Bool("payment.verified", res.Verified),
	)
	if !res.Verified {
		if errors.Is(res.Err, payment.ErrDeclined) && res.Reference != "" {
			s.emit(ctx, events.TopicPaymentFailed, res.Reference, paymentEvent{
				Provider:  res.Provider,
				Reference: res.Reference,
				Message:   res.Message,
			})
		}
		if res.Err == nil {
			return Completion{}, errors.New(res.Message)
		}
		return Completion{}, res.Err
	}

	key := res.Provider
	payerID, found, err := s.Pending.Lookup(ctx, key, res.Reference)
	if err != nil {
		return Completion{}, fmt.Errorf("billing: lookup reference: %w", err)
	}
	if !found {
		// a settled reference has no pending record left
		consumed, err := s.Consumed.Seen(ctx, key, res.Reference)
		if err != nil {
			return Completion{}, fmt.Errorf("billing: check consumed reference: %w", err)
		}
		if consumed {
			return Completion{}, s.rejectReplay(key, res.Reference)
		}
		s.Logger.Warn().Str("provider", string(key)).Str("reference", res.Reference).Msg("verified_callback_unknown_reference")
		return Completion{}, ErrUnknownReference
	}

	claimed, err := s.Consumed.Consume(ctx, key, res.Reference, payerID)
	if err != nil {
		return Completion{}, fmt.Errorf("billing: consume reference: %w", err)
	}
	if !claimed {
		return Completion{}, s.rejectReplay(key, res.Reference)
	}

	market, _, _ := s.Pricing.Quote(key)
	sub, err := s.Subscriptions.Extend(ctx, payerID, market, s.Extension)
	if err != nil {
		if relErr := s.Consumed.Release(context.WithoutCancel(ctx), key, res.Reference); relErr != nil {
			s.Logger.Error().Err(relErr).Str("reference", res.Reference).Msg("consumed_reference_release_failed")
		}
		return Completion{}, err
	}
	if err := s.Pending.Forget(ctx, key, res.Reference); err != nil {
		s.Logger.Warn().Err(err).Str("reference", res.Reference).Msg("pending_reference_cleanup_failed")
	}
	if obs.SubscriptionExtensions != nil {
		obs.SubscriptionExtensions.WithLabelValues(string(key), string(market)).Inc()
	}

	expires := sub.ExpiresAt
	s.emit(ctx, events.TopicPaymentSucceeded, res.Reference, paymentEvent{
		Provider:  key,
		Reference: res.Reference,
		PayerID:   payerID,
		Message:   res.Message,
	})
	s.emit(ctx, events.TopicSubscriptionRenew, payerID, paymentEvent{
		Provider:  key,
		Reference: res.Reference,
		PayerID:   payerID,
		ExpiresAt: &expires,
		Market:    market,
	})
	s.Logger.Info().Str("provider", string(key)).Str("reference", res.Reference).
		Time("expires_at", sub.ExpiresAt).Str("market", string(market)).Msg("subscription_extended")

	return Completion{Provider: key, Reference: res.Reference, Message: res.Message, Subscription: sub}, nil
}

func (s *Service) rejectReplay(key payment.ProviderKey, reference string) error {
	if obs.PaymentReplayRejected != nil {
		obs.PaymentReplayRejected.WithLabelValues(string(key)).Inc()
	}
	s.Logger.Warn().Str("provider", string(key)).Str("reference", reference).Msg("payment_replay_rejected")
	return ErrAlreadyConsumed
}

// Subscription returns the current membership state of payerID.
func (s *Service) Subscription(ctx context.Context, payerID string) (Subscription, bool, error) {
	return s.Subscriptions.Get(ctx, payerID)
}

// emit never fails the payment flow; delivery problems are logged.
func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload paymentEvent) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.Logger.Error().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("event_emit_failed")
	}
}
