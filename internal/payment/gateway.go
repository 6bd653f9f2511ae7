package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/gym-payments/internal/obs"
)

// Gateway is the single entry point for payment initiation and verification.
// It routes by provider key and adds telemetry; protocol semantics live in
// the adapters. Register adapters before serving traffic.
type Gateway struct {
	adapters map[ProviderKey]Adapter
	logger   zerolog.Logger
}

// NewGateway builds a gateway over the given adapters.
func NewGateway(logger zerolog.Logger, adapters ...Adapter) *Gateway {
	g := &Gateway{adapters: make(map[ProviderKey]Adapter, len(adapters)), logger: logger}
	for _, a := range adapters {
		g.Register(a)
	}
	return g
}

// Register adds or replaces the adapter for its provider key.
func (g *Gateway) Register(a Adapter) {
	if a == nil {
		return
	}
	g.adapters[a.Key()] = a
}

// Adapter resolves a provider name to its adapter.
func (g *Gateway) Adapter(provider string) (Adapter, bool) {
	key, ok := ParseProviderKey(provider)
	if !ok {
		return nil, false
	}
	a, ok := g.adapters[key]
	return a, ok
}

// Option customises an initiation attempt.
type Option func(*initiateOptions)

type initiateOptions struct {
	currency string
	extras   map[string]string
}

// WithCurrency overrides the adapter's default currency.
func WithCurrency(code string) Option {
	return func(o *initiateOptions) { o.currency = strings.ToUpper(strings.TrimSpace(code)) }
}

// WithExtra passes a provider specific option, e.g. success_url.
func WithExtra(key, value string) Option {
	return func(o *initiateOptions) { o.extras[key] = value }
}

// InitiatePayment validates the request and hands it to the provider adapter.
// Unknown providers and invalid input yield a failure result, never a panic.
func (g *Gateway) InitiatePayment(ctx context.Context, provider string, amount float64, payerID, returnURL string, opts ...Option) (result InitiationResult) {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "Gateway.InitiatePayment")
	defer span.End()
	start := time.Now()
	label := normaliseLabel(provider)

	defer func() {
		if r := recover(); r != nil {
			result = initiationFailure(ProviderKey(label), newError(KindConfiguration, ProviderKey(label), "payment initiation aborted"))
			g.logger.Error().Str("provider", label).Interface("panic", r).Msg("payment_initiation_panic")
		}
		outcome := resultLabel(result.Success, result.Err)
		span.SetAttributes(
			attribute.String("payment.provider", label),
			attribute.String("payment.initiation.result", outcome),
			attribute.Float64("payment.initiation.duration_ms", obs.DurationMillis(time.Since(start))),
		)
		if result.Err != nil {
			span.SetStatus(codes.Error, string(KindOf(result.Err)))
		}
		if obs.PaymentInitiationTotal != nil {
			obs.PaymentInitiationTotal.WithLabelValues(label, outcome).Inc()
		}
		evt := g.logger.Info()
		if !result.Success {
			evt = g.logger.Warn().Str("error_kind", string(KindOf(result.Err))).Str("error", result.Error)
		}
		evt.Str("provider", label).Str("reference", result.Reference).Str("result", outcome).
			Int64("duration_ms", time.Since(start).Milliseconds()).Msg("payment_initiation")
	}()

	adapter, ok := g.Adapter(provider)
	if !ok {
		return initiationFailure(ProviderKey(label), unknownProvider(provider))
	}
	o := initiateOptions{extras: map[string]string{}}
	for _, opt := range opts {
		opt(&o)
	}
	currency := o.currency
	if currency == "" {
		currency = adapter.Currency()
	}
	req, err := NewPaymentRequest(adapter.Key(), amount, currency, strings.TrimSpace(payerID), strings.TrimSpace(returnURL), o.extras)
	if err != nil {
		return initiationFailure(adapter.Key(), err)
	}
	span.SetAttributes(attribute.Int64("payment.amount_minor", req.MinorUnits()), attribute.String("payment.currency", currency))
	return adapter.Initiate(ctx, req)
}

// VerifyPayment routes a callback payload to the provider adapter.
func (g *Gateway) VerifyPayment(ctx context.Context, provider string, payload map[string]string) (result VerificationResult) {
	ctx, span := otel.Tracer("payment.Gateway").Start(ctx, "Gateway.VerifyPayment")
	defer span.End()
	start := time.Now()
	label := normaliseLabel(provider)

	defer func() {
		if r := recover(); r != nil {
			result = verificationFailure(ProviderKey(label), "", newError(KindConfiguration, ProviderKey(label), "payment verification aborted"))
			g.logger.Error().Str("provider", label).Interface("panic", r).Msg("payment_verification_panic")
		}
		outcome := resultLabel(result.Verified, result.Err)
		span.SetAttributes(
			attribute.String("payment.provider", label),
			attribute.String("payment.verification.result", outcome),
		)
		if result.Err != nil {
			span.SetStatus(codes.Error, string(KindOf(result.Err)))
		}
		if obs.PaymentVerificationTotal != nil {
			obs.PaymentVerificationTotal.WithLabelValues(label, outcome).Inc()
		}
		evt := g.logger.Info()
		if !result.Verified {
			evt = g.logger.Warn().Str("error_kind", string(KindOf(result.Err)))
		}
		evt.Str("provider", label).Str("reference", result.Reference).Str("result", outcome).
			Int64("duration_ms", time.Since(start).Milliseconds()).Msg("payment_verification")
	}()

	adapter, ok := g.Adapter(provider)
	if !ok {
		return verificationFailure(ProviderKey(label), "", unknownProvider(provider))
	}
	return adapter.Verify(ctx, CallbackPayload(payload))
}

func unknownProvider(provider string) *Error {
	return newError(KindUnknownProvider, "", "unknown payment provider: %s", strings.TrimSpace(provider))
}

func resultLabel(ok bool, err error) string {
	if ok {
		return "success"
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func normaliseLabel(value string) string {
	if key, ok := ParseProviderKey(value); ok {
		return string(key)
	}
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// String describes the registered providers; used in startup logs.
func (g *Gateway) String() string {
	keys := make([]string, 0, len(g.adapters))
	for k := range g.adapters {
		keys = append(keys, string(k))
	}
	return fmt.Sprintf("Gateway%v", keys)
}
