package payment

import (
	"context"
	"errors"
	"strings"
)

const (
	stripeSessionIDField = "session_id"
	checkoutSessionToken = "{CHECKOUT_SESSION_ID}"
)

// SessionAPI is the remote session surface the hosted-checkout adapter uses.
type SessionAPI interface {
	CreateSession(ctx context.Context, p SessionParams) (Session, error)
	RetrieveSession(ctx context.Context, id string) (Session, error)
}

// Stripe adapts the hosted-checkout flow: the provider hosts the payment UI
// and the session object is the source of truth, so no local signing occurs.
type Stripe struct {
	api        SessionAPI
	configured bool
	currency   string
}

// NewStripe binds the adapter to a session client.
func NewStripe(creds *StripeCredentials, api SessionAPI) *Stripe {
	configured := creds != nil && strings.TrimSpace(creds.SecretKey) != ""
	return &Stripe{api: api, configured: configured && api != nil, currency: "USD"}
}

// Key implements Adapter.
func (s *Stripe) Key() ProviderKey { return ProviderStripe }

// Currency implements Adapter.
func (s *Stripe) Currency() string { return s.currency }

// Initiate creates a checkout session and returns its redirect URL. The
// session id doubles as correlation reference.
func (s *Stripe) Initiate(ctx context.Context, req PaymentRequest) InitiationResult {
	if !s.configured {
		return initiationFailure(ProviderStripe, configurationError(ProviderStripe, "stripe secret key is not configured"))
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}
	minor := req.MinorUnits()
	if minor <= 0 {
		return initiationFailure(ProviderStripe, validationError(ProviderStripe, "amount must be positive"))
	}
	session, err := s.api.CreateSession(ctx, SessionParams{
		AmountMinor:   minor,
		Currency:      currency,
		Name:          req.Extra("product_name", "Gym Membership Subscription"),
		Description:   req.Extra("description", "Monthly gym membership"),
		SuccessURL:    withSessionToken(req.Extra("success_url", req.ReturnURL)),
		CancelURL:     req.Extra("cancel_url", req.ReturnURL),
		CustomerEmail: req.PayerID,
		Metadata: map[string]string{
			"purpose": req.Extra("purpose", "gym_subscription"),
			"email":   req.PayerID,
		},
	})
	if err != nil {
		return initiationFailure(ProviderStripe, asPaymentError(err))
	}
	return InitiationResult{
		Success:     true,
		Provider:    ProviderStripe,
		RedirectURL: session.URL,
		Reference:   session.ID,
	}
}

// Verify retrieves the session named by the callback and requires the paid
// status. A failed lookup is reported as a remote error, never as a decline.
func (s *Stripe) Verify(ctx context.Context, payload CallbackPayload) VerificationResult {
	id := strings.TrimSpace(payload[stripeSessionIDField])
	if id == "" {
		return verificationFailure(ProviderStripe, "", validationError(ProviderStripe, "missing session id"))
	}
	if !s.configured {
		return verificationFailure(ProviderStripe, id, configurationError(ProviderStripe, "stripe secret key is not configured"))
	}
	session, err := s.api.RetrieveSession(ctx, id)
	if err != nil {
		perr := asPaymentError(err)
		msg := "payment service unavailable, try again"
		if !perr.Retryable {
			msg = "verification failed: " + perr.Message
		}
		return verificationFailure(ProviderStripe, id, &Error{
			Kind:      KindRemote,
			Provider:  ProviderStripe,
			Message:   msg,
			Retryable: perr.Retryable,
			Err:       perr,
		})
	}
	if session.PaymentStatus != SessionPaid {
		status := session.PaymentStatus
		if status == "" {
			status = session.Status
		}
		if session.Status != "" && session.Status != status {
			status = session.Status + "/" + status
		}
		return verificationFailure(ProviderStripe, id, declinedError(ProviderStripe, "Payment not completed: "+status))
	}
	return VerificationResult{Verified: true, Provider: ProviderStripe, Reference: session.ID, Message: "Payment successful"}
}

// withSessionToken appends the placeholder the provider substitutes with the
// real session id, so the success redirect carries it back to the callback.
func withSessionToken(successURL string) string {
	if strings.Contains(successURL, checkoutSessionToken) {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + stripeSessionIDField + "=" + checkoutSessionToken
}

func asPaymentError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return remoteError(ProviderStripe, true, "payment gateway unreachable", err)
}
