package payment

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	epStoreID          = "storeId"
	epAmount           = "amount"
	epPostBackURL      = "postBackURL"
	epOrderRefNum      = "orderRefNum"
	epExpiryDate       = "expiryDate"
	epHashedRequest    = "merchantHashedReq"
	epAutoRedirect     = "autoRedirect"
	epPaymentMethod    = "paymentMethod"
	epEmailAddress     = "emailAddress"
	epResponseCode     = "responseCode"
	epResponseDesc     = "responseDesc"
	epTransactionRef   = "transactionRefNumber"
	epTransactionState = "transactionStatus"

	easypaisaSuccessCode     = "0000"
	easypaisaExpiryLayout    = "20060102 150405"
	easypaisaDefaultPostURL  = "https://easypay.easypaisa.com.pk/easypay/Index.jsf"
	easypaisaReferencePrefix = "EP"
)

var easypaisaRequestSchema = Schema{
	{Name: epStoreID, Required: true},
	{Name: epAmount, Required: true},
	{Name: epPostBackURL, Required: true},
	{Name: epOrderRefNum, Required: true},
	{Name: epExpiryDate, Required: true},
	{Name: epHashedRequest},
	{Name: epAutoRedirect, Required: true},
	{Name: epPaymentMethod, Required: true},
	{Name: epEmailAddress},
}

var easypaisaResponseSchema = Schema{
	{Name: epResponseCode, Required: true},
	{Name: epResponseDesc},
	{Name: epOrderRefNum, Required: true},
	{Name: epTransactionRef},
	{Name: epTransactionState},
	{Name: epAmount},
	{Name: epPaymentMethod},
	{Name: epHashedRequest, Required: true},
}

// EasyPaisa builds and validates mobile-wallet redirect forms. Like JazzCash
// it is pure; the digest is a plain SHA-256 rather than an HMAC.
type EasyPaisa struct {
	creds  EasyPaisaCredentials
	engine SignatureEngine
	clock  func() time.Time
	expiry time.Duration
}

// NewEasyPaisa binds the adapter to its store credentials.
func NewEasyPaisa(creds *EasyPaisaCredentials, opts ...FormOption) *EasyPaisa {
	o := applyFormOptions(2*time.Hour, opts)
	c := EasyPaisaCredentials{}
	if creds != nil {
		c = *creds
	}
	if strings.TrimSpace(c.PostURL) == "" {
		c.PostURL = easypaisaDefaultPostURL
	}
	return &EasyPaisa{
		creds:  c,
		engine: NewSignatureEngine(SchemeSHA256, c.HashKey, epHashedRequest),
		clock:  o.clock,
		expiry: o.expiry,
	}
}

// Key implements Adapter.
func (e *EasyPaisa) Key() ProviderKey { return ProviderEasyPaisa }

// Currency implements Adapter.
func (e *EasyPaisa) Currency() string { return "PKR" }

// Initiate builds the signed form the browser posts to the EasyPaisa portal.
func (e *EasyPaisa) Initiate(_ context.Context, req PaymentRequest) InitiationResult {
	if strings.TrimSpace(e.creds.StoreID) == "" || !e.engine.Configured() {
		return initiationFailure(ProviderEasyPaisa, configurationError(ProviderEasyPaisa, "easypaisa store credentials are not configured"))
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency != "" && currency != e.Currency() {
		return initiationFailure(ProviderEasyPaisa, validationError(ProviderEasyPaisa, "easypaisa only accepts %s, got %s", e.Currency(), currency))
	}
	minor := req.MinorUnits()
	if minor <= 0 {
		return initiationFailure(ProviderEasyPaisa, validationError(ProviderEasyPaisa, "amount must be positive"))
	}

	now := e.clock().In(pakistanTime)
	ref := NewReference(easypaisaReferencePrefix, now, req.PayerID, 0)
	values := []fieldValue{
		{epStoreID, e.creds.StoreID},
		{epAmount, easypaisaAmount(minor)},
		{epPostBackURL, req.ReturnURL},
		{epOrderRefNum, ref},
		{epExpiryDate, now.Add(e.expiry).Format(easypaisaExpiryLayout)},
		{epHashedRequest, ""},
		{epAutoRedirect, "0"},
		{epPaymentMethod, req.Extra("payment_method", "MA_PAYMENT_METHOD")},
		{epEmailAddress, req.PayerID},
	}
	form, err := easypaisaRequestSchema.Build(ProviderEasyPaisa, values)
	if err != nil {
		return initiationFailure(ProviderEasyPaisa, err)
	}
	signature := e.engine.ComputeDigest(form)
	if signature == "" {
		return initiationFailure(ProviderEasyPaisa, configurationError(ProviderEasyPaisa, "easypaisa hash key is not configured"))
	}
	form[epHashedRequest] = signature

	return InitiationResult{
		Success:    true,
		Provider:   ProviderEasyPaisa,
		PostURL:    e.creds.PostURL,
		FormFields: form,
		Reference:  ref,
	}
}

// Verify authenticates an EasyPaisa postback and checks its response code.
func (e *EasyPaisa) Verify(_ context.Context, payload CallbackPayload) VerificationResult {
	ref := strings.TrimSpace(payload[epOrderRefNum])
	provided := strings.TrimSpace(payload[epHashedRequest])
	if provided == "" {
		return verificationFailure(ProviderEasyPaisa, ref, signatureError(ProviderEasyPaisa, "missing signature"))
	}
	if !e.engine.Configured() {
		return verificationFailure(ProviderEasyPaisa, ref, configurationError(ProviderEasyPaisa, "easypaisa hash key is not configured"))
	}
	if !e.engine.VerifyDigest(payload, provided) {
		return verificationFailure(ProviderEasyPaisa, ref, signatureError(ProviderEasyPaisa, "invalid signature"))
	}
	if missing := easypaisaResponseSchema.Missing(payload); len(missing) > 0 {
		return verificationFailure(ProviderEasyPaisa, ref, validationError(ProviderEasyPaisa, "malformed callback: missing %s", strings.Join(missing, ", ")))
	}
	if payload[epResponseCode] != easypaisaSuccessCode {
		return verificationFailure(ProviderEasyPaisa, ref, declinedError(ProviderEasyPaisa, "Payment failed: "+providerMessage(payload[epResponseDesc])))
	}
	return VerificationResult{Verified: true, Provider: ProviderEasyPaisa, Reference: ref, Message: "Payment successful"}
}

// easypaisaAmount renders minor units in the major-unit form the portal
// expects: one decimal place unless the paisa digit is significant.
func easypaisaAmount(minor int64) string {
	amount := decimal.New(minor, -2)
	if minor%10 == 0 {
		return amount.StringFixed(1)
	}
	return amount.StringFixed(2)
}
