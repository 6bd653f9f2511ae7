package payment

import (
	"context"
	"strconv"
	"strings"
	"time"
)

const (
	jcVersion          = "pp_Version"
	jcTxnType          = "pp_TxnType"
	jcLanguage         = "pp_Language"
	jcMerchantID       = "pp_MerchantID"
	jcPassword         = "pp_Password"
	jcTxnRefNo         = "pp_TxnRefNo"
	jcAmount           = "pp_Amount"
	jcTxnCurrency      = "pp_TxnCurrency"
	jcTxnDateTime      = "pp_TxnDateTime"
	jcBillReference    = "pp_BillReference"
	jcDescription      = "pp_Description"
	jcTxnExpiry        = "pp_TxnExpiryDateTime"
	jcReturnURL        = "pp_ReturnURL"
	jcSecureHash       = "pp_SecureHash"
	jcPayerField       = "ppmpf_1"
	jcResponseCode     = "pp_ResponseCode"
	jcResponseMessage  = "pp_ResponseMessage"
	jcRetreivalRefNo   = "pp_RetreivalReferenceNo"
	jcAuthCode         = "pp_AuthCode"
	jcSettlementExpiry = "pp_SettlementExpiry"

	jazzcashSuccessCode     = "000"
	jazzcashDateLayout      = "20060102150405"
	jazzcashDefaultPostURL  = "https://sandbox.jazzcash.com.pk/CustomerPortal/transactionmanagement/merchantform/"
	jazzcashReferencePrefix = "T"
)

var jazzcashRequestSchema = Schema{
	{Name: jcVersion, Required: true},
	{Name: jcTxnType, Required: true},
	{Name: jcLanguage, Required: true},
	{Name: jcMerchantID, Required: true},
	{Name: jcPassword, Required: true},
	{Name: jcTxnRefNo, Required: true},
	{Name: jcAmount, Required: true},
	{Name: jcTxnCurrency, Required: true},
	{Name: jcTxnDateTime, Required: true},
	{Name: jcBillReference, Required: true},
	{Name: jcDescription, Required: true},
	{Name: jcTxnExpiry, Required: true},
	{Name: jcReturnURL, Required: true},
	{Name: jcSecureHash},
	{Name: jcPayerField},
}

var jazzcashResponseSchema = Schema{
	{Name: jcResponseCode, Required: true},
	{Name: jcResponseMessage},
	{Name: jcTxnRefNo, Required: true},
	{Name: jcAmount},
	{Name: jcTxnCurrency},
	{Name: jcTxnDateTime},
	{Name: jcRetreivalRefNo},
	{Name: jcAuthCode},
	{Name: jcSettlementExpiry},
	{Name: jcSecureHash, Required: true},
}

// pakistanTime is PKT; Pakistan does not observe daylight saving.
var pakistanTime = time.FixedZone("PKT", 5*60*60)

// JazzCash builds and validates wallet-debit redirect forms. It performs no
// network I/O and is safe for concurrent use.
type JazzCash struct {
	creds  JazzCashCredentials
	engine SignatureEngine
	clock  func() time.Time
	expiry time.Duration
}

// FormOption customises a redirect-form adapter.
type FormOption func(*formOptions)

type formOptions struct {
	clock  func() time.Time
	expiry time.Duration
}

// WithClock overrides the time source used for references and timestamps.
func WithClock(clock func() time.Time) FormOption {
	return func(o *formOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithExpiry overrides how long the provider keeps the transaction open.
func WithExpiry(d time.Duration) FormOption {
	return func(o *formOptions) {
		if d > 0 {
			o.expiry = d
		}
	}
}

func applyFormOptions(defaultExpiry time.Duration, opts []FormOption) formOptions {
	o := formOptions{clock: time.Now, expiry: defaultExpiry}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewJazzCash binds the adapter to its merchant credentials.
func NewJazzCash(creds *JazzCashCredentials, opts ...FormOption) *JazzCash {
	o := applyFormOptions(time.Hour, opts)
	c := JazzCashCredentials{}
	if creds != nil {
		c = *creds
	}
	if strings.TrimSpace(c.PostURL) == "" {
		c.PostURL = jazzcashDefaultPostURL
	}
	return &JazzCash{
		creds:  c,
		engine: NewSignatureEngine(SchemeHMACSHA256, c.IntegritySalt, jcSecureHash),
		clock:  o.clock,
		expiry: o.expiry,
	}
}

// Key implements Adapter.
func (j *JazzCash) Key() ProviderKey { return ProviderJazzCash }

// Currency implements Adapter.
func (j *JazzCash) Currency() string { return "PKR" }

func (j *JazzCash) configured() bool {
	return strings.TrimSpace(j.creds.MerchantID) != "" &&
		strings.TrimSpace(j.creds.Password) != "" &&
		j.engine.Configured()
}

// Initiate builds the signed form the browser posts to the JazzCash portal.
func (j *JazzCash) Initiate(_ context.Context, req PaymentRequest) InitiationResult {
	if !j.configured() {
		return initiationFailure(ProviderJazzCash, configurationError(ProviderJazzCash, "jazzcash merchant credentials are not configured"))
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = j.Currency()
	}
	if currency != j.Currency() {
		return initiationFailure(ProviderJazzCash, validationError(ProviderJazzCash, "jazzcash only accepts %s, got %s", j.Currency(), currency))
	}
	if req.MinorUnits() <= 0 {
		return initiationFailure(ProviderJazzCash, validationError(ProviderJazzCash, "amount must be positive"))
	}

	now := j.clock().In(pakistanTime)
	ref := NewReference(jazzcashReferencePrefix, now, req.PayerID, 4)
	values := []fieldValue{
		{jcVersion, "1.1"},
		{jcTxnType, "MWALLET"},
		{jcLanguage, "EN"},
		{jcMerchantID, j.creds.MerchantID},
		{jcPassword, j.creds.Password},
		{jcTxnRefNo, ref},
		{jcAmount, strconv.FormatInt(req.MinorUnits(), 10)},
		{jcTxnCurrency, currency},
		{jcTxnDateTime, now.Format(jazzcashDateLayout)},
		{jcBillReference, req.Extra("bill_reference", "GYM-"+ref)},
		{jcDescription, req.Extra("description", "Gym Membership Subscription")},
		{jcTxnExpiry, now.Add(j.expiry).Format(jazzcashDateLayout)},
		{jcReturnURL, req.ReturnURL},
		{jcSecureHash, ""},
		{jcPayerField, req.PayerID},
	}
	form, err := jazzcashRequestSchema.Build(ProviderJazzCash, values)
	if err != nil {
		return initiationFailure(ProviderJazzCash, err)
	}
	signature := j.engine.ComputeDigest(form)
	if signature == "" {
		return initiationFailure(ProviderJazzCash, configurationError(ProviderJazzCash, "jazzcash integrity salt is not configured"))
	}
	form[jcSecureHash] = signature

	return InitiationResult{
		Success:    true,
		Provider:   ProviderJazzCash,
		PostURL:    j.creds.PostURL,
		FormFields: form,
		Reference:  ref,
	}
}

// Verify authenticates a JazzCash return payload and checks its response code.
func (j *JazzCash) Verify(_ context.Context, payload CallbackPayload) VerificationResult {
	ref := strings.TrimSpace(payload[jcTxnRefNo])
	provided := strings.TrimSpace(payload[jcSecureHash])
	if provided == "" {
		return verificationFailure(ProviderJazzCash, ref, signatureError(ProviderJazzCash, "missing signature"))
	}
	if !j.engine.Configured() {
		return verificationFailure(ProviderJazzCash, ref, configurationError(ProviderJazzCash, "jazzcash integrity salt is not configured"))
	}
	if !j.engine.VerifyDigest(payload, provided) {
		return verificationFailure(ProviderJazzCash, ref, signatureError(ProviderJazzCash, "invalid signature"))
	}
	if missing := jazzcashResponseSchema.Missing(payload); len(missing) > 0 {
		return verificationFailure(ProviderJazzCash, ref, validationError(ProviderJazzCash, "malformed callback: missing %s", strings.Join(missing, ", ")))
	}
	if payload[jcResponseCode] != jazzcashSuccessCode {
		return verificationFailure(ProviderJazzCash, ref, declinedError(ProviderJazzCash, "Payment failed: "+providerMessage(payload[jcResponseMessage])))
	}
	return VerificationResult{Verified: true, Provider: ProviderJazzCash, Reference: ref, Message: "Payment successful"}
}

func providerMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "Unknown error"
	}
	return msg
}
