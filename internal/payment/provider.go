package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// ProviderKey identifies an external payment processor.
type ProviderKey string

const (
	ProviderJazzCash  ProviderKey = "jazzcash"
	ProviderEasyPaisa ProviderKey = "easypaisa"
	ProviderStripe    ProviderKey = "stripe"
)

var providerAliases = map[string]ProviderKey{
	"jazzcash":        ProviderJazzCash,
	"wallet-debit":    ProviderJazzCash,
	"easypaisa":       ProviderEasyPaisa,
	"mobile-wallet":   ProviderEasyPaisa,
	"stripe":          ProviderStripe,
	"hosted-checkout": ProviderStripe,
}

// ParseProviderKey resolves a caller supplied provider name, including aliases.
func ParseProviderKey(value string) (ProviderKey, bool) {
	key, ok := providerAliases[strings.ToLower(strings.TrimSpace(value))]
	return key, ok
}

// PaymentRequest captures a single initiation attempt. It is built once by
// NewPaymentRequest and must not be modified afterwards.
type PaymentRequest struct {
	Provider  ProviderKey
	Amount    decimal.Decimal
	Currency  string
	PayerID   string
	ReturnURL string
	Extras    map[string]string
}

// MinorUnits returns the amount in the currency's smallest unit.
func (r PaymentRequest) MinorUnits() int64 {
	return r.Amount.Shift(2).IntPart()
}

// Extra returns a provider specific option or the fallback when unset.
func (r PaymentRequest) Extra(key, fallback string) string {
	if v := strings.TrimSpace(r.Extras[key]); v != "" {
		return v
	}
	return fallback
}

// CallbackPayload is the flat field set received verbatim from a provider.
// It is untrusted until an adapter has verified it.
type CallbackPayload map[string]string

// InitiationResult is the normalised outcome of an initiation attempt. On
// success either PostURL and FormFields or RedirectURL is populated.
type InitiationResult struct {
	Success     bool              `json:"success"`
	Provider    ProviderKey       `json:"provider"`
	PostURL     string            `json:"postUrl,omitempty"`
	FormFields  map[string]string `json:"formFields,omitempty"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	Error       string            `json:"error,omitempty"`
	Err         error             `json:"-"`
}

// VerificationResult reports whether a callback proves a completed payment.
// There is no partial state.
type VerificationResult struct {
	Verified  bool        `json:"verified"`
	Message   string      `json:"message"`
	Provider  ProviderKey `json:"provider"`
	Reference string      `json:"reference,omitempty"`
	Err       error       `json:"-"`
}

// Adapter translates the unified payment contract into one provider protocol.
type Adapter interface {
	Key() ProviderKey
	Currency() string
	Initiate(ctx context.Context, req PaymentRequest) InitiationResult
	Verify(ctx context.Context, payload CallbackPayload) VerificationResult
}

func initiationFailure(provider ProviderKey, err error) InitiationResult {
	return InitiationResult{Success: false, Provider: provider, Error: err.Error(), Err: err}
}

func verificationFailure(provider ProviderKey, reference string, err error) VerificationResult {
	return VerificationResult{Verified: false, Provider: provider, Reference: reference, Message: err.Error(), Err: err}
}
