package payment

import (
	"math"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest major-unit amount accepted by any adapter.
var MaxAmount = decimal.RequireFromString("999999.99")

// ParseAmount validates a major-unit amount. Values must be positive, finite,
// within MaxAmount and carry no precision below the minor unit.
func ParseAmount(provider ProviderKey, major float64) (decimal.Decimal, error) {
	if math.IsNaN(major) || math.IsInf(major, 0) {
		return decimal.Zero, validationError(provider, "amount must be a finite number")
	}
	amount := decimal.NewFromFloat(major)
	if !amount.IsPositive() {
		return decimal.Zero, validationError(provider, "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return decimal.Zero, validationError(provider, "amount %s has more than two decimal places", amount.String())
	}
	if amount.GreaterThan(MaxAmount) {
		return decimal.Zero, validationError(provider, "amount %s exceeds maximum %s", amount.String(), MaxAmount.StringFixed(2))
	}
	return amount, nil
}

// ToMinorUnits converts a validated major-unit amount to minor units.
func ToMinorUnits(provider ProviderKey, major float64) (int64, error) {
	amount, err := ParseAmount(provider, major)
	if err != nil {
		return 0, err
	}
	return amount.Shift(2).IntPart(), nil
}

// NewPaymentRequest validates the caller input and builds an immutable request.
func NewPaymentRequest(provider ProviderKey, major float64, currency, payerID, returnURL string, extras map[string]string) (PaymentRequest, error) {
	amount, err := ParseAmount(provider, major)
	if err != nil {
		return PaymentRequest{}, err
	}
	if payerID == "" {
		return PaymentRequest{}, validationError(provider, "payer identifier is required")
	}
	if returnURL == "" {
		return PaymentRequest{}, validationError(provider, "return url is required")
	}
	copied := make(map[string]string, len(extras))
	for k, v := range extras {
		copied[k] = v
	}
	return PaymentRequest{
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		PayerID:   payerID,
		ReturnURL: returnURL,
		Extras:    copied,
	}, nil
}
