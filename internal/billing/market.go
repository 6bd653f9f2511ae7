package billing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/gym-payments/internal/payment"
)

// Market is the billing region a subscription was last paid in.
type Market string

const (
	MarketPakistan Market = "PK"
	MarketUS       Market = "US"
)

// Pricing holds the membership price per market.
type Pricing struct {
	PKR decimal.Decimal
	USD decimal.Decimal
}

// Quote returns the market, currency and amount charged through provider.
// Wallet providers settle in PKR, hosted checkout in USD.
func (p Pricing) Quote(provider payment.ProviderKey) (Market, string, decimal.Decimal) {
	if provider == payment.ProviderStripe {
		return MarketUS, "USD", p.USD
	}
	return MarketPakistan, "PKR", p.PKR
}
