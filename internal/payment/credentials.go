package payment

import "fmt"

// JazzCashCredentials holds the merchant account used by the wallet-debit form.
type JazzCashCredentials struct {
	MerchantID    string
	Password      string
	IntegritySalt string
	PostURL       string
}

// EasyPaisaCredentials holds the store account used by the mobile-wallet form.
type EasyPaisaCredentials struct {
	StoreID string
	HashKey string
	PostURL string
}

// StripeCredentials holds the hosted-checkout API keys.
type StripeCredentials struct {
	SecretKey      string
	PublishableKey string
	BaseURL        string
}

// Credentials groups per-provider secret material. It is built once at
// startup and handed to adapter constructors; nothing mutates it afterwards.
type Credentials struct {
	JazzCash  JazzCashCredentials
	EasyPaisa EasyPaisaCredentials
	Stripe    StripeCredentials
}

// Configured reports which providers have complete secret material.
func (c *Credentials) Configured() map[ProviderKey]bool {
	return map[ProviderKey]bool{
		ProviderJazzCash:  c.JazzCash.MerchantID != "" && c.JazzCash.Password != "" && c.JazzCash.IntegritySalt != "",
		ProviderEasyPaisa: c.EasyPaisa.StoreID != "" && c.EasyPaisa.HashKey != "",
		ProviderStripe:    c.Stripe.SecretKey != "",
	}
}

// String never renders secrets.
func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials{jazzcash:%s easypaisa:%s stripe:%s}",
		redact(c.JazzCash.MerchantID), redact(c.EasyPaisa.StoreID), redact(c.Stripe.PublishableKey))
}

func redact(v string) string {
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 4 {
		return "****"
	}
	return v[:2] + "****"
}
