package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/payment"
)

const testHashKey = "EPKEY123"

func newTestEasyPaisa() *payment.EasyPaisa {
	return payment.NewEasyPaisa(&payment.EasyPaisaCredentials{
		StoreID: "12345",
		HashKey: testHashKey,
	}, payment.WithClock(func() time.Time { return fixedNow }))
}

func signedEasyPaisaResponse(code, desc string) map[string]string {
	payload := map[string]string{
		"responseCode":         code,
		"responseDesc":         desc,
		"orderRefNum":          "EP170530380000001",
		"transactionRefNumber": "99887766",
		"amount":               "5000.0",
	}
	engine := payment.NewSignatureEngine(payment.SchemeSHA256, testHashKey, "merchantHashedReq")
	payload["merchantHashedReq"] = engine.ComputeDigest(payload)
	return payload
}

func TestEasyPaisaInitiateBuildsSignedForm(t *testing.T) {
	req, err := payment.NewPaymentRequest(payment.ProviderEasyPaisa, 5000, "PKR", "member@example.com", "https://gym.example.com/cb", nil)
	require.NoError(t, err)

	res := newTestEasyPaisa().Initiate(context.Background(), req)
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.PostURL)

	form := res.FormFields
	require.Equal(t, "12345", form["storeId"])
	require.Equal(t, "5000.0", form["amount"])
	require.Equal(t, "20240115 143000", form["expiryDate"])
	require.Equal(t, "0", form["autoRedirect"])
	require.Equal(t, "MA_PAYMENT_METHOD", form["paymentMethod"])
	require.Equal(t, "member@example.com", form["emailAddress"])
	require.Equal(t, res.Reference, form["orderRefNum"])
	require.Regexp(t, `^EP1705303800[0-9a-f]{5}$`, res.Reference)

	engine := payment.NewSignatureEngine(payment.SchemeSHA256, testHashKey, "merchantHashedReq")
	require.True(t, engine.VerifyDigest(form, form["merchantHashedReq"]))
}

func TestEasyPaisaAmountKeepsSignificantPaisa(t *testing.T) {
	req, err := payment.NewPaymentRequest(payment.ProviderEasyPaisa, 19.99, "PKR", "m@example.com", "https://x/cb", map[string]string{"payment_method": "CC_PAYMENT_METHOD"})
	require.NoError(t, err)
	res := newTestEasyPaisa().Initiate(context.Background(), req)
	require.True(t, res.Success)
	require.Equal(t, "19.99", res.FormFields["amount"])
	require.Equal(t, "CC_PAYMENT_METHOD", res.FormFields["paymentMethod"])
}

func TestEasyPaisaVerify(t *testing.T) {
	adapter := newTestEasyPaisa()

	ok := adapter.Verify(context.Background(), signedEasyPaisaResponse("0000", "Success"))
	require.True(t, ok.Verified, ok.Message)
	require.Equal(t, "EP170530380000001", ok.Reference)

	declined := adapter.Verify(context.Background(), signedEasyPaisaResponse("0001", "Transaction cancelled by user"))
	require.False(t, declined.Verified)
	require.Equal(t, "Payment failed: Transaction cancelled by user", declined.Message)
	require.True(t, errors.Is(declined.Err, payment.ErrDeclined))

	tampered := signedEasyPaisaResponse("0001", "Declined")
	tampered["responseCode"] = "0000"
	bad := adapter.Verify(context.Background(), tampered)
	require.False(t, bad.Verified)
	require.True(t, errors.Is(bad.Err, payment.ErrSignature))

	unsigned := signedEasyPaisaResponse("0000", "Success")
	delete(unsigned, "merchantHashedReq")
	missing := adapter.Verify(context.Background(), unsigned)
	require.Equal(t, "missing signature", missing.Message)
}

func TestEasyPaisaWithoutCredentials(t *testing.T) {
	adapter := payment.NewEasyPaisa(&payment.EasyPaisaCredentials{StoreID: "1"})
	req, err := payment.NewPaymentRequest(payment.ProviderEasyPaisa, 1, "PKR", "m", "https://x", nil)
	require.NoError(t, err)

	res := adapter.Initiate(context.Background(), req)
	require.True(t, errors.Is(res.Err, payment.ErrConfiguration))

	v := adapter.Verify(context.Background(), signedEasyPaisaResponse("0000", "Success"))
	require.False(t, v.Verified)
	require.True(t, errors.Is(v.Err, payment.ErrConfiguration))
}
