package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gym-payments/internal/billing"
	"github.com/noah-isme/gym-payments/internal/events"
	"github.com/noah-isme/gym-payments/internal/lock"
	"github.com/noah-isme/gym-payments/internal/obs"
	"github.com/noah-isme/gym-payments/internal/payment"
)

const testSalt = "0123456789"

var fixedNow = time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC)

type captureEmitter struct {
	mu     sync.Mutex
	topics []string
}

func (c *captureEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

func (c *captureEmitter) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

type fixture struct {
	mr      *miniredis.Miniredis
	svc     *billing.Service
	emitter *captureEmitter
}

func newFixture(t *testing.T, extra ...payment.Adapter) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	jc := payment.NewJazzCash(&payment.JazzCashCredentials{
		MerchantID:    "MC12345",
		Password:      "pass",
		IntegritySalt: testSalt,
	}, payment.WithClock(func() time.Time { return fixedNow }))
	gw := payment.NewGateway(zerolog.Nop(), append([]payment.Adapter{jc}, extra...)...)

	emitter := &captureEmitter{}
	svc := &billing.Service{
		Gateway:  gw,
		Pending:  billing.PendingPayments{R: client, TTL: time.Hour},
		Consumed: billing.ConsumedReferences{R: client, TTL: time.Hour},
		Subscriptions: billing.SubscriptionStore{
			R:      client,
			Locker: lock.Locker{R: client, RetryBackoff: time.Millisecond},
			Now:    func() time.Time { return fixedNow },
		},
		Events: emitter,
		Pricing: billing.Pricing{
			PKR: decimal.RequireFromString("5000"),
			USD: decimal.RequireFromString("60"),
		},
		CallbackBaseURL: "https://gym.example.com/",
		Extension:       30 * 24 * time.Hour,
		Logger:          zerolog.Nop(),
	}
	return fixture{mr: mr, svc: svc, emitter: emitter}
}

func jazzCashCallback(reference, code, message string) map[string]string {
	payload := map[string]string{
		"pp_ResponseCode":    code,
		"pp_ResponseMessage": message,
		"pp_TxnRefNo":        reference,
		"pp_Amount":          "500000",
		"pp_TxnCurrency":     "PKR",
	}
	engine := payment.NewSignatureEngine(payment.SchemeHMACSHA256, testSalt, "pp_SecureHash")
	payload["pp_SecureHash"] = engine.ComputeDigest(payload)
	return payload
}

func TestInitiateQuotesMarketAndRemembersReference(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Initiate(context.Background(), "jazzcash", " member@example.com ")
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	require.Equal(t, "500000", res.FormFields["pp_Amount"])
	require.Equal(t, "https://gym.example.com/api/v1/payments/jazzcash/callback", res.FormFields["pp_ReturnURL"])

	payer, err := f.mr.Get("payments:pending:jazzcash:" + res.Reference)
	require.NoError(t, err)
	require.Equal(t, "member@example.com", payer)
	require.Equal(t, []string{events.TopicPaymentInitiated}, f.emitter.Topics())
}

func TestInitiateFailureIsNotRecorded(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Initiate(context.Background(), "paypal", "member@example.com")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, errors.Is(res.Err, payment.ErrUnknownProvider))

	res, err = f.svc.Initiate(context.Background(), "stripe", "member@example.com")
	require.NoError(t, err)
	require.True(t, errors.Is(res.Err, payment.ErrUnknownProvider))
	require.Empty(t, f.mr.Keys())
	require.Empty(t, f.emitter.Topics())
}

func TestCompleteExtendsSubscriptionOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
	require.NoError(t, err)

	callback := jazzCashCallback(res.Reference, "000", "Thank you")
	done, err := f.svc.Complete(ctx, "jazzcash", callback)
	require.NoError(t, err)
	require.Equal(t, res.Reference, done.Reference)
	require.Equal(t, fixedNow.Add(30*24*time.Hour), done.Subscription.ExpiresAt)
	require.Equal(t, billing.MarketPakistan, done.Subscription.Market)

	_, err = f.svc.Complete(ctx, "jazzcash", callback)
	require.ErrorIs(t, err, billing.ErrAlreadyConsumed)
	require.False(t, f.mr.Exists("payments:pending:jazzcash:"+res.Reference))
	require.True(t, f.mr.Exists("payments:consumed:jazzcash:"+res.Reference))

	sub, found, err := f.svc.Subscription(ctx, "member@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, sub.Active)
	require.Equal(t, fixedNow.Add(30*24*time.Hour), sub.ExpiresAt)
	require.Equal(t, billing.StatusActive, sub.Status)
	require.Equal(t, 30, sub.DaysRemaining)

	require.Equal(t, []string{
		events.TopicPaymentInitiated,
		events.TopicPaymentSucceeded,
		events.TopicSubscriptionRenew,
	}, f.emitter.Topics())
}

func TestCompleteStacksExtensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
		require.NoError(t, err)
		_, err = f.svc.Complete(ctx, "jazzcash", jazzCashCallback(res.Reference, "000", "ok"))
		require.NoError(t, err)
	}

	sub, _, err := f.svc.Subscription(ctx, "MEMBER@example.com")
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(60*24*time.Hour), sub.ExpiresAt)
}

func TestCompleteDeclinedEmitsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, "jazzcash", jazzCashCallback(res.Reference, "124", "Insufficient balance"))
	require.ErrorIs(t, err, payment.ErrDeclined)
	require.Equal(t, "Payment failed: Insufficient balance", err.Error())
	require.Contains(t, f.emitter.Topics(), events.TopicPaymentFailed)

	_, found, err := f.svc.Subscription(ctx, "member@example.com")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCompleteRejectsTamperedCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
	require.NoError(t, err)

	callback := jazzCashCallback(res.Reference, "124", "Declined")
	callback["pp_ResponseCode"] = "000"
	_, err = f.svc.Complete(ctx, "jazzcash", callback)
	require.ErrorIs(t, err, payment.ErrSignature)
	require.Equal(t, []string{events.TopicPaymentInitiated}, f.emitter.Topics())
}

func TestCompleteUnknownReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Complete(context.Background(), "jazzcash", jazzCashCallback("T1705303800forg00001", "000", "ok"))
	require.ErrorIs(t, err, billing.ErrUnknownReference)
	require.False(t, f.mr.Exists("payments:consumed:jazzcash:T1705303800forg00001"))
}

func TestCompleteConcurrentReplayExtendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
	require.NoError(t, err)
	callback := jazzCashCallback(res.Reference, "000", "ok")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, replayed := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Complete(ctx, "jazzcash", callback)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, billing.ErrAlreadyConsumed):
				replayed++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, succeeded)
	require.Equal(t, 7, replayed)

	sub, _, err := f.svc.Subscription(ctx, "member@example.com")
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(30*24*time.Hour), sub.ExpiresAt)
}

func TestCompleteSequentialReplayCountsRejection(t *testing.T) {
	obs.MustRegisterDomainMetrics("gym", prometheus.NewRegistry())
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
	require.NoError(t, err)
	callback := jazzCashCallback(res.Reference, "000", "ok")
	_, err = f.svc.Complete(ctx, "jazzcash", callback)
	require.NoError(t, err)

	before := testutil.ToFloat64(obs.PaymentReplayRejected.WithLabelValues("jazzcash"))
	for i := 0; i < 2; i++ {
		_, err = f.svc.Complete(ctx, "jazzcash", callback)
		require.ErrorIs(t, err, billing.ErrAlreadyConsumed)
	}
	require.Equal(t, before+2, testutil.ToFloat64(obs.PaymentReplayRejected.WithLabelValues("jazzcash")))
}

func TestSubscriptionDaysRemainingAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Initiate(ctx, "jazzcash", "member@example.com")
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, "jazzcash", jazzCashCallback(res.Reference, "000", "ok"))
	require.NoError(t, err)

	now := fixedNow.Add(29*24*time.Hour + 12*time.Hour)
	store := f.svc.Subscriptions
	store.Now = func() time.Time { return now }
	sub, found, err := store.Get(ctx, "member@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, billing.StatusActive, sub.Status)
	require.Zero(t, sub.DaysRemaining, "half a day left rounds down")

	now = fixedNow.Add(31 * 24 * time.Hour)
	sub, _, err = store.Get(ctx, "member@example.com")
	require.NoError(t, err)
	require.False(t, sub.Active)
	require.Equal(t, billing.StatusExpired, sub.Status)
	require.Zero(t, sub.DaysRemaining)
}
