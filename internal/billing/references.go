package billing

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gym-payments/internal/payment"
)

// PendingPayments maps an issued reference back to the payer who started it.
// Callbacks only carry the provider reference.
type PendingPayments struct {
	R   redis.Cmdable
	TTL time.Duration
}

func pendingKey(provider payment.ProviderKey, reference string) string {
	return "payments:pending:" + string(provider) + ":" + reference
}

// Remember records reference for payerID.
func (p PendingPayments) Remember(ctx context.Context, provider payment.ProviderKey, reference, payerID string) error {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return p.R.Set(ctx, pendingKey(provider, reference), payerID, ttl).Err()
}

// Lookup returns the payer for reference, or false when it was never issued
// or already expired.
func (p PendingPayments) Lookup(ctx context.Context, provider payment.ProviderKey, reference string) (string, bool, error) {
	payer, err := p.R.Get(ctx, pendingKey(provider, reference)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return payer, true, nil
}

// Forget drops a settled reference.
func (p PendingPayments) Forget(ctx context.Context, provider payment.ProviderKey, reference string) error {
	return p.R.Del(ctx, pendingKey(provider, reference)).Err()
}

// ConsumedReferences guarantees each (provider, reference) pair extends a
// subscription at most once.
type ConsumedReferences struct {
	R   redis.Cmdable
	TTL time.Duration
}

func consumedKey(provider payment.ProviderKey, reference string) string {
	return "payments:consumed:" + string(provider) + ":" + reference
}

// Consume claims reference. It returns false when another callback already
// claimed it.
func (c ConsumedReferences) Consume(ctx context.Context, provider payment.ProviderKey, reference, payerID string) (bool, error) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return c.R.SetNX(ctx, consumedKey(provider, reference), payerID, ttl).Result()
}

// Seen reports whether reference was already claimed.
func (c ConsumedReferences) Seen(ctx context.Context, provider payment.ProviderKey, reference string) (bool, error) {
	n, err := c.R.Exists(ctx, consumedKey(provider, reference)).Result()
	return n > 0, err
}

// Release gives a claimed reference back, used when the extension that
// followed the claim failed and the callback may be retried.
func (c ConsumedReferences) Release(ctx context.Context, provider payment.ProviderKey, reference string) error {
	return c.R.Del(ctx, consumedKey(provider, reference)).Err()
}
