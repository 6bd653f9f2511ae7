package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gym-payments/internal/lock"
)

// Subscription is a payer's membership state.
type Subscription struct {
	PayerID       string    `json:"payerId"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Market        Market    `json:"market"`
	Active        bool      `json:"active"`
	Status        string    `json:"status"`
	DaysRemaining int       `json:"daysRemaining"`
}

// Subscription statuses.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// at fills the fields derived from the clock. Partial days are dropped.
func (sub Subscription) at(now time.Time) Subscription {
	sub.Active = sub.ExpiresAt.After(now)
	sub.Status, sub.DaysRemaining = StatusExpired, 0
	if sub.Active {
		sub.Status = StatusActive
		sub.DaysRemaining = int(sub.ExpiresAt.Sub(now) / (24 * time.Hour))
	}
	return sub
}

// SubscriptionStore keeps one Redis hash per payer. Extensions are
// serialised per payer with a distributed lock so concurrent callbacks for
// different references both land.
type SubscriptionStore struct {
	R       redis.Cmdable
	Locker  lock.Locker
	LockTTL time.Duration
	Prefix  string
	Now     func() time.Time
}

func (s SubscriptionStore) key(payerID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "subscriptions:"
	}
	return prefix + strings.ToLower(payerID)
}

func (s SubscriptionStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Get loads the subscription of payerID. The boolean is false when the payer
// never paid.
func (s SubscriptionStore) Get(ctx context.Context, payerID string) (Subscription, bool, error) {
	fields, err := s.R.HGetAll(ctx, s.key(payerID)).Result()
	if err != nil {
		return Subscription{}, false, err
	}
	if len(fields) == 0 {
		return Subscription{PayerID: payerID}, false, nil
	}
	sub, err := decodeSubscription(payerID, fields)
	if err != nil {
		return Subscription{}, false, err
	}
	return sub.at(s.now()), true, nil
}

// Extend pushes the expiry of payerID forward by period, starting from the
// later of now and the current expiry.
func (s SubscriptionStore) Extend(ctx context.Context, payerID string, market Market, period time.Duration) (Subscription, error) {
	if period <= 0 {
		return Subscription{}, fmt.Errorf("billing: extension period must be positive")
	}
	var out Subscription
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	err := s.Locker.WithLock(ctx, lock.Key("subscription", strings.ToLower(payerID)), ttl, func(ctx context.Context) error {
		current, _, err := s.Get(ctx, payerID)
		if err != nil {
			return err
		}
		now := s.now()
		start := now
		if current.ExpiresAt.After(now) {
			start = current.ExpiresAt
		}
		out = Subscription{
			PayerID:   payerID,
			ExpiresAt: start.Add(period),
			Market:    market,
		}.at(now)
		return s.R.HSet(ctx, s.key(payerID),
			"expires_at", out.ExpiresAt.Format(time.RFC3339),
			"market", string(market),
			"updated_at", now.Format(time.RFC3339),
		).Err()
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: extend subscription: %w", err)
	}
	return out, nil
}

func decodeSubscription(payerID string, fields map[string]string) (Subscription, error) {
	expires, err := time.Parse(time.RFC3339, fields["expires_at"])
	if err != nil {
		return Subscription{}, fmt.Errorf("billing: corrupt subscription for %s: %w", payerID, err)
	}
	return Subscription{
		PayerID:   payerID,
		ExpiresAt: expires.UTC(),
		Market:    Market(fields["market"]),
	}, nil
}
