package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem provides an Idempotency-Key middleware backed by Redis. Keys are
// scoped by request path so the same key may be reused across providers.
type Idem struct {
	R   redis.Cmdable
	TTL time.Duration
}

// ErrIdempotentReplay is returned for a reused Idempotency-Key.
var ErrIdempotentReplay = NewAppError(http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)

func hashKey(path, key string) string {
	sum := sha256.Sum256([]byte(path + "|" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := hashKey(r.URL.Path, header)
		ok, err := i.R.SetNX(ctx, key, "locked", i.TTL).Result()
		if err != nil {
			WriteError(w, NewAppError(http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", err))
			return
		}
		if !ok {
			WriteError(w, ErrIdempotentReplay)
			return
		}
		defer func() {
			// the TTL must survive a panicking handler
			_ = i.R.Expire(context.WithoutCancel(ctx), key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}
