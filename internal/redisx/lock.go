package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// release deletes the key only while it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-instance SET NX lock keyed per capture reference.
type Locker struct {
	RDB redis.UniversalClient
}

// Lock takes lock:capture:{ref}. A held lock yields a wrapped ErrConflict so
// callers surface it as retryable.
func (l *Locker) Lock(ctx context.Context, ref string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = TTLCaptureLock
	}
	key := CaptureLockKey(ref)
	token := uuid.NewString()
	ok, err := l.RDB.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: capture %s already in progress", orders.ErrConflict, ref)
	}
	return func() {
		// the request context may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = release.Run(ctx, l.RDB, []string{key}, token).Err()
	}, nil
}

// Dedup remembers processed event ids per consumer.
type Dedup struct {
	RDB      redis.UniversalClient
	Consumer string
	TTL      time.Duration
}

// Claim marks eventID as seen and reports whether this call was first.
func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	ok, err := d.RDB.SetNX(ctx, DedupKey(d.Consumer, eventID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// Release forgets eventID so a failed handler can be retried.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, DedupKey(d.Consumer, eventID)).Err()
}
