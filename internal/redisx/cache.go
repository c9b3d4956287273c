package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/redis/go-redis/v9"
)

// StatusCache stores order status snapshots in a hash per order: field "v"
// holds the JSON snapshot and "ts" its UpdatedAt in unix microseconds.
type StatusCache struct {
	RDB redis.UniversalClient
	TTL time.Duration
}

const (
	fieldSnapshot = "v"
	fieldStamp    = "ts"
)

// KEYS[1] status key; ARGV: snapshot json, stamp, ttl ms, owner uuid.
// Returns 0 when the stored snapshot is newer.
var putIfNewer = redis.NewScript(`
local ts = redis.call("HGET", KEYS[1], "ts")
if ts and tonumber(ts) > tonumber(ARGV[2]) then
	return 0
end
local v = ARGV[1]
if ARGV[4] == "" then
	local cur = redis.call("HGET", KEYS[1], "v")
	if cur then
		local c = cjson.decode(cur)
		if c.user_uuid then
			local n = cjson.decode(v)
			n.user_uuid = c.user_uuid
			v = cjson.encode(n)
		end
	end
end
redis.call("HSET", KEYS[1], "v", v, "ts", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

func NewStatusCache(rdb redis.UniversalClient) *StatusCache {
	return &StatusCache{RDB: rdb, TTL: TTLStatusCache}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusSnapshot, bool, error) {
	var snap orders.StatusSnapshot
	b, err := c.RDB.HGet(ctx, OrderStatusKey(orderID), fieldSnapshot).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("status cache get: %w", err)
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, false, fmt.Errorf("status cache decode: %w", err)
	}
	return snap, true, nil
}

// Put overwrites the snapshot unconditionally.
func (c *StatusCache) Put(ctx context.Context, snap orders.StatusSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	key := OrderStatusKey(snap.OrderID)
	_, err = c.RDB.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldSnapshot, b, fieldStamp, snap.UpdatedAt.UnixMicro())
		pipe.PExpire(ctx, key, c.ttl())
		return nil
	})
	if err != nil {
		return fmt.Errorf("status cache put: %w", err)
	}
	return nil
}

// PutIfNewer writes snap unless the stored snapshot has a later UpdatedAt,
// as one atomic step. An empty UserUUID keeps the stored owner.
func (c *StatusCache) PutIfNewer(ctx context.Context, snap orders.StatusSnapshot) (bool, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return false, err
	}
	n, err := putIfNewer.Run(ctx, c.RDB, []string{OrderStatusKey(snap.OrderID)},
		string(b), snap.UpdatedAt.UnixMicro(), c.ttl().Milliseconds(), snap.UserUUID).Int()
	if err != nil {
		return false, fmt.Errorf("status cache put if newer: %w", err)
	}
	return n == 1, nil
}

func (c *StatusCache) Delete(ctx context.Context, orderID string) error {
	if err := c.RDB.Del(ctx, OrderStatusKey(orderID)).Err(); err != nil {
		return fmt.Errorf("status cache delete: %w", err)
	}
	return nil
}

func (c *StatusCache) ttl() time.Duration {
	if c.TTL <= 0 {
		return TTLStatusCache
	}
	return c.TTL
}
