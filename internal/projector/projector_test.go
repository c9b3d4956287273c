package projector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu     sync.Mutex
	snaps  map[string]orders.StatusSnapshot
	putErr error
}

func newMapCache() *mapCache { return &mapCache{snaps: map[string]orders.StatusSnapshot{}} }

func (c *mapCache) Get(_ context.Context, id string) (orders.StatusSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	return s, ok, nil
}

func (c *mapCache) PutIfNewer(_ context.Context, s orders.StatusSnapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return false, c.putErr
	}
	cur, ok := c.snaps[s.OrderID]
	if ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return false, nil
	}
	if ok && s.UserUUID == "" {
		s.UserUUID = cur.UserUUID
	}
	c.snaps[s.OrderID] = s
	return true, nil
}

func (c *mapCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, id)
	return nil
}

type setDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *setDedup) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *setDedup) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

func envelope(t *testing.T, eventType string, at time.Time, payload any) orders.Envelope {
	t.Helper()
	env, err := orders.NewEnvelope(eventType, "test", "order-1", payload)
	require.NoError(t, err)
	env.OccurredAt = at
	return env
}

func TestApplyLifecycle(t *testing.T) {
	cache := newMapCache()
	p := &Projector{Cache: cache, Dedup: &setDedup{seen: map[string]bool{}}}
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, p.Apply(ctx, envelope(t, orders.EventOrderCreated, t0,
		orders.OrderCreatedPayload{OrderID: "order-1", UserUUID: "u1", Status: orders.StatusPending})))
	require.NoError(t, p.Apply(ctx, envelope(t, orders.EventOrderStatusChanged, t0.Add(time.Second),
		orders.OrderStatusChangedPayload{OrderID: "order-1", From: orders.StatusPending, To: orders.StatusProcessing})))

	snap, ok, _ := cache.Get(ctx, "order-1")
	require.True(t, ok)
	assert.Equal(t, orders.StatusProcessing, snap.Status)
	assert.Equal(t, "u1", snap.UserUUID, "owner carried over from the existing snapshot")

	require.NoError(t, p.Apply(ctx, envelope(t, orders.EventOrderDeleted, t0.Add(2*time.Second),
		orders.OrderDeletedPayload{OrderID: "order-1", Status: orders.StatusProcessing, Restocked: true})))
	_, ok, _ = cache.Get(ctx, "order-1")
	assert.False(t, ok)
}

func TestApplyKeepsNewerSnapshot(t *testing.T) {
	cache := newMapCache()
	p := &Projector{Cache: cache}
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, p.Apply(ctx, envelope(t, orders.EventOrderStatusChanged, t0.Add(time.Second),
		orders.OrderStatusChangedPayload{OrderID: "order-1", From: orders.StatusPending, To: orders.StatusProcessing})))
	require.NoError(t, p.Apply(ctx, envelope(t, orders.EventOrderCreated, t0,
		orders.OrderCreatedPayload{OrderID: "order-1", Status: orders.StatusPending})))

	snap, _, _ := cache.Get(ctx, "order-1")
	assert.Equal(t, orders.StatusProcessing, snap.Status)
}

func TestApplyConcurrentKeepsNewest(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		cache := newMapCache()
		p := &Projector{Cache: cache, Dedup: &setDedup{seen: map[string]bool{}}}
		ctx := context.Background()
		older := envelope(t, orders.EventOrderStatusChanged, t0,
			orders.OrderStatusChangedPayload{OrderID: "order-1", From: orders.StatusPending, To: orders.StatusProcessing})
		newer := envelope(t, orders.EventOrderStatusChanged, t0.Add(time.Second),
			orders.OrderStatusChangedPayload{OrderID: "order-1", From: orders.StatusProcessing, To: orders.StatusShipping})

		var wg sync.WaitGroup
		for _, env := range []orders.Envelope{newer, older} {
			wg.Add(1)
			go func(env orders.Envelope) {
				defer wg.Done()
				assert.NoError(t, p.Apply(ctx, env))
			}(env)
		}
		wg.Wait()

		snap, ok, _ := cache.Get(ctx, "order-1")
		require.True(t, ok)
		require.Equal(t, orders.StatusShipping, snap.Status)
	}
}

func TestApplyDuplicate(t *testing.T) {
	cache := newMapCache()
	p := &Projector{Cache: cache, Dedup: &setDedup{seen: map[string]bool{}}}
	ctx := context.Background()
	env := envelope(t, orders.EventOrderStatusChanged, time.Now(),
		orders.OrderStatusChangedPayload{OrderID: "order-1", To: orders.StatusShipping})

	require.NoError(t, p.Apply(ctx, env))
	require.NoError(t, cache.Delete(ctx, "order-1"))
	require.NoError(t, p.Apply(ctx, env))

	_, ok, _ := cache.Get(ctx, "order-1")
	assert.False(t, ok, "redelivered event is not applied twice")
}

func TestApplyFailureReleasesClaim(t *testing.T) {
	cache := newMapCache()
	cache.putErr = errors.New("redis down")
	dedup := &setDedup{seen: map[string]bool{}}
	p := &Projector{Cache: cache, Dedup: dedup}
	ctx := context.Background()
	env := envelope(t, orders.EventOrderCreated, time.Now(),
		orders.OrderCreatedPayload{OrderID: "order-1", Status: orders.StatusPending})

	require.Error(t, p.Apply(ctx, env))
	dedup.mu.Lock()
	assert.False(t, dedup.seen[env.EventID], "failed event is claimable again")
	dedup.mu.Unlock()

	cache.putErr = nil
	require.NoError(t, p.Apply(ctx, env))
	_, ok, _ := cache.Get(ctx, "order-1")
	assert.True(t, ok)
}

func TestHandle(t *testing.T) {
	cache := newMapCache()
	p := &Projector{Cache: cache}
	ctx := context.Background()

	assert.NoError(t, p.Handle(ctx, kafka.Message{Topic: orders.TopicOrderCreated, Value: []byte("not json")}))

	env := envelope(t, orders.EventOrderCreated, time.Now(),
		orders.OrderCreatedPayload{OrderID: "order-1", Status: orders.StatusPending})
	m, err := kafkax.NewMessage(orders.TopicOrderCreated, env)
	require.NoError(t, err)
	require.NoError(t, p.Handle(ctx, m))

	snap, ok, _ := cache.Get(ctx, "order-1")
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, snap.Status)

	payment := envelope(t, orders.EventPaymentCreated, time.Now(), orders.PaymentPayload{PaymentID: "p1"})
	assert.NoError(t, p.Apply(ctx, payment))
}
