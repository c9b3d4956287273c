// Package projector keeps the order status read model in step with the
// order event stream.
package projector

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Deduper claims event ids so redelivered messages are applied once.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Cache is the status read model. PutIfNewer must compare and write in one
// atomic step: workers apply events for the same order concurrently.
type Cache interface {
	PutIfNewer(ctx context.Context, snap orders.StatusSnapshot) (bool, error)
	Delete(ctx context.Context, orderID string) error
}

type Projector struct {
	Cache Cache
	Dedup Deduper // optional
	Log   *zap.Logger
}

// Handle is a kafka.Handler.
func (p *Projector) Handle(ctx context.Context, m kafka.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// a poison message is logged and committed
		p.logger().Error("projector_bad_message", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	return p.Apply(ctx, env)
}

// Apply folds one envelope into the cache. Unknown event types are ignored.
func (p *Projector) Apply(ctx context.Context, env orders.Envelope) (err error) {
	log := p.logger().With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	if p.Dedup != nil && env.EventID != "" {
		first, cerr := p.Dedup.Claim(ctx, env.EventID)
		if cerr != nil {
			return cerr
		}
		if !first {
			log.Debug("projector_duplicate")
			return nil
		}
		defer func() {
			if err != nil {
				if rerr := p.Dedup.Release(ctx, env.EventID); rerr != nil {
					log.Warn("projector_dedup_release_failed", zap.Error(rerr))
				}
			}
		}()
	}

	switch env.EventType {
	case orders.EventOrderCreated:
		pl, err := orders.DecodePayload[orders.OrderCreatedPayload](env)
		if err != nil {
			return err
		}
		err = p.put(ctx, orders.StatusSnapshot{OrderID: pl.OrderID, UserUUID: pl.UserUUID, Status: pl.Status, UpdatedAt: env.OccurredAt})
		if err != nil {
			return err
		}
	case orders.EventOrderStatusChanged:
		pl, err := orders.DecodePayload[orders.OrderStatusChangedPayload](env)
		if err != nil {
			return err
		}
		err = p.put(ctx, orders.StatusSnapshot{OrderID: pl.OrderID, UserUUID: pl.UserUUID, Status: pl.To, UpdatedAt: env.OccurredAt})
		if err != nil {
			return err
		}
	case orders.EventOrderDeleted:
		pl, err := orders.DecodePayload[orders.OrderDeletedPayload](env)
		if err != nil {
			return err
		}
		if err := p.Cache.Delete(ctx, pl.OrderID); err != nil {
			return err
		}
	default:
		log.Debug("projector_skip")
		return nil
	}
	log.Info("projector_applied", zap.String("order_id", env.CorrelationID))
	return nil
}

// put drops snap when the cache already holds a newer one, since created
// and status_changed arrive on different topics.
func (p *Projector) put(ctx context.Context, snap orders.StatusSnapshot) error {
	written, err := p.Cache.PutIfNewer(ctx, snap)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.OrderID, err)
	}
	if !written {
		p.logger().Debug("projector_stale", zap.String("order_id", snap.OrderID), zap.Time("updated_at", snap.UpdatedAt))
	}
	return nil
}

func (p *Projector) logger() *zap.Logger {
	if p.Log == nil {
		return zap.NewNop()
	}
	return p.Log
}
