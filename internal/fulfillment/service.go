package fulfillment

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/observe"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ucCreate   = "order.create"
	ucStatus   = "order.update_status"
	ucDelete   = "order.delete"
	ucGet      = "order.get"
	ucReadStat = "order.status"
	ucList     = "order.list"
)

// StatusCache holds the order status read model. Writes happen only after commit.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (orders.StatusSnapshot, bool, error)
	Put(ctx context.Context, snap orders.StatusSnapshot) error
	Delete(ctx context.Context, orderID string) error
}

// Service owns order creation, status transitions and soft deletion.
type Service struct {
	Store   orders.Store
	Ledger  *inventory.Ledger
	Events  orders.Publisher
	Cache   StatusCache // optional
	Metrics *metrics.Recorder
	Log     *zap.Logger
	Tracer  trace.Tracer

	CreateTx     orders.TxOptions // creation and deletion
	TransitionTx orders.TxOptions // transitions and reads
	Retries      int              // extra attempts after ErrConflict
	ServiceName  string
}

func DefaultCreateTx() orders.TxOptions {
	return orders.TxOptions{Isolation: orders.Serializable, MaxWait: 10 * time.Second, Timeout: 15 * time.Second}
}

func DefaultTransitionTx() orders.TxOptions {
	return orders.TxOptions{Isolation: orders.ReadCommitted, MaxWait: 15 * time.Second, Timeout: 20 * time.Second}
}

func (s *Service) usecase() observe.UseCase {
	return observe.UseCase{Tracer: s.Tracer, Log: s.Log, Metrics: s.Metrics}
}

func (s *Service) ledger() *inventory.Ledger {
	if s.Ledger == nil {
		return &inventory.Ledger{Metrics: s.Metrics}
	}
	return s.Ledger
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return logging.FromContext(ctx, s.Log)
}

// inTx runs fn, retrying the whole transaction on ErrConflict.
func (s *Service) inTx(ctx context.Context, opts orders.TxOptions, fn func(ctx context.Context, tx orders.Tx) error) error {
	return orders.RetryTx(ctx, s.Store, opts, s.Retries, func(attempt int, err error) {
		s.logger(ctx).Debug("tx_retry", zap.Int("attempt", attempt), zap.Error(err))
	}, fn)
}

// publish sends an event after commit. Failures are logged, never returned:
// the transaction already committed.
func (s *Service) publish(ctx context.Context, topic, eventType, correlationID string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, s.ServiceName, correlationID, payload)
	if err == nil {
		env.TraceID = observe.TraceID(ctx)
		err = s.Events.PublishEvent(ctx, topic, env)
	}
	if err != nil {
		s.logger(ctx).Warn("event_publish_failed",
			zap.String("topic", topic), zap.String("correlation_id", correlationID), zap.Error(err))
	}
}

func (s *Service) cachePut(ctx context.Context, snap orders.StatusSnapshot) {
	if s.Cache == nil {
		return
	}
	var err error
	if c, ok := s.Cache.(interface {
		PutIfNewer(ctx context.Context, snap orders.StatusSnapshot) (bool, error)
	}); ok {
		_, err = c.PutIfNewer(ctx, snap)
	} else {
		err = s.Cache.Put(ctx, snap)
	}
	if err != nil {
		s.logger(ctx).Warn("status_cache_put_failed", zap.String("order_id", snap.OrderID), zap.Error(err))
	}
}

func (s *Service) cacheDelete(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, orderID); err != nil {
		s.logger(ctx).Warn("status_cache_delete_failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
