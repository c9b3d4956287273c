package payments

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CaptureByGatewayRef finalizes a payment and materializes its order.
//
// The gateway is called between two local transactions, never inside one.
// Linking the payment and inserting the order commit together, so a replayed
// capture finds the payment COMPLETED and returns the order it already made.
func (s *Service) CaptureByGatewayRef(ctx context.Context, ref string) (_ *orders.Order, err error) {
	ctx, end := s.usecase().Start(ctx, ucCapture, "CaptureByGatewayRef", attribute.String("payment.ref", ref))
	defer func() { end(err) }()

	if s.Locks != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		unlock, err := s.Locks.Lock(ctx, ref, ttl)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var payment *orders.Payment
	err = s.Store.InTx(ctx, s.ReadTx.AsReadOnly(), func(ctx context.Context, tx orders.Tx) error {
		p, err := tx.PaymentByTransactionID(ctx, ref)
		payment = p
		return err
	})
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case orders.PaymentCompleted:
		if payment.OrderID != nil {
			return s.replay(ctx, *payment.OrderID)
		}
	case orders.PaymentFailed:
		return nil, fmt.Errorf("%w: payment %s", orders.ErrPaymentFailed, payment.UUID)
	}

	res, err := s.Gateway.Capture(ctx, ref)
	s.Metrics.Gateway("capture", metrics.Outcome(err))
	if err != nil {
		s.logger(ctx).Warn("gateway_capture_unavailable", zap.String("payment_id", payment.UUID), zap.Error(err))
		return nil, gatewayErr(err)
	}
	if !res.Completed {
		return nil, s.fail(ctx, ref, res.Status)
	}

	addr, err := s.Addresses.FindDefaultForUser(ctx, payment.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]orders.ItemInput, 0, len(payment.Items))
	productIDs := make([]string, 0, len(payment.Items))
	for _, it := range payment.Items {
		items = append(items, orders.ItemInput{ProductID: it.ProductID, Qty: it.Quantity})
		productIDs = append(productIDs, it.ProductID)
	}

	var (
		order    *orders.Order
		userUUID string
		existing bool
	)
	err = s.inTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		p, err := tx.PaymentByTransactionID(ctx, ref)
		if err != nil {
			return err
		}
		if p.OrderID != nil {
			o, err := tx.OrderByID(ctx, *p.OrderID)
			if err != nil {
				return err
			}
			order, existing = o, true
			return nil
		}
		if p.Status == orders.PaymentFailed {
			return fmt.Errorf("%w: payment %s", orders.ErrPaymentFailed, p.UUID)
		}

		u, err := tx.UserByID(ctx, p.UserID)
		if err != nil {
			return err
		}
		o, err := s.Orders.Place(ctx, tx, fulfillment.PlaceInput{UserID: p.UserID, AddressID: addr.ID, Items: items})
		if err != nil {
			return err
		}
		p.OrderID = &o.ID
		p.CaptureID = res.CaptureID
		p.Status = orders.PaymentCompleted
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		order, userUUID, payment, existing = o, u.UUID, p, false
		return nil
	})
	if err != nil {
		s.logger(ctx).Error("capture_order_failed",
			zap.String("payment_id", payment.UUID),
			zap.String("capture_id", res.CaptureID),
			zap.Error(err),
		)
		return nil, err
	}
	if existing {
		return s.advance(ctx, order)
	}

	s.Orders.OrderPlaced(ctx, order, userUUID)
	s.publish(ctx, orders.TopicPaymentCompleted, orders.EventPaymentCompleted, payment, order.UUID)
	s.logger(ctx).Info("payment_captured",
		zap.String("payment_id", payment.UUID),
		zap.String("capture_id", payment.CaptureID),
		zap.String("order_id", order.UUID),
	)

	order, err = s.advance(ctx, order)
	if err != nil {
		return nil, err
	}

	if s.Carts != nil {
		n, err := s.Carts.RemoveItems(ctx, payment.UserID, productIDs)
		if err != nil {
			s.logger(ctx).Warn("cart_cleanup_failed", zap.String("payment_id", payment.UUID), zap.Error(err))
		} else {
			s.logger(ctx).Debug("cart_cleaned", zap.Int64("removed", n))
		}
	}
	return order, nil
}

// advance moves a freshly placed order to PROCESSING. A replay that finds
// the order still PENDING finishes the step an earlier attempt missed.
func (s *Service) advance(ctx context.Context, o *orders.Order) (*orders.Order, error) {
	if o.Status != orders.StatusPending {
		return o, nil
	}
	return s.Orders.UpdateOrderStatus(ctx, o.UUID, orders.StatusProcessing)
}

func (s *Service) replay(ctx context.Context, orderID int64) (*orders.Order, error) {
	var order *orders.Order
	err := s.Store.InTx(ctx, s.ReadTx.AsReadOnly(), func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.OrderByID(ctx, orderID)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger(ctx).Info("capture_replayed", zap.String("order_id", order.UUID))
	return s.advance(ctx, order)
}

// fail marks a still-pending payment FAILED after the gateway declined it.
func (s *Service) fail(ctx context.Context, ref, status string) error {
	var payment *orders.Payment
	err := s.inTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		p, err := tx.PaymentByTransactionID(ctx, ref)
		if err != nil {
			return err
		}
		if p.Status != orders.PaymentPending {
			return nil
		}
		p.Status = orders.PaymentFailed
		payment = p
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return err
	}
	if payment != nil {
		s.logger(ctx).Warn("payment_failed", zap.String("payment_id", payment.UUID), zap.String("gateway_status", status))
		s.publish(ctx, orders.TopicPaymentFailed, orders.EventPaymentFailed, payment, "", status)
	}
	return fmt.Errorf("%w: gateway status %q", orders.ErrPaymentFailed, status)
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return orders.RetryTx(ctx, s.Store, s.Tx, s.Retries, func(attempt int, err error) {
		s.logger(ctx).Debug("tx_retry", zap.Int("attempt", attempt), zap.Error(err))
	}, fn)
}
