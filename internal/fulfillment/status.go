package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// UpdateOrderStatus moves an order one step along
// PENDING -> PROCESSING -> SHIPPING -> DELIVERED, or to CANCELLED from any
// non-terminal status. Entering DELIVERED adds the quantities to sold;
// entering CANCELLED returns them to stock. Setting the current status again
// changes nothing.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, to orders.Status) (_ *orders.Order, err error) {
	ctx, end := s.usecase().Start(ctx, ucStatus, "UpdateOrderStatus",
		attribute.String("order.id", orderID),
		attribute.String("order.status_to", string(to)),
	)
	defer func() { end(err) }()

	if _, ok := orders.ParseStatus(string(to)); !ok {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidTransition, to)
	}

	var (
		order   *orders.Order
		from    orders.Status
		owner   string
		changed bool
	)
	err = s.inTx(ctx, s.TransitionTx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.OrderByUUID(ctx, orderID)
		if err != nil {
			return err
		}
		from, changed = o.Status, false
		if o.Status == to {
			order = o
			return nil
		}
		if !orders.CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", orders.ErrInvalidTransition, o.Status, to)
		}

		if err := s.ledger().ApplyAll(ctx, tx, transitionDeltas(o, to)); err != nil {
			return err
		}
		if err := tx.SetOrderStatus(ctx, o.ID, to); err != nil {
			return err
		}
		o.Status = to
		o.UpdatedAt = time.Now().UTC()

		u, err := tx.UserByID(ctx, o.UserID)
		switch {
		case err == nil:
			owner = u.UUID
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}
		order, changed = o, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	s.logger(ctx).Info("order_status_changed",
		zap.String("order_id", order.UUID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, order.UUID,
		orders.OrderStatusChangedPayload{OrderID: order.UUID, UserUUID: owner, From: from, To: to})
	s.cachePut(ctx, orders.StatusSnapshot{OrderID: order.UUID, UserUUID: owner, Status: to, UpdatedAt: order.UpdatedAt})
	return order, nil
}

// transitionDeltas derives the counter side effects of entering status to.
func transitionDeltas(o *orders.Order, to orders.Status) []inventory.Delta {
	var deltas []inventory.Delta
	for _, it := range o.Items {
		switch {
		case to == orders.StatusDelivered && o.Status != orders.StatusDelivered:
			deltas = append(deltas, inventory.Delta{ProductID: it.ProductID, Sold: it.Quantity})
		case to == orders.StatusCancelled && o.Status != orders.StatusCancelled:
			deltas = append(deltas, inventory.Delta{ProductID: it.ProductID, Stock: it.Quantity})
		}
	}
	return deltas
}

// DeleteOrder soft-deletes an order. Stock is returned unless the order was
// DELIVERED or CANCELLED, whose inventory is already settled.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) (err error) {
	ctx, end := s.usecase().Start(ctx, ucDelete, "DeleteOrder", attribute.String("order.id", orderID))
	defer func() { end(err) }()

	var (
		status    orders.Status
		restocked bool
	)
	err = s.inTx(ctx, s.CreateTx, func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.OrderByUUID(ctx, orderID)
		if err != nil {
			return err
		}
		status, restocked = o.Status, !o.Status.Terminal()
		if restocked {
			deltas := make([]inventory.Delta, 0, len(o.Items))
			for _, it := range o.Items {
				deltas = append(deltas, inventory.Delta{ProductID: it.ProductID, Stock: it.Quantity})
			}
			if err := s.ledger().ApplyAll(ctx, tx, deltas); err != nil {
				return err
			}
		}
		return tx.SoftDeleteOrder(ctx, o.ID)
	})
	if err != nil {
		return err
	}

	s.logger(ctx).Info("order_deleted", zap.String("order_id", orderID), zap.Bool("restocked", restocked))
	s.publish(ctx, orders.TopicOrderDeleted, orders.EventOrderDeleted, orderID,
		orders.OrderDeletedPayload{OrderID: orderID, Status: status, Restocked: restocked})
	s.cacheDelete(ctx, orderID)
	return nil
}
