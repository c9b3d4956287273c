package fulfillment

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type CreateOrderInput struct {
	UserID    string             `json:"user_id"` // user uuid
	AddressID int64              `json:"address_id"`
	Items     []orders.ItemInput `json:"items"`
}

type PlaceInput struct {
	UserID    int64
	AddressID int64
	Items     []orders.ItemInput
}

// CreateOrder places an order in its own serializable transaction: stock is
// decremented for every line and the order is stored PENDING, or nothing
// changes at all.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *orders.Order, err error) {
	ctx, end := s.usecase().Start(ctx, ucCreate, "CreateOrder",
		attribute.String("order.user_id", in.UserID),
		attribute.Int("order.lines", len(in.Items)),
	)
	defer func() { end(err) }()

	items, err := NormalizeItems(in.Items)
	if err != nil {
		return nil, err
	}

	var (
		order *orders.Order
		user  orders.User
	)
	err = s.inTx(ctx, s.CreateTx, func(ctx context.Context, tx orders.Tx) error {
		u, err := tx.UserByUUID(ctx, in.UserID)
		if err != nil {
			return err
		}
		o, err := s.place(ctx, tx, u, in.AddressID, items)
		if err != nil {
			return err
		}
		order, user = o, u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.OrderPlaced(ctx, order, user.UUID)
	return order, nil
}

// Place is the order creation body for callers that own the transaction,
// such as payment capture. The caller publishes with OrderPlaced after commit.
func (s *Service) Place(ctx context.Context, tx orders.Tx, in PlaceInput) (*orders.Order, error) {
	items, err := NormalizeItems(in.Items)
	if err != nil {
		return nil, err
	}
	u, err := tx.UserByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return s.place(ctx, tx, u, in.AddressID, items)
}

func (s *Service) place(ctx context.Context, tx orders.Tx, u orders.User, addressID int64, items []orders.ItemInput) (*orders.Order, error) {
	addr, err := tx.AddressByID(ctx, addressID)
	if err != nil {
		return nil, err
	}
	if addr.UserID != u.ID {
		return nil, fmt.Errorf("%w: address %d does not belong to user", orders.ErrAddressNotFound, addressID)
	}

	o := &orders.Order{
		UUID:      uuid.NewString(),
		UserID:    u.ID,
		AddressID: addr.ID,
		Status:    orders.StatusPending,
		Items:     make([]orders.OrderItem, 0, len(items)),
	}
	for _, it := range items {
		p, err := tx.ProductByUUID(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", it.ProductID, err)
		}
		if err := s.ledger().Adjust(ctx, tx, p.ID, -it.Qty, 0); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, orders.OrderItem{
			ProductID:   p.ID,
			ProductUUID: p.UUID,
			Quantity:    it.Qty,
			UnitPrice:   p.Price,
		})
	}
	o.TotalAmount = o.Sum()

	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// OrderPlaced runs the post-commit side effects of a new order.
func (s *Service) OrderPlaced(ctx context.Context, o *orders.Order, userUUID string) {
	s.logger(ctx).Info("order_created",
		zap.String("order_id", o.UUID),
		zap.Int64("total_amount", o.TotalAmount),
		zap.Int("lines", len(o.Items)),
	)
	s.publish(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, o.UUID, orders.NewOrderCreatedPayload(o, userUUID))
	s.cachePut(ctx, orders.StatusSnapshot{OrderID: o.UUID, UserUUID: userUUID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

// NormalizeItems validates line items and merges repeated products, keeping
// the order in which each product first appeared.
func NormalizeItems(items []orders.ItemInput) ([]orders.ItemInput, error) {
	if len(items) == 0 {
		return nil, orders.Validation("at least one item is required")
	}
	out := make([]orders.ItemInput, 0, len(items))
	pos := make(map[string]int, len(items))
	for i, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, orders.Validation("item %d: product_id is required", i)
		}
		if it.Qty < 1 {
			return nil, orders.Validation("item %d: quantity must be at least 1", i)
		}
		if j, ok := pos[id]; ok {
			out[j].Qty += it.Qty
			continue
		}
		pos[id] = len(out)
		out = append(out, orders.ItemInput{ProductID: id, Qty: it.Qty})
	}
	return out, nil
}
