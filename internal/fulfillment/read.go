package fulfillment

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderView struct {
	*orders.Order
	UserUUID string `json:"user_uuid"`
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (_ *OrderView, err error) {
	ctx, end := s.usecase().Start(ctx, ucGet, "GetOrder", attribute.String("order.id", orderID))
	defer func() { end(err) }()

	var view *OrderView
	err = s.Store.InTx(ctx, s.TransitionTx.AsReadOnly(), func(ctx context.Context, tx orders.Tx) error {
		o, err := tx.OrderByUUID(ctx, orderID)
		if err != nil {
			return err
		}
		view = &OrderView{Order: o}
		u, err := tx.UserByID(ctx, o.UserID)
		switch {
		case err == nil:
			view.UserUUID = u.UUID
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

type ListOrdersInput struct {
	UserID string        // owner uuid; empty lists every owner
	Status orders.Status // empty matches any status
	Limit  int
	Offset int
}

type OrderPage struct {
	Items  []*OrderView `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// ListOrders pages through live orders, newest first. An unknown owner
// yields an empty page.
func (s *Service) ListOrders(ctx context.Context, in ListOrdersInput) (_ *OrderPage, err error) {
	ctx, end := s.usecase().Start(ctx, ucList, "ListOrders",
		attribute.String("order.user_id", in.UserID),
		attribute.String("order.status", string(in.Status)),
	)
	defer func() { end(err) }()

	if in.Status != "" {
		if _, ok := orders.ParseStatus(string(in.Status)); !ok {
			return nil, orders.Validation("unknown status %q", in.Status)
		}
	}
	if in.Offset < 0 {
		return nil, orders.Validation("offset must not be negative")
	}
	switch {
	case in.Limit <= 0:
		in.Limit = defaultPageLimit
	case in.Limit > maxPageLimit:
		in.Limit = maxPageLimit
	}

	page := &OrderPage{Items: []*OrderView{}, Limit: in.Limit, Offset: in.Offset}
	err = s.Store.InTx(ctx, s.TransitionTx.AsReadOnly(), func(ctx context.Context, tx orders.Tx) error {
		f := orders.OrderFilter{Status: in.Status, Limit: in.Limit, Offset: in.Offset}
		if in.UserID != "" {
			u, err := tx.UserByUUID(ctx, in.UserID)
			if errors.Is(err, orders.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			f.UserID = u.ID
		}
		total, err := tx.CountOrders(ctx, f)
		if err != nil {
			return err
		}
		list, err := tx.ListOrders(ctx, f)
		if err != nil {
			return err
		}
		owners := make(map[int64]string)
		for _, o := range list {
			uuid, ok := owners[o.UserID]
			if !ok {
				u, err := tx.UserByID(ctx, o.UserID)
				if err != nil && !errors.Is(err, orders.ErrNotFound) {
					return err
				}
				uuid = u.UUID
				owners[o.UserID] = uuid
			}
			page.Items = append(page.Items, &OrderView{Order: o, UserUUID: uuid})
		}
		page.Total = total
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// OrderStatus serves the status read model, falling back to the store on a
// cache miss and refilling the cache from it.
func (s *Service) OrderStatus(ctx context.Context, orderID string) (_ orders.StatusSnapshot, err error) {
	ctx, end := s.usecase().Start(ctx, ucReadStat, "OrderStatus", attribute.String("order.id", orderID))
	defer func() { end(err) }()

	if s.Cache != nil {
		snap, ok, cerr := s.Cache.Get(ctx, orderID)
		if cerr != nil {
			s.logger(ctx).Warn("status_cache_get_failed", zap.String("order_id", orderID), zap.Error(cerr))
		}
		if ok && cerr == nil {
			return snap, nil
		}
	}

	view, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return orders.StatusSnapshot{}, err
	}
	snap := orders.StatusSnapshot{
		OrderID:   view.UUID,
		UserUUID:  view.UserUUID,
		Status:    view.Status,
		UpdatedAt: view.UpdatedAt,
	}
	s.cachePut(ctx, snap)
	return snap, nil
}
