package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

type memTx struct {
	st       *state
	readOnly bool
}

func (t *memTx) writable() error {
	if t.readOnly {
		return orders.ErrReadOnlyTx
	}
	return nil
}

func (t *memTx) UserByUUID(_ context.Context, id string) (orders.User, error) {
	for _, u := range t.st.users {
		if u.UUID == id && !u.IsDeleted {
			return u, nil
		}
	}
	return orders.User{}, orders.ErrUserNotFound
}

func (t *memTx) UserByID(_ context.Context, id int64) (orders.User, error) {
	u, ok := t.st.users[id]
	if !ok || u.IsDeleted {
		return orders.User{}, orders.ErrUserNotFound
	}
	return u, nil
}

func (t *memTx) AddressByID(_ context.Context, id int64) (orders.Address, error) {
	a, ok := t.st.addresses[id]
	if !ok || a.IsDeleted {
		return orders.Address{}, orders.ErrAddressNotFound
	}
	return a, nil
}

func (t *memTx) ProductByUUID(_ context.Context, id string) (orders.Product, error) {
	for _, p := range t.st.products {
		if p.UUID == id && !p.IsDeleted {
			return p, nil
		}
	}
	return orders.Product{}, orders.ErrProductNotFound
}

func (t *memTx) ProductByID(_ context.Context, id int64) (orders.Product, error) {
	p, ok := t.st.products[id]
	if !ok || p.IsDeleted {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (t *memTx) UpdateProductCounters(_ context.Context, id int64, stockDelta, soldDelta int) error {
	if err := t.writable(); err != nil {
		return err
	}
	p, ok := t.st.products[id]
	if !ok || p.IsDeleted {
		return orders.ErrProductNotFound
	}
	if p.Stock+stockDelta < 0 {
		return fmt.Errorf("%w: product id %d", orders.ErrInsufficientStock, id)
	}
	p.Stock += stockDelta
	p.Sold += soldDelta
	p.UpdatedAt = time.Now().UTC()
	t.st.products[id] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.writable(); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.ID = t.st.newID()
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Items {
		o.Items[i].ID = t.st.newID()
		o.Items[i].OrderID = o.ID
	}
	t.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) OrderByUUID(_ context.Context, id string) (*orders.Order, error) {
	for _, o := range t.st.orders {
		if o.UUID == id && !o.IsDeleted {
			return cloneOrder(o), nil
		}
	}
	return nil, orders.ErrOrderNotFound
}

func (t *memTx) OrderByID(_ context.Context, id int64) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok || o.IsDeleted {
		return nil, orders.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) matching(f orders.OrderFilter) []*orders.Order {
	var out []*orders.Order
	for _, o := range t.st.orders {
		if o.IsDeleted || (f.UserID != 0 && o.UserID != f.UserID) || (f.Status != "" && o.Status != f.Status) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (t *memTx) ListOrders(_ context.Context, f orders.OrderFilter) ([]*orders.Order, error) {
	all := t.matching(f)
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	out := make([]*orders.Order, 0, len(all))
	for _, o := range all {
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (t *memTx) CountOrders(_ context.Context, f orders.OrderFilter) (int, error) {
	return len(t.matching(f)), nil
}

func (t *memTx) SetOrderStatus(_ context.Context, id int64, s orders.Status) error {
	if err := t.writable(); err != nil {
		return err
	}
	o, ok := t.st.orders[id]
	if !ok || o.IsDeleted {
		return orders.ErrOrderNotFound
	}
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) SoftDeleteOrder(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	o, ok := t.st.orders[id]
	if !ok || o.IsDeleted {
		return orders.ErrOrderNotFound
	}
	o.IsDeleted = true
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p *orders.Payment) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, existing := range t.st.payments {
		if existing.TransactionID == p.TransactionID {
			return fmt.Errorf("payment with transaction id %q already exists", p.TransactionID)
		}
	}
	now := time.Now().UTC()
	p.ID = t.st.newID()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.payments[p.ID] = clonePayment(p)
	return nil
}

func (t *memTx) PaymentByTransactionID(_ context.Context, ref string) (*orders.Payment, error) {
	for _, p := range t.st.payments {
		if p.TransactionID == ref {
			return clonePayment(p), nil
		}
	}
	return nil, orders.ErrPaymentNotFound
}

func (t *memTx) UpdatePayment(_ context.Context, p *orders.Payment) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.payments[p.ID]; !ok {
		return orders.ErrPaymentNotFound
	}
	c := clonePayment(p)
	c.UpdatedAt = time.Now().UTC()
	t.st.payments[p.ID] = c
	return nil
}
