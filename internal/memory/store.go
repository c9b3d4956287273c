package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Store is an in-process orders.Store. Transactions run one at a time against
// a private copy of the data that replaces the shared copy on commit, which
// gives serializable semantics for every isolation level.
type Store struct {
	slot chan struct{}

	mu sync.RWMutex
	st *state

	conflicts int // pending injected conflicts, guarded by slot
}

type state struct {
	nextID    int64
	users     map[int64]orders.User
	addresses map[int64]orders.Address
	products  map[int64]orders.Product
	orders    map[int64]*orders.Order
	payments  map[int64]*orders.Payment
	carts     map[int64]map[int64]int // user id -> product id -> qty
}

var _ orders.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		slot: make(chan struct{}, 1),
		st: &state{
			users:     make(map[int64]orders.User),
			addresses: make(map[int64]orders.Address),
			products:  make(map[int64]orders.Product),
			orders:    make(map[int64]*orders.Order),
			payments:  make(map[int64]*orders.Payment),
			carts:     make(map[int64]map[int64]int),
		},
	}
}

func (s *Store) acquire(ctx context.Context, maxWait time.Duration) error {
	var timeout <-chan time.Time
	if maxWait > 0 {
		t := time.NewTimer(maxWait)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: waited %s for a transaction slot", orders.ErrTxTimeout, maxWait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.slot }

func (s *Store) InTx(ctx context.Context, opts orders.TxOptions, fn func(ctx context.Context, tx orders.Tx) error) error {
	if opts.ReadOnly {
		return s.read(ctx, opts, fn)
	}
	if err := s.acquire(ctx, opts.MaxWait); err != nil {
		return err
	}
	defer s.release()

	if s.conflicts > 0 {
		s.conflicts--
		return fmt.Errorf("%w: injected", orders.ErrConflict)
	}

	txCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(txCtx, &memTx{st: work}); err != nil {
		return err
	}
	if err := txCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", orders.ErrTxTimeout, err)
		}
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// read runs fn against a snapshot of the committed state without taking the
// transaction slot, so reads never queue behind writers.
func (s *Store) read(ctx context.Context, opts orders.TxOptions, fn func(ctx context.Context, tx orders.Tx) error) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	s.mu.RLock()
	snap := s.st.clone()
	s.mu.RUnlock()
	return fn(ctx, &memTx{st: snap, readOnly: true})
}

// InjectConflicts makes the next n transactions fail with orders.ErrConflict
// before running, the way a serializable store aborts a losing transaction.
func (s *Store) InjectConflicts(n int) {
	s.slot <- struct{}{}
	s.conflicts = n
	<-s.slot
}

// mutate applies fn to the shared state while holding the transaction slot.
func (s *Store) mutate(fn func(st *state)) {
	s.slot <- struct{}{}
	defer func() { <-s.slot }()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (st *state) clone() *state {
	c := &state{
		nextID:    st.nextID,
		users:     make(map[int64]orders.User, len(st.users)),
		addresses: make(map[int64]orders.Address, len(st.addresses)),
		products:  make(map[int64]orders.Product, len(st.products)),
		orders:    make(map[int64]*orders.Order, len(st.orders)),
		payments:  make(map[int64]*orders.Payment, len(st.payments)),
		carts:     make(map[int64]map[int64]int, len(st.carts)),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range st.payments {
		c.payments[k] = clonePayment(v)
	}
	for u, items := range st.carts {
		m := make(map[int64]int, len(items))
		for p, q := range items {
			m[p] = q
		}
		c.carts[u] = m
	}
	return c
}

func (st *state) newID() int64 {
	st.nextID++
	return st.nextID
}

func cloneOrder(o *orders.Order) *orders.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]orders.OrderItem(nil), o.Items...)
	return &c
}

func clonePayment(p *orders.Payment) *orders.Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.Items = append([]orders.PaymentItem(nil), p.Items...)
	if p.OrderID != nil {
		id := *p.OrderID
		c.OrderID = &id
	}
	return &c
}
