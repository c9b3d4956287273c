package memory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
)

// Seeding and inspection helpers used by local runs and tests.

func (s *Store) AddUser() orders.User {
	return s.AddUserUUID(uuid.NewString())
}

func (s *Store) AddUserUUID(id string) orders.User {
	var u orders.User
	s.mutate(func(st *state) {
		u = orders.User{ID: st.newID(), UUID: id}
		st.users[u.ID] = u
	})
	return u
}

// SeedDemo adds one user with a default address and a small catalog so a
// local run can place orders. An empty userUUID gets a fresh one.
func (s *Store) SeedDemo(userUUID string) (orders.User, []orders.Product) {
	if userUUID == "" {
		userUUID = uuid.NewString()
	}
	u := s.AddUserUUID(userUUID)
	s.AddAddress(u.ID, true)
	products := []orders.Product{
		s.AddProduct("notebook", 46000, 100),
		s.AddProduct("pen", 23000, 250),
		s.AddProduct("backpack", 460000, 20),
	}
	return u, products
}

func (s *Store) AddAddress(userID int64, isDefault bool) orders.Address {
	var a orders.Address
	s.mutate(func(st *state) {
		a = orders.Address{ID: st.newID(), UserID: userID, IsDefault: isDefault}
		st.addresses[a.ID] = a
	})
	return a
}

func (s *Store) AddProduct(name string, price int64, stock int) orders.Product {
	var p orders.Product
	s.mutate(func(st *state) {
		p = orders.Product{
			ID:        st.newID(),
			UUID:      uuid.NewString(),
			Name:      name,
			Price:     price,
			Stock:     stock,
			UpdatedAt: time.Now().UTC(),
		}
		st.products[p.ID] = p
	})
	return p
}

// SetPrice changes the catalog price; existing orders keep their frozen prices.
func (s *Store) SetPrice(productID int64, price int64) {
	s.mutate(func(st *state) {
		if p, ok := st.products[productID]; ok {
			p.Price = price
			st.products[productID] = p
		}
	})
}

func (s *Store) DeleteProduct(productID int64) {
	s.mutate(func(st *state) {
		if p, ok := st.products[productID]; ok {
			p.IsDeleted = true
			st.products[productID] = p
		}
	})
}

func (s *Store) AddCartItem(userID, productID int64, qty int) {
	s.mutate(func(st *state) {
		if st.carts[userID] == nil {
			st.carts[userID] = make(map[int64]int)
		}
		st.carts[userID][productID] += qty
	})
}

func (s *Store) Product(id int64) (orders.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	return p, ok
}

// Order returns the stored order by uuid, including soft-deleted ones.
func (s *Store) Order(id string) (*orders.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.st.orders {
		if o.UUID == id {
			return cloneOrder(o), true
		}
	}
	return nil, false
}

func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.orders)
}

func (s *Store) Payment(ref string) (*orders.Payment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.st.payments {
		if p.TransactionID == ref {
			return clonePayment(p), true
		}
	}
	return nil, false
}

func (s *Store) CartItems(userID int64) map[int64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]int, len(s.st.carts[userID]))
	for p, q := range s.st.carts[userID] {
		out[p] = q
	}
	return out
}

// FindDefaultForUser implements the address directory.
func (s *Store) FindDefaultForUser(_ context.Context, userID int64) (orders.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *orders.Address
	for _, a := range s.st.addresses {
		if a.UserID == userID && a.IsDefault && !a.IsDeleted {
			if best == nil || a.ID < best.ID {
				a := a
				best = &a
			}
		}
	}
	if best == nil {
		return orders.Address{}, orders.ErrAddressNotFound
	}
	return *best, nil
}

// RemoveItems implements the cart store.
func (s *Store) RemoveItems(_ context.Context, userID int64, productUUIDs []string) (int64, error) {
	var n int64
	s.mutate(func(st *state) {
		want := make(map[string]bool, len(productUUIDs))
		for _, id := range productUUIDs {
			want[id] = true
		}
		for pid := range st.carts[userID] {
			if p, ok := st.products[pid]; ok && want[p.UUID] {
				delete(st.carts[userID], pid)
				n++
			}
		}
	})
	return n, nil
}
