package orders

import (
	"context"
	"time"
)

type Isolation int

const (
	ReadCommitted Isolation = iota
	Serializable
)

func (i Isolation) String() string {
	if i == Serializable {
		return "serializable"
	}
	return "read_committed"
}

// TxOptions bounds a transaction: MaxWait limits the time spent acquiring a
// transaction slot, Timeout limits the transaction as a whole. Zero means unbounded.
// A ReadOnly transaction takes no row locks and rejects writes.
type TxOptions struct {
	Isolation Isolation
	MaxWait   time.Duration
	Timeout   time.Duration
	ReadOnly  bool
}

// AsReadOnly returns o with ReadOnly set.
func (o TxOptions) AsReadOnly() TxOptions {
	o.ReadOnly = true
	return o
}

// OrderFilter narrows ListOrders and CountOrders. Zero fields match
// everything; Limit and Offset only apply to ListOrders.
type OrderFilter struct {
	UserID int64
	Status Status
	Limit  int
	Offset int
}

// Store runs fn inside one transaction. fn's error rolls everything back; a
// nil return commits. Adapters report ErrConflict and ErrTxTimeout for
// serialization failures and exhausted bounds.
type Store interface {
	InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of row operations available inside a transaction. Outside a
// ReadOnly transaction, lookups of products, orders and payments lock the row
// until the transaction ends.
type Tx interface {
	UserByUUID(ctx context.Context, uuid string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	AddressByID(ctx context.Context, id int64) (Address, error)

	ProductByUUID(ctx context.Context, uuid string) (Product, error)
	ProductByID(ctx context.Context, id int64) (Product, error)
	// UpdateProductCounters is the raw counter write behind inventory.Ledger.
	UpdateProductCounters(ctx context.Context, id int64, stockDelta, soldDelta int) error

	InsertOrder(ctx context.Context, o *Order) error
	OrderByUUID(ctx context.Context, uuid string) (*Order, error)
	OrderByID(ctx context.Context, id int64) (*Order, error)
	SetOrderStatus(ctx context.Context, id int64, s Status) error
	SoftDeleteOrder(ctx context.Context, id int64) error
	// ListOrders returns live orders matching f, newest first, with their items.
	ListOrders(ctx context.Context, f OrderFilter) ([]*Order, error)
	CountOrders(ctx context.Context, f OrderFilter) (int, error)

	InsertPayment(ctx context.Context, p *Payment) error
	PaymentByTransactionID(ctx context.Context, ref string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
}
