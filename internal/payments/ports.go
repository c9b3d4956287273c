package payments

import (
	"context"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Intent is what the gateway needs to open a payment.
type Intent struct {
	Reference string // local payment uuid
	Amount    int64  // minor units of the store currency
	Items     []orders.PaymentItem
}

type IntentResult struct {
	ID          string // gateway reference, stored as payment.transaction_id
	ApprovalURL string
}

// CaptureResult is the gateway's report. Completed is false for every
// answer other than a successful capture.
type CaptureResult struct {
	Completed bool
	Status    string
	CaptureID string
}

// Gateway errors mean "no report": the outcome of the call is unknown.
type Gateway interface {
	CreateIntent(ctx context.Context, in Intent) (IntentResult, error)
	Capture(ctx context.Context, ref string) (CaptureResult, error)
}

type AddressDirectory interface {
	FindDefaultForUser(ctx context.Context, userID int64) (orders.Address, error)
}

type CartStore interface {
	RemoveItems(ctx context.Context, userID int64, productUUIDs []string) (int64, error)
}

// Locker serializes captures of one gateway reference across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Fulfiller is the order side of a capture.
type Fulfiller interface {
	Place(ctx context.Context, tx orders.Tx, in fulfillment.PlaceInput) (*orders.Order, error)
	OrderPlaced(ctx context.Context, o *orders.Order, userUUID string)
	UpdateOrderStatus(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error)
}

var _ Fulfiller = (*fulfillment.Service)(nil)
