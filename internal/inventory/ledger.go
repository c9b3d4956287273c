package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Ledger is the only writer of products.stock and products.sold. It always
// runs inside the caller's transaction and never opens one itself.
type Ledger struct {
	Metrics *metrics.Recorder
}

// Delta is one pending counter change.
type Delta struct {
	ProductID int64
	Stock     int
	Sold      int
}

// Adjust applies stockDelta and soldDelta to one product. The product row is
// locked by the read, so the check and the write see the same stock.
func (l *Ledger) Adjust(ctx context.Context, tx orders.Tx, productID int64, stockDelta, soldDelta int) error {
	p, err := tx.ProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if p.Stock+stockDelta < 0 {
		return &orders.StockError{ProductID: p.UUID, Required: -stockDelta, Available: p.Stock}
	}
	if err := tx.UpdateProductCounters(ctx, productID, stockDelta, soldDelta); err != nil {
		return fmt.Errorf("adjust product %s: %w", p.UUID, err)
	}
	l.Metrics.Adjustment(direction(stockDelta))
	return nil
}

// ApplyAll applies every delta or stops at the first failure; the caller's
// rollback discards the ones already applied.
func (l *Ledger) ApplyAll(ctx context.Context, tx orders.Tx, deltas []Delta) error {
	for _, d := range deltas {
		if d.Stock == 0 && d.Sold == 0 {
			continue
		}
		if err := l.Adjust(ctx, tx, d.ProductID, d.Stock, d.Sold); err != nil {
			return err
		}
	}
	return nil
}

func direction(stockDelta int) string {
	switch {
	case stockDelta < 0:
		return "out"
	case stockDelta > 0:
		return "in"
	default:
		return "sold"
	}
}
