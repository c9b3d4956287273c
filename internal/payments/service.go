package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-order-fulfillment/internal/observe"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ucCreate  = "payment.create"
	ucCapture = "payment.capture"
	ucGet     = "payment.get"

	DefaultProvider = "PayPal"
	defaultLockTTL  = 30 * time.Second
)

type Service struct {
	Store     orders.Store
	Orders    Fulfiller
	Gateway   Gateway
	Addresses AddressDirectory
	Carts     CartStore
	Locks     Locker // optional
	Events    orders.Publisher
	Metrics   *metrics.Recorder
	Log       *zap.Logger
	Tracer    trace.Tracer

	Tx          orders.TxOptions // bounds for the serializable capture transaction
	ReadTx      orders.TxOptions
	Retries     int
	LockTTL     time.Duration
	Provider    string
	ServiceName string
}

type CreatePaymentInput struct {
	UserID string               `json:"user_id"` // user uuid
	Items  []orders.PaymentItem `json:"items"`
	Amount int64                `json:"amount"`
}

type CreatePaymentResult struct {
	Payment     *orders.Payment `json:"payment"`
	ApprovalURL string          `json:"approval_url"`
}

type PaymentView struct {
	*orders.Payment
	UserUUID string `json:"user_uuid"`
}

func (s *Service) usecase() observe.UseCase {
	return observe.UseCase{Tracer: s.Tracer, Log: s.Log, Metrics: s.Metrics}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return logging.FromContext(ctx, s.Log)
}

// CreatePayment prices the items from the catalog, opens a gateway intent and
// stores a PENDING payment holding the item snapshot.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (_ *CreatePaymentResult, err error) {
	ctx, end := s.usecase().Start(ctx, ucCreate, "CreatePayment",
		attribute.String("payment.user_id", in.UserID),
		attribute.Int64("payment.amount", in.Amount),
	)
	defer func() { end(err) }()

	items, err := normalizePaymentItems(in.Items)
	if err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, orders.Validation("amount must be positive")
	}

	var user orders.User
	err = s.Store.InTx(ctx, s.ReadTx.AsReadOnly(), func(ctx context.Context, tx orders.Tx) error {
		u, err := tx.UserByUUID(ctx, in.UserID)
		if err != nil {
			return err
		}
		user = u
		var total int64
		for i := range items {
			it := &items[i]
			p, err := tx.ProductByUUID(ctx, it.ProductID)
			if err != nil {
				return fmt.Errorf("product %s: %w", it.ProductID, err)
			}
			if p.Price <= 0 {
				return orders.Validation("product %s has no price", p.UUID)
			}
			if p.Stock < it.Quantity {
				return &orders.StockError{ProductID: p.UUID, Required: it.Quantity, Available: p.Stock}
			}
			it.UnitPrice = p.Price
			if it.Name == "" {
				it.Name = p.Name
			}
			total += p.Price * int64(it.Quantity)
		}
		if total != in.Amount {
			return fmt.Errorf("%w: got %d, items total %d", orders.ErrAmountMismatch, in.Amount, total)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment := &orders.Payment{
		UUID:     uuid.NewString(),
		UserID:   user.ID,
		Amount:   in.Amount,
		Provider: s.provider(),
		Status:   orders.PaymentPending,
		Items:    items,
	}
	intent, err := s.Gateway.CreateIntent(ctx, Intent{Reference: payment.UUID, Amount: payment.Amount, Items: items})
	s.Metrics.Gateway("create_intent", metrics.Outcome(err))
	if err != nil {
		return nil, gatewayErr(err)
	}
	payment.TransactionID = intent.ID

	err = s.Store.InTx(ctx, s.ReadTx, func(ctx context.Context, tx orders.Tx) error {
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, fmt.Errorf("store payment: %w", err)
	}

	s.logger(ctx).Info("payment_created",
		zap.String("payment_id", payment.UUID),
		zap.String("transaction_id", payment.TransactionID),
		zap.Int64("amount", payment.Amount),
	)
	s.publish(ctx, orders.TopicPaymentCreated, orders.EventPaymentCreated, payment, "")
	return &CreatePaymentResult{Payment: payment, ApprovalURL: intent.ApprovalURL}, nil
}

func (s *Service) PaymentByRef(ctx context.Context, ref string) (_ *PaymentView, err error) {
	ctx, end := s.usecase().Start(ctx, ucGet, "PaymentByRef", attribute.String("payment.ref", ref))
	defer func() { end(err) }()

	var view *PaymentView
	err = s.Store.InTx(ctx, s.ReadTx.AsReadOnly(), func(ctx context.Context, tx orders.Tx) error {
		p, err := tx.PaymentByTransactionID(ctx, ref)
		if err != nil {
			return err
		}
		view = &PaymentView{Payment: p}
		u, err := tx.UserByID(ctx, p.UserID)
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

func normalizePaymentItems(items []orders.PaymentItem) ([]orders.PaymentItem, error) {
	inputs := make([]orders.ItemInput, 0, len(items))
	for _, it := range items {
		inputs = append(inputs, orders.ItemInput{ProductID: it.ProductID, Qty: it.Quantity})
	}
	merged, err := fulfillment.NormalizeItems(inputs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]orders.PaymentItem, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if _, ok := byID[id]; !ok {
			byID[id] = it
		}
	}
	out := make([]orders.PaymentItem, 0, len(merged))
	for _, m := range merged {
		it := byID[m.ProductID]
		it.ProductID = m.ProductID
		it.Quantity = m.Qty
		out = append(out, it)
	}
	return out, nil
}

func gatewayErr(err error) error {
	if errors.Is(err, orders.ErrGatewayUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", orders.ErrGatewayUnavailable, err)
}

func (s *Service) provider() string {
	if s.Provider == "" {
		return DefaultProvider
	}
	return s.Provider
}

func (s *Service) publish(ctx context.Context, topic, eventType string, p *orders.Payment, orderUUID string, reason ...string) {
	if s.Events == nil {
		return
	}
	payload := orders.PaymentPayload{
		PaymentID:     p.UUID,
		TransactionID: p.TransactionID,
		CaptureID:     p.CaptureID,
		Amount:        p.Amount,
		Status:        p.Status,
		OrderID:       orderUUID,
	}
	if len(reason) > 0 {
		payload.Reason = reason[0]
	}
	env, err := orders.NewEnvelope(eventType, s.ServiceName, p.UUID, payload)
	if err == nil {
		env.TraceID = observe.TraceID(ctx)
		err = s.Events.PublishEvent(ctx, topic, env)
	}
	if err != nil {
		s.logger(ctx).Warn("event_publish_failed", zap.String("topic", topic), zap.String("payment_id", p.UUID), zap.Error(err))
	}
}
