package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDeleted       = "OrderDeleted"
	EventPaymentCreated     = "PaymentCreated"
	EventPaymentCompleted   = "PaymentCompleted"
	EventPaymentFailed      = "PaymentFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order or payment uuid
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds a v1 envelope around payload.
func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// DecodePayload unmarshals env.Payload into T.
func DecodePayload[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return t, nil
}

// Publisher delivers envelopes after the owning transaction committed.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, string, Envelope) error { return nil }

// ---- payloads ----

type ItemPrice struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string      `json:"order_id"`
	UserID      int64       `json:"user_id"`
	UserUUID    string      `json:"user_uuid,omitempty"`
	Items       []ItemPrice `json:"items"`
	TotalAmount int64       `json:"total_amount"`
	Status      Status      `json:"status"`
}

type OrderStatusChangedPayload struct {
	OrderID  string `json:"order_id"`
	UserUUID string `json:"user_uuid,omitempty"`
	From     Status `json:"from"`
	To       Status `json:"to"`
}

type OrderDeletedPayload struct {
	OrderID   string `json:"order_id"`
	Status    Status `json:"status"`
	Restocked bool   `json:"restocked"`
}

type PaymentPayload struct {
	PaymentID     string        `json:"payment_id"`
	TransactionID string        `json:"transaction_id"`
	CaptureID     string        `json:"capture_id,omitempty"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	OrderID       string        `json:"order_id,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}

func NewOrderCreatedPayload(o *Order, userUUID string) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductUUID, Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderCreatedPayload{
		OrderID:     o.UUID,
		UserID:      o.UserID,
		UserUUID:    userUUID,
		Items:       items,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
	}
}
