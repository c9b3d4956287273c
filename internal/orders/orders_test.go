package orders

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipping, false},
		{StatusProcessing, StatusShipping, true},
		{StatusShipping, StatusDelivered, true},
		{StatusShipping, StatusProcessing, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
	assert.True(t, StatusDelivered.Terminal())
	assert.False(t, StatusShipping.Terminal())

	_, ok := ParseStatus("shipped")
	assert.False(t, ok)
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrOrderNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrAmountMismatch, ErrValidation)

	var err error = &StockError{ProductID: "p1", Required: 3, Available: 1}
	assert.ErrorIs(t, fmt.Errorf("product p1: %w", err), ErrInsufficientStock)
	assert.Contains(t, err.Error(), "required 3, available 1")

	assert.True(t, IsTransient(fmt.Errorf("x: %w", ErrConflict)))
	assert.True(t, IsTransient(ErrGatewayUnavailable))
	assert.False(t, IsTransient(ErrPaymentFailed))
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"40001", ErrConflict},
		{"40P01", ErrConflict},
		{"55P03", ErrTxTimeout},
		{"23514", ErrInsufficientStock},
		{"25006", ErrReadOnlyTx},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapPgError(fmt.Errorf("update: %w", &pgconn.PgError{Code: tt.code}))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.ErrorIs(t, mapPgError(context.DeadlineExceeded), ErrTxTimeout)

	plain := errors.New("boom")
	assert.Equal(t, plain, mapPgError(plain))
}

func TestEnvelope(t *testing.T) {
	o := &Order{UUID: "o1", UserID: 7, TotalAmount: 60, Status: StatusPending,
		Items: []OrderItem{{ProductUUID: "p1", Quantity: 2, UnitPrice: 30}}}
	env, err := NewEnvelope(EventOrderCreated, "order-api", o.UUID, NewOrderCreatedPayload(o, "u1"))
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, 1, env.EventVersion)

	p, err := DecodePayload[OrderCreatedPayload](env)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserUUID)
	assert.Equal(t, []ItemPrice{{ProductID: "p1", Qty: 2, UnitPrice: 30}}, p.Items)
	assert.Equal(t, o.Sum(), p.TotalAmount)
}
