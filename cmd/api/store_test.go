package main

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-order-fulfillment/internal/access"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendServesSeededUser(t *testing.T) {
	const id = "6f1c1a52-8f53-4c6e-9d43-0c1f3c1c9a10"
	store, authz, user := memoryBackend(config.Config{DemoUserUUID: id})
	assert.Equal(t, id, user.UUID)

	caps, err := authz.Capabilities(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, caps.Has(access.ManageOrders))
	assert.True(t, caps.Has(access.ViewOrders))

	addr, err := store.FindDefaultForUser(context.Background(), user.ID)
	require.NoError(t, err)

	svc := &fulfillment.Service{Store: store, CreateTx: fulfillment.DefaultCreateTx(), TransitionTx: fulfillment.DefaultTransitionTx()}
	page, err := svc.ListOrders(context.Background(), fulfillment.ListOrdersInput{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	var product orders.Product
	require.NoError(t, store.InTx(context.Background(), orders.TxOptions{ReadOnly: true}, func(ctx context.Context, tx orders.Tx) error {
		var err error
		// the first seeded product follows the address
		product, err = tx.ProductByID(ctx, addr.ID+1)
		return err
	}))
	o, err := svc.CreateOrder(context.Background(), fulfillment.CreateOrderInput{
		UserID: id, AddressID: addr.ID, Items: []orders.ItemInput{{ProductID: product.UUID, Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, product.Price, o.TotalAmount)
}

func TestMemoryBackendGeneratesUser(t *testing.T) {
	_, authz, user := memoryBackend(config.Config{})
	require.NotEmpty(t, user.UUID)
	caps, err := authz.Capabilities(context.Background(), user.UUID)
	require.NoError(t, err)
	assert.True(t, caps.Has(access.ManageOrders))
}
