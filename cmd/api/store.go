package main

import (
	"github.com/ariefcatur/go-order-fulfillment/internal/access"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/memory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// memoryBackend builds the in-memory store with one seeded demo user that
// holds every capability. Nothing else can authenticate against it.
func memoryBackend(cfg config.Config) (*memory.Store, access.Static, orders.User) {
	store := memory.NewStore()
	user, _ := store.SeedDemo(cfg.DemoUserUUID)
	authz := access.Static{user.UUID: access.NewSet(access.ManageOrders, access.ViewOrders)}
	return store, authz, user
}
