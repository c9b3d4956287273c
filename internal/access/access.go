package access

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Capability string

const (
	ManageOrders Capability = "MANAGE_ORDERS"
	ViewOrders   Capability = "VIEW_ORDERS"
)

// Set is the capabilities granted to one user.
type Set map[Capability]struct{}

func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Principal is the authenticated caller of one request.
type Principal struct {
	UserUUID string
	Caps     Set
}

// CanSee reports whether p may read a resource owned by ownerUUID.
func (p Principal) CanSee(ownerUUID string) bool {
	return p.UserUUID == ownerUUID || p.Caps.Has(ViewOrders) || p.Caps.Has(ManageOrders)
}

// CanActFor reports whether p may act on behalf of ownerUUID.
func (p Principal) CanActFor(ownerUUID string) bool {
	return p.UserUUID == ownerUUID || p.Caps.Has(ManageOrders)
}

func (p Principal) Require(c Capability) error {
	if !p.Caps.Has(c) {
		return fmt.Errorf("%w: missing %s", orders.ErrForbidden, c)
	}
	return nil
}

type Authorizer interface {
	Capabilities(ctx context.Context, userUUID string) (Set, error)
}

// PG resolves capabilities through users -> role_permissions -> permissions.
type PG struct{ DB *pgxpool.Pool }

func (a PG) Capabilities(ctx context.Context, userUUID string) (Set, error) {
	rows, err := a.DB.Query(ctx, `
		SELECT p.name FROM users u
		JOIN role_permissions rp ON rp.role_id = u.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE u.uuid::text = $1 AND u.is_deleted = false`, userUUID)
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	s := make(Set, len(names))
	for _, n := range names {
		s[Capability(n)] = struct{}{}
	}
	return s, nil
}

// Static grants fixed capability sets per user; unknown users get none.
type Static map[string]Set

func (a Static) Capabilities(_ context.Context, userUUID string) (Set, error) {
	if s, ok := a[userUUID]; ok {
		return s, nil
	}
	return Set{}, nil
}
