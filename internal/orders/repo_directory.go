package orders

import (
	"context"
	"fmt"
)

// FindDefaultForUser returns the user's live default address.
func (r *Repo) FindDefaultForUser(ctx context.Context, userID int64) (Address, error) {
	var a Address
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, is_default, is_deleted FROM addresses
		WHERE user_id=$1 AND is_default=true AND is_deleted=false
		ORDER BY id LIMIT 1`, userID,
	).Scan(&a.ID, &a.UserID, &a.IsDefault, &a.IsDeleted)
	return a, notFound(err, ErrAddressNotFound)
}

// RemoveItems deletes the user's cart rows for the given product uuids.
func (r *Repo) RemoveItems(ctx context.Context, userID int64, productUUIDs []string) (int64, error) {
	if len(productUUIDs) == 0 {
		return 0, nil
	}
	ct, err := r.DB.Exec(ctx, `
		DELETE FROM cart_items ci
		USING products p
		WHERE ci.product_id = p.id AND ci.user_id=$1 AND p.uuid::text = ANY($2::text[])`,
		userID, productUUIDs)
	if err != nil {
		return 0, fmt.Errorf("remove cart items: %w", err)
	}
	return ct.RowsAffected(), nil
}
