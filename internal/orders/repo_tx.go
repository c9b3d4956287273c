package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

// forUpdate is the row lock suffix for lookups; read-only transactions skip it.
func (t *pgTx) forUpdate() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

func (t *pgTx) UserByUUID(ctx context.Context, id string) (User, error) {
	if !validUUID(id) {
		return User{}, ErrUserNotFound
	}
	var u User
	err := t.tx.QueryRow(ctx, `SELECT id, uuid::text, is_deleted FROM users WHERE uuid=$1 AND is_deleted=false`, id).
		Scan(&u.ID, &u.UUID, &u.IsDeleted)
	return u, notFound(err, ErrUserNotFound)
}

func (t *pgTx) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := t.tx.QueryRow(ctx, `SELECT id, uuid::text, is_deleted FROM users WHERE id=$1 AND is_deleted=false`, id).
		Scan(&u.ID, &u.UUID, &u.IsDeleted)
	return u, notFound(err, ErrUserNotFound)
}

func (t *pgTx) AddressByID(ctx context.Context, id int64) (Address, error) {
	var a Address
	err := t.tx.QueryRow(ctx, `SELECT id, user_id, is_default, is_deleted FROM addresses WHERE id=$1 AND is_deleted=false`, id).
		Scan(&a.ID, &a.UserID, &a.IsDefault, &a.IsDeleted)
	return a, notFound(err, ErrAddressNotFound)
}

const productCols = `id, uuid::text, name, price, stock, sold, is_deleted, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.UUID, &p.Name, &p.Price, &p.Stock, &p.Sold, &p.IsDeleted, &p.UpdatedAt)
	return p, notFound(err, ErrProductNotFound)
}

// ProductByUUID locks the product row (FOR UPDATE) until the transaction ends,
// unless the transaction is read-only.
func (t *pgTx) ProductByUUID(ctx context.Context, id string) (Product, error) {
	if !validUUID(id) {
		return Product{}, ErrProductNotFound
	}
	return scanProduct(t.tx.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE uuid=$1 AND is_deleted=false`+t.forUpdate(), id))
}

func (t *pgTx) ProductByID(ctx context.Context, id int64) (Product, error) {
	return scanProduct(t.tx.QueryRow(ctx,
		`SELECT `+productCols+` FROM products WHERE id=$1 AND is_deleted=false`+t.forUpdate(), id))
}

func (t *pgTx) UpdateProductCounters(ctx context.Context, id int64, stockDelta, soldDelta int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2, sold = sold + $3, updated_at = now()
		WHERE id=$1 AND is_deleted=false AND stock + $2 >= 0`,
		id, stockDelta, soldDelta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product id %d", ErrInsufficientStock, id)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(uuid, user_id, address_id, total_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		o.UUID, o.UserID, o.AddressID, o.TotalAmount, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			o.ID, it.ProductID, it.Quantity, it.UnitPrice,
		).Scan(&it.ID); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderCols = `id, uuid::text, user_id, address_id, total_amount, status, is_deleted, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.UUID, &o.UserID, &o.AddressID, &o.TotalAmount, &status, &o.IsDeleted, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return &o, nil
}

func (t *pgTx) loadOrder(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE `+where+` AND is_deleted=false`+t.forUpdate(), arg))
	if err != nil {
		return nil, notFound(err, ErrOrderNotFound)
	}
	if err := t.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// loadItems fills Items for every order in os with one query.
func (t *pgTx) loadItems(ctx context.Context, os []*Order) error {
	if len(os) == 0 {
		return nil
	}
	byID := make(map[int64]*Order, len(os))
	ids := make([]int64, 0, len(os))
	for _, o := range os {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.uuid::text, oi.quantity, oi.unit_price
		FROM order_items oi JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1) ORDER BY oi.order_id, oi.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductUUID, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		if o := byID[it.OrderID]; o != nil {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func orderWhere(f OrderFilter) (string, []any) {
	conds := []string{"is_deleted=false"}
	var args []any
	if f.UserID != 0 {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func (t *pgTx) ListOrders(ctx context.Context, f OrderFilter) ([]*Order, error) {
	where, args := orderWhere(f)
	args = append(args, f.Limit, f.Offset)
	rows, err := t.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		orderCols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := t.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *pgTx) CountOrders(ctx context.Context, f OrderFilter) (int, error) {
	where, args := orderWhere(f)
	var n int
	err := t.tx.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+where, args...).Scan(&n)
	return n, err
}

func (t *pgTx) OrderByUUID(ctx context.Context, id string) (*Order, error) {
	if !validUUID(id) {
		return nil, ErrOrderNotFound
	}
	return t.loadOrder(ctx, `uuid=$1`, id)
}

func (t *pgTx) OrderByID(ctx context.Context, id int64) (*Order, error) {
	return t.loadOrder(ctx, `id=$1`, id)
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id int64, s Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND is_deleted=false`, id, string(s))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) SoftDeleteOrder(ctx context.Context, id int64) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET is_deleted=true, updated_at=now() WHERE id=$1 AND is_deleted=false`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("encode payment items: %w", err)
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO payments(uuid, user_id, amount, provider, transaction_id, status, items)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		p.UUID, p.UserID, p.Amount, p.Provider, p.TransactionID, string(p.Status), items,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (t *pgTx) PaymentByTransactionID(ctx context.Context, ref string) (*Payment, error) {
	var (
		p       Payment
		status  string
		capture *string
		items   []byte
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, uuid::text, user_id, amount, provider, transaction_id, capture_id, status, order_id, items, created_at, updated_at
		FROM payments WHERE transaction_id=$1 AND is_deleted=false`+t.forUpdate(), ref,
	).Scan(&p.ID, &p.UUID, &p.UserID, &p.Amount, &p.Provider, &p.TransactionID, &capture, &status, &p.OrderID, &items, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrPaymentNotFound)
	}
	p.Status = PaymentStatus(status)
	if capture != nil {
		p.CaptureID = *capture
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.Items); err != nil {
			return nil, fmt.Errorf("decode payment items: %w", err)
		}
	}
	return &p, nil
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *Payment) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status=$2, order_id=$3, capture_id=NULLIF($4, ''), updated_at=now()
		WHERE id=$1 AND is_deleted=false`,
		p.ID, string(p.Status), p.OrderID, p.CaptureID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrPaymentNotFound
	}
	return nil
}
