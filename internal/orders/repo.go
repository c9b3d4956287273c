package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

// InTx: acquire a pooled conn within MaxWait, then run fn in one transaction
// bounded by Timeout. Rollback is deferred; it is a no-op after Commit.
func (r *Repo) InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	waitCtx, cancelWait := withBound(ctx, opts.MaxWait)
	conn, err := r.DB.Acquire(waitCtx)
	cancelWait()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: waited %s for a connection", ErrTxTimeout, opts.MaxWait)
		}
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	txCtx, cancel := withBound(ctx, opts.Timeout)
	defer cancel()

	txOpts := pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation)}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := conn.BeginTx(txCtx, txOpts)
	if err != nil {
		return mapPgError(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(txCtx, &pgTx{tx: tx, readOnly: opts.ReadOnly}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(txCtx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func withBound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func isoLevel(i Isolation) pgx.TxIsoLevel {
	if i == Serializable {
		return pgx.Serializable
	}
	return pgx.ReadCommitted
}

// mapPgError turns store failures into the transient categories callers can retry on.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "55P03", "57014": // lock_not_available, query_canceled
			return fmt.Errorf("%w: %w", ErrTxTimeout, err)
		case "23514": // check_violation, products.stock >= 0
			return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
		case "25006": // read_only_sql_transaction
			return fmt.Errorf("%w: %w", ErrReadOnlyTx, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", ErrTxTimeout, err)
	}
	return err
}
