package orders

import (
	"context"
	"errors"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

// CreatePending writes the order and its lines in one transaction.
// A duplicate idempotency key surfaces as ErrAlreadyExists.
func (r *Repo) CreatePending(ctx context.Context, in NewOrder) (Order, error) {
	if err := in.Validate(); err != nil {
		return Order{}, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var idem any
	if in.IdempotencyKey != "" {
		idem = in.IdempotencyKey
	}

	o := Order{
		ID:              in.ID,
		UserID:          in.UserID,
		Status:          StatusPending,
		TotalCents:      in.TotalCents,
		ShippingAddress: in.ShippingAddress,
		IdempotencyKey:  in.IdempotencyKey,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents, shipping_address, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version, created_at, updated_at`,
		o.ID, o.UserID, string(StatusPending), o.TotalCents, o.ShippingAddress, idem,
	).Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return Order{}, ErrAlreadyExists
		}
		return Order{}, err
	}

	for i, l := range in.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, line_no, book_id, qty, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, i, l.BookID, l.Qty, l.UnitPriceCents,
		)
		if err != nil {
			return Order{}, err
		}
		l.OrderID = o.ID
		o.Lines = append(o.Lines, l)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) TransitionStatus(ctx context.Context, orderID string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, version=version+1, updated_at=now()
		WHERE id=$1 AND status=$2`, orderID, string(from), string(to))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// lost the compare-and-set: report what is actually stored
	var cur string
	err = r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &StaleStateError{OrderID: orderID, Expected: from, Current: Status(cur)}
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	return r.getWhere(ctx, `id=$1`, orderID)
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	if key == "" {
		return Order{}, ErrNotFound
	}
	return r.getWhere(ctx, `idempotency_key=$1`, key)
}

func (r *Repo) getWhere(ctx context.Context, cond string, arg any) (Order, error) {
	var (
		o      Order
		status string
		idem   *string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents, shipping_address, idempotency_key, version, created_at, updated_at
		FROM orders WHERE `+cond, arg,
	).Scan(&o.ID, &o.UserID, &status, &o.TotalCents, &o.ShippingAddress, &idem, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if o.Status, err = ParseStatus(status); err != nil {
		return Order{}, err
	}
	if idem != nil {
		o.IdempotencyKey = *idem
	}

	rows, err := r.DB.Query(ctx, `
		SELECT book_id, qty, unit_price_cents FROM order_lines
		WHERE order_id=$1 ORDER BY line_no`, o.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		l := Line{OrderID: o.ID}
		if err := rows.Scan(&l.BookID, &l.Qty, &l.UnitPriceCents); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (r *Repo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id FROM orders
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at LIMIT $3`, string(StatusPending), olderThan, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
