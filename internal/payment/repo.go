package payment

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

func (r *Repo) Save(ctx context.Context, rec Record) error {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO payments(id, order_id, amount_cents, currency, status, token, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.OrderID, rec.AmountCents, rec.Currency, string(rec.Status), rec.Token, rec.FailureReason,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		// id already stored; make sure it belongs to the same order
		var owner string
		if err := r.DB.QueryRow(ctx, `SELECT order_id FROM payments WHERE id=$1`, rec.ID).Scan(&owner); err != nil {
			return err
		}
		if owner != rec.OrderID {
			return ErrAlreadyExists
		}
	}
	return nil
}

func (r *Repo) GetByOrder(ctx context.Context, orderID string) (Record, error) {
	var (
		rec    Record
		status string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, order_id, amount_cents, currency, status, token, failure_reason,
		       capture_requested_at, created_at, updated_at
		FROM payments WHERE order_id=$1`, orderID,
	).Scan(&rec.ID, &rec.OrderID, &rec.AmountCents, &rec.Currency, &status, &rec.Token, &rec.FailureReason,
		&rec.CaptureRequestedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Status, err = ParseStatus(status)
	return rec, err
}

func (r *Repo) MarkCaptureRequested(ctx context.Context, id string, at time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE payments SET capture_requested_at=COALESCE(capture_requested_at, $2), updated_at=now()
		WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Resolve(ctx context.Context, id string, to Status, reason string) error {
	if !to.Terminal() {
		return fmt.Errorf("resolve payment %s: %s is not terminal", id, to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE payments SET status=$2, failure_reason=$3, updated_at=now()
		WHERE id=$1 AND status=$4`, id, string(to), reason, string(StatusCreated))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var cur string
	err = r.DB.QueryRow(ctx, `SELECT status FROM payments WHERE id=$1`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(cur) == to {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrImmutable, id, cur)
}
