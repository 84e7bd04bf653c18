package inventory

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"time"
)

// PGLedger keeps stock on books.available_qty. Every decrement is one
// conditional UPDATE guarded by available_qty >= qty; the row lock makes
// concurrent reservations on the same book queue up instead of failing, and
// Postgres re-checks the guard once the lock is granted.
type PGLedger struct {
	DB          *pgxpool.Pool
	OnShortfall func()
}

var _ Ledger = (*PGLedger)(nil)

func (l *PGLedger) Reserve(ctx context.Context, r Reservation) error {
	if r.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if done, err := l.existing(ctx, r.ID); done || err != nil {
		return err
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE books SET available_qty = available_qty - $2, version = version + 1, updated_at = now()
		WHERE id=$1 AND available_qty >= $2`, r.BookID, r.Qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return l.shortfall(ctx, tx, r)
	}

	ct, err = tx.Exec(ctx, `
		INSERT INTO stock_reservations(id, book_id, qty, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`, r.ID, r.BookID, r.Qty, reservationReserved)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		// the same reservation was applied concurrently; keep theirs, roll back ours
		_ = tx.Rollback(ctx)
		_, err := l.existing(ctx, r.ID)
		return err
	}
	return tx.Commit(ctx)
}

// existing reports done=true when r was already applied.
func (l *PGLedger) existing(ctx context.Context, id string) (bool, error) {
	var status string
	err := l.DB.QueryRow(ctx, `SELECT status FROM stock_reservations WHERE id=$1`, id).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	case status == reservationReleased:
		return true, ErrReservationReleased
	}
	return true, nil // sudah pernah di-reserve
}

// shortfall explains why the guarded decrement matched no row.
func (l *PGLedger) shortfall(ctx context.Context, tx pgx.Tx, r Reservation) error {
	var avail int
	err := tx.QueryRow(ctx, `SELECT available_qty FROM books WHERE id=$1`, r.BookID).Scan(&avail)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}
	if l.OnShortfall != nil {
		l.OnShortfall()
	}
	return &InsufficientStockError{BookID: r.BookID, Requested: r.Qty, Available: avail}
}

func (l *PGLedger) Release(ctx context.Context, r Reservation) (bool, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var bookID int64
	var qty int
	err = tx.QueryRow(ctx, `
		UPDATE stock_reservations SET status=$2, updated_at=now()
		WHERE id=$1 AND status=$3
		RETURNING book_id, qty`, r.ID, reservationReleased, reservationReserved).Scan(&bookID, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // already released, committed, or never applied
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE books SET available_qty = available_qty + $2, version = version + 1, updated_at = now()
		WHERE id=$1`, bookID, qty); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (l *PGLedger) Commit(ctx context.Context, r Reservation) error {
	ct, err := l.DB.Exec(ctx, `
		UPDATE stock_reservations SET status=$2, updated_at=now()
		WHERE id=$1 AND status=$3`, r.ID, reservationCommitted, reservationReserved)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var status string
	err = l.DB.QueryRow(ctx, `SELECT status FROM stock_reservations WHERE id=$1`, r.ID).Scan(&status)
	if err != nil {
		return err
	}
	if status == reservationReleased {
		return ErrReservationReleased
	}
	return nil
}

func (l *PGLedger) Available(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := l.DB.QueryRow(ctx, `SELECT available_qty FROM books WHERE id=$1`, bookID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrBookNotFound
	}
	return n, err
}

func (l *PGLedger) Outstanding(ctx context.Context, olderThan time.Time, limit int) ([]Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.DB.Query(ctx, `
		SELECT id, book_id, qty FROM stock_reservations
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`, reservationReserved, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.BookID, &r.Qty); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
