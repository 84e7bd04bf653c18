package catalog

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Catalog = (*Repo)(nil)

func (r *Repo) Prices(ctx context.Context, bookIDs []int64) (map[int64]int64, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, price_cents FROM books WHERE id = ANY($1)`, bookIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[int64]int64, len(bookIDs))
	for rows.Next() {
		var id, price int64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		prices[id] = price
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range bookIDs {
		if _, ok := prices[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrBookNotFound, id)
		}
	}
	return prices, nil
}

func (r *Repo) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, title, price_cents, available_qty, updated_at
	                              FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Book, error) {
		var b Book
		err := row.Scan(&b.ID, &b.Title, &b.PriceCents, &b.AvailableQty, &b.UpdatedAt)
		return b, err
	})
}
