// Package catalog is the read side of the book catalog that checkout depends
// on: unit prices at order time and a stock listing. Catalog CRUD lives
// elsewhere.
package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrBookNotFound = errors.New("book not found")

type Book struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	PriceCents   int64     `json:"price_cents"`
	AvailableQty int       `json:"available_qty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Catalog interface {
	// Prices returns the current unit price of every requested book, or
	// ErrBookNotFound if any of them is missing.
	Prices(ctx context.Context, bookIDs []int64) (map[int64]int64, error)
	ListBooks(ctx context.Context) ([]Book, error)
}
