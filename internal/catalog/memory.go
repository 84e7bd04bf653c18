package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StockReader is the slice of the stock ledger the memory catalog needs.
type StockReader interface {
	Available(ctx context.Context, bookID int64) (int, error)
}

type MemoryCatalog struct {
	mu    sync.RWMutex
	books map[int64]Book
	stock StockReader
}

var _ Catalog = (*MemoryCatalog)(nil)

func NewMemoryCatalog(stock StockReader) *MemoryCatalog {
	return &MemoryCatalog{books: map[int64]Book{}, stock: stock}
}

// Put adds a book or changes its title and price.
func (c *MemoryCatalog) Put(id int64, title string, priceCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[id] = Book{ID: id, Title: title, PriceCents: priceCents, UpdatedAt: time.Now().UTC()}
}

func (c *MemoryCatalog) Prices(_ context.Context, bookIDs []int64) (map[int64]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]int64, len(bookIDs))
	for _, id := range bookIDs {
		b, ok := c.books[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrBookNotFound, id)
		}
		out[id] = b.PriceCents
	}
	return out, nil
}

func (c *MemoryCatalog) ListBooks(ctx context.Context) ([]Book, error) {
	c.mu.RLock()
	out := make([]Book, 0, len(c.books))
	for _, b := range c.books {
		out = append(out, b)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if c.stock != nil {
		for i := range out {
			if n, err := c.stock.Available(ctx, out[i].ID); err == nil {
				out[i].AvailableQty = n
			}
		}
	}
	return out, nil
}
