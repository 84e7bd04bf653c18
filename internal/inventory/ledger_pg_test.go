package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/inventory"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestPool connects to POSTGRES_TEST_DSN; the test is skipped without it.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := postgres.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	if err := postgres.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedBook(t *testing.T, db *pgxpool.Pool, qty int) int64 {
	t.Helper()
	id := int64(uuid.New().ID())
	_, err := db.Exec(context.Background(),
		`INSERT INTO books(id, title, price_cents, available_qty) VALUES ($1, 'test', 1000, $2)`, id, qty)
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return id
}

func TestPGReserveNoOversell(t *testing.T) {
	db := newTestPool(t)
	ctx := context.Background()
	book := seedBook(t, db, 5)

	var shortfalls atomic.Int64
	l := &inventory.PGLedger{DB: db, OnShortfall: func() { shortfalls.Add(1) }}

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Reserve(ctx, inventory.Reservation{ID: fmt.Sprintf("%s/%d", uuid.NewString(), book), BookID: book, Qty: 1})
			if err == nil {
				ok.Add(1)
			} else if !errors.Is(err, inventory.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok.Load() != 5 {
		t.Fatalf("expected 5 reservations, got %d (shortfalls=%d)", ok.Load(), shortfalls.Load())
	}
	if shortfalls.Load() != 15 {
		t.Fatalf("expected 15 shortfalls, got %d", shortfalls.Load())
	}
	if n, _ := l.Available(ctx, book); n != 0 {
		t.Fatalf("expected 0 available, got %d", n)
	}
}

func TestPGReleaseIsIdempotent(t *testing.T) {
	db := newTestPool(t)
	ctx := context.Background()
	book := seedBook(t, db, 10)
	l := &inventory.PGLedger{DB: db}
	r := inventory.Reservation{ID: inventory.ReservationID(uuid.NewString(), book), BookID: book, Qty: 2}

	if err := l.Reserve(ctx, r); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if n, _ := l.Available(ctx, book); n != 8 {
		t.Fatalf("expected 8 after reserve, got %d", n)
	}
	for i := 0; i < 2; i++ {
		if _, err := l.Release(ctx, r); err != nil {
			t.Fatalf("release #%d: %v", i, err)
		}
	}
	if n, _ := l.Available(ctx, book); n != 10 {
		t.Fatalf("expected 10 after double release, got %d", n)
	}
}

// Concurrent buyers of a well-stocked book queue on the row lock; none of
// them may fail while stock remains.
func TestPGReserveHotBookAllSucceed(t *testing.T) {
	db := newTestPool(t)
	ctx := context.Background()
	book := seedBook(t, db, 40)
	l := &inventory.PGLedger{DB: db}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Reserve(ctx, inventory.Reservation{ID: inventory.ReservationID(uuid.NewString(), book), BookID: book, Qty: 1})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("reserve with stock left: %v", err)
		}
	}
	if n, _ := l.Available(ctx, book); n != 0 {
		t.Fatalf("expected 0 available, got %d", n)
	}
}

func TestPGOutstandingListsHeldReservations(t *testing.T) {
	db := newTestPool(t)
	ctx := context.Background()
	book := seedBook(t, db, 10)
	l := &inventory.PGLedger{DB: db}

	held := inventory.Reservation{ID: inventory.ReservationID(uuid.NewString(), book), BookID: book, Qty: 1}
	gone := inventory.Reservation{ID: inventory.ReservationID(uuid.NewString(), book), BookID: book, Qty: 1}
	for _, r := range []inventory.Reservation{held, gone} {
		if err := l.Reserve(ctx, r); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	if _, err := l.Release(ctx, gone); err != nil {
		t.Fatalf("release: %v", err)
	}

	out, err := l.Outstanding(ctx, time.Now().Add(time.Hour), 1000)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	var sawHeld, sawGone bool
	for _, r := range out {
		sawHeld = sawHeld || r.ID == held.ID
		sawGone = sawGone || r.ID == gone.ID
	}
	if !sawHeld || sawGone {
		t.Fatalf("outstanding held=%v released=%v", sawHeld, sawGone)
	}
}
