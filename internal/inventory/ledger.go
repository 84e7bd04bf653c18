package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrBookNotFound        = errors.New("book not found")
	ErrInvalidQuantity     = errors.New("reservation quantity must be positive")
	ErrReservationReleased = errors.New("reservation already released")
)

// InsufficientStockError carries the numbers behind an ErrInsufficientStock.
type InsufficientStockError struct {
	BookID    int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %d: requested %d, available %d", e.BookID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Reservation is one hold on a book's stock. ID is unique per checkout line and
// is what makes Release and Commit idempotent.
type Reservation struct {
	ID     string
	BookID int64
	Qty    int
}

func ReservationID(orderID string, bookID int64) string {
	return fmt.Sprintf("%s/%d", orderID, bookID)
}

// OrderOf returns the order id a reservation id was built from.
func OrderOf(reservationID string) string {
	if i := strings.LastIndexByte(reservationID, '/'); i >= 0 {
		return reservationID[:i]
	}
	return reservationID
}

// Ledger tracks available quantity per book.
//
// Reserve decrements only when enough stock is available. Release credits a
// reservation back at most once. Commit leaves the quantity untouched and only
// seals the reservation so a later Release is a no-op.
type Ledger interface {
	Reserve(ctx context.Context, r Reservation) error
	Release(ctx context.Context, r Reservation) (bool, error)
	Commit(ctx context.Context, r Reservation) error
	Available(ctx context.Context, bookID int64) (int, error)
	// Outstanding lists reservations still held that were taken before
	// olderThan, oldest first.
	Outstanding(ctx context.Context, olderThan time.Time, limit int) ([]Reservation, error)
}

const (
	reservationReserved  = "RESERVED"
	reservationReleased  = "RELEASED"
	reservationCommitted = "COMMITTED"
)
