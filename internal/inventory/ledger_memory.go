package inventory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type memBook struct {
	avail atomic.Int64
}

type memReservation struct {
	Reservation
	state   atomic.Int32
	created time.Time
}

const (
	stateReserved int32 = iota + 1
	stateReleased
	stateCommitted
)

// MemoryLedger is the in-process Ledger. Each book is an atomic counter
// updated with compare-and-swap, so books never contend with each other.
type MemoryLedger struct {
	books        sync.Map // int64 -> *memBook
	reservations sync.Map // string -> *memReservation

	OnShortfall func()
	Now         func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger { return &MemoryLedger{} }

func (l *MemoryLedger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// SetStock seeds or overwrites a book's available quantity.
func (l *MemoryLedger) SetStock(bookID int64, qty int) {
	b, _ := l.books.LoadOrStore(bookID, &memBook{})
	b.(*memBook).avail.Store(int64(qty))
}

func (l *MemoryLedger) book(id int64) (*memBook, error) {
	b, ok := l.books.Load(id)
	if !ok {
		return nil, ErrBookNotFound
	}
	return b.(*memBook), nil
}

func (l *MemoryLedger) Reserve(_ context.Context, r Reservation) error {
	if r.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if v, ok := l.reservations.Load(r.ID); ok {
		if v.(*memReservation).state.Load() == stateReleased {
			return ErrReservationReleased
		}
		return nil
	}
	b, err := l.book(r.BookID)
	if err != nil {
		return err
	}

	want := int64(r.Qty)
	for {
		cur := b.avail.Load()
		if cur < want {
			if l.OnShortfall != nil {
				l.OnShortfall()
			}
			return &InsufficientStockError{BookID: r.BookID, Requested: r.Qty, Available: int(cur)}
		}
		if b.avail.CompareAndSwap(cur, cur-want) {
			break
		}
	}

	res := &memReservation{Reservation: r, created: l.now()}
	res.state.Store(stateReserved)
	if _, loaded := l.reservations.LoadOrStore(r.ID, res); loaded {
		b.avail.Add(want) // duplicate applied concurrently
	}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, r Reservation) (bool, error) {
	v, ok := l.reservations.Load(r.ID)
	if !ok {
		return false, nil
	}
	res := v.(*memReservation)
	if !res.state.CompareAndSwap(stateReserved, stateReleased) {
		return false, nil
	}
	b, err := l.book(res.BookID)
	if err != nil {
		return false, err
	}
	b.avail.Add(int64(res.Qty))
	return true, nil
}

func (l *MemoryLedger) Commit(_ context.Context, r Reservation) error {
	v, ok := l.reservations.Load(r.ID)
	if !ok {
		return nil
	}
	res := v.(*memReservation)
	if res.state.CompareAndSwap(stateReserved, stateCommitted) {
		return nil
	}
	if res.state.Load() == stateReleased {
		return ErrReservationReleased
	}
	return nil
}

func (l *MemoryLedger) Available(_ context.Context, bookID int64) (int, error) {
	b, err := l.book(bookID)
	if err != nil {
		return 0, err
	}
	return int(b.avail.Load()), nil
}

func (l *MemoryLedger) Outstanding(_ context.Context, olderThan time.Time, limit int) ([]Reservation, error) {
	var held []*memReservation
	l.reservations.Range(func(_, v any) bool {
		res := v.(*memReservation)
		if res.state.Load() == stateReserved && res.created.Before(olderThan) {
			held = append(held, res)
		}
		return true
	})
	sort.Slice(held, func(i, j int) bool { return held[i].created.Before(held[j].created) })
	if limit > 0 && len(held) > limit {
		held = held[:limit]
	}
	out := make([]Reservation, 0, len(held))
	for _, res := range held {
		out = append(out, res.Reservation)
	}
	return out, nil
}
