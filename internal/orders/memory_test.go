package orders_test

import (
	"context"
	"errors"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"testing"
	"time"
)

func newOrder(id string) orders.NewOrder {
	lines := []orders.Line{{BookID: 5, Qty: 2, UnitPriceCents: 1250}, {BookID: 6, Qty: 1, UnitPriceCents: 800}}
	return orders.NewOrder{
		ID:              id,
		UserID:          "alice",
		Lines:           lines,
		TotalCents:      orders.SumLines(lines),
		ShippingAddress: "1 Library Lane",
	}
}

func TestCreatePendingValidation(t *testing.T) {
	s := orders.NewMemoryStore()
	ctx := context.Background()

	cases := map[string]func(*orders.NewOrder){
		"no lines":      func(n *orders.NewOrder) { n.Lines, n.TotalCents = nil, 0 },
		"zero qty":      func(n *orders.NewOrder) { n.Lines[0].Qty = 0 },
		"negative qty":  func(n *orders.NewOrder) { n.Lines[1].Qty = -1 },
		"no user":       func(n *orders.NewOrder) { n.UserID = "" },
		"wrong total":   func(n *orders.NewOrder) { n.TotalCents++ },
		"negative cost": func(n *orders.NewOrder) { n.Lines[0].UnitPriceCents = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := newOrder("o-" + name)
			mutate(&in)
			if _, err := s.CreatePending(ctx, in); !orders.IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if _, err := s.Get(ctx, in.ID); !errors.Is(err, orders.ErrNotFound) {
				t.Fatalf("invalid order was stored: %v", err)
			}
		})
	}
}

func TestCreatePendingStoresLines(t *testing.T) {
	s := orders.NewMemoryStore()
	ctx := context.Background()

	o, err := s.CreatePending(ctx, newOrder("o1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Status != orders.StatusPending || o.TotalCents != 3300 || len(o.Lines) != 2 {
		t.Fatalf("created = %+v", o)
	}
	for _, l := range o.Lines {
		if l.OrderID != "o1" {
			t.Fatalf("line not linked to its order: %+v", l)
		}
	}

	// callers get copies
	o.Lines[0].Qty = 99
	got, _ := s.Get(ctx, "o1")
	if got.Lines[0].Qty != 2 {
		t.Fatal("store shares line slice with caller")
	}

	if _, err := s.CreatePending(ctx, newOrder("o1")); !errors.Is(err, orders.ErrAlreadyExists) {
		t.Fatalf("duplicate id: %v", err)
	}
}

func TestIdempotencyKeyIsUnique(t *testing.T) {
	s := orders.NewMemoryStore()
	ctx := context.Background()

	a := newOrder("o1")
	a.IdempotencyKey = "alice:k1"
	if _, err := s.CreatePending(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	b := newOrder("o2")
	b.IdempotencyKey = "alice:k1"
	if _, err := s.CreatePending(ctx, b); !errors.Is(err, orders.ErrAlreadyExists) {
		t.Fatalf("duplicate key: %v", err)
	}

	got, err := s.GetByIdempotencyKey(ctx, "alice:k1")
	if err != nil || got.ID != "o1" {
		t.Fatalf("lookup = %+v, %v", got, err)
	}
	if _, err := s.GetByIdempotencyKey(ctx, ""); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("empty key: %v", err)
	}
}

func TestTransitionStatusIsCompareAndSet(t *testing.T) {
	s := orders.NewMemoryStore()
	ctx := context.Background()
	o, _ := s.CreatePending(ctx, newOrder("o1"))

	if err := s.TransitionStatus(ctx, "o1", orders.StatusPending, orders.StatusPaid); err != nil {
		t.Fatalf("pending -> paid: %v", err)
	}

	err := s.TransitionStatus(ctx, "o1", orders.StatusPending, orders.StatusFailed)
	stale, ok := orders.IsStale(err)
	if !ok {
		t.Fatalf("err = %v, want StaleStateError", err)
	}
	if stale.Current != orders.StatusPaid || stale.Expected != orders.StatusPending {
		t.Fatalf("stale = %+v", stale)
	}

	got, _ := s.Get(ctx, "o1")
	if got.Status != orders.StatusPaid {
		t.Fatalf("stale transition changed status to %s", got.Status)
	}
	if got.Version != o.Version+1 {
		t.Fatalf("version = %d, want %d", got.Version, o.Version+1)
	}
}

func TestIllegalTransitionNeverTouchesStore(t *testing.T) {
	s := orders.NewMemoryStore()
	ctx := context.Background()
	_, _ = s.CreatePending(ctx, newOrder("o1"))
	_ = s.TransitionStatus(ctx, "o1", orders.StatusPending, orders.StatusFailed)

	err := s.TransitionStatus(ctx, "o1", orders.StatusFailed, orders.StatusPaid)
	if !errors.Is(err, orders.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if err := s.TransitionStatus(ctx, "missing", orders.StatusPending, orders.StatusPaid); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("missing order: %v", err)
	}
}

func TestListStalePending(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := orders.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = s.CreatePending(ctx, newOrder("old"))
	now = base.Add(10 * time.Minute)
	_, _ = s.CreatePending(ctx, newOrder("paid"))
	_ = s.TransitionStatus(ctx, "paid", orders.StatusPending, orders.StatusPaid)
	now = base.Add(20 * time.Minute)
	_, _ = s.CreatePending(ctx, newOrder("fresh"))

	got, err := s.ListStalePending(ctx, base.Add(15*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "old" {
		t.Fatalf("stale = %+v", got)
	}
}

func TestStatusTable(t *testing.T) {
	if !orders.CanTransition(orders.StatusPending, orders.StatusPaid) || !orders.CanTransition(orders.StatusPending, orders.StatusFailed) {
		t.Fatal("pending must reach paid and failed")
	}
	for _, from := range []orders.Status{orders.StatusPaid, orders.StatusFailed} {
		if !from.Terminal() {
			t.Errorf("%s should be terminal", from)
		}
		for _, to := range []orders.Status{orders.StatusPending, orders.StatusPaid, orders.StatusFailed} {
			if orders.CanTransition(from, to) {
				t.Errorf("%s -> %s should be illegal", from, to)
			}
		}
	}
	if _, err := orders.ParseStatus("SHIPPED"); err == nil {
		t.Fatal("unknown status parsed")
	}
}
