package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and by the API when no
// database is configured. Each operation holds the lock only for the map access.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Order
	byIdem map[string]string
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   map[string]*Order{},
		byIdem: map[string]string{},
		now:    time.Now,
	}
}

// WithClock overrides the creation clock; tests use it to age orders.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) CreatePending(_ context.Context, in NewOrder) (Order, error) {
	if err := in.Validate(); err != nil {
		return Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[in.ID]; ok {
		return Order{}, ErrAlreadyExists
	}
	if in.IdempotencyKey != "" {
		if _, ok := m.byIdem[in.IdempotencyKey]; ok {
			return Order{}, ErrAlreadyExists
		}
	}

	now := m.now().UTC()
	o := &Order{
		ID:              in.ID,
		UserID:          in.UserID,
		Status:          StatusPending,
		TotalCents:      in.TotalCents,
		ShippingAddress: in.ShippingAddress,
		IdempotencyKey:  in.IdempotencyKey,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, l := range in.Lines {
		l.OrderID = in.ID
		o.Lines = append(o.Lines, l)
	}
	m.byID[o.ID] = o
	if o.IdempotencyKey != "" {
		m.byIdem[o.IdempotencyKey] = o.ID
	}
	return cloneOrder(*o), nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, orderID string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.byID[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return &StaleStateError{OrderID: orderID, Expected: from, Current: o.Status}
	}
	o.Status = to
	o.Version++
	o.UpdatedAt = m.now().UTC()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(*o), nil
}

func (m *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	m.mu.RLock()
	id, ok := m.byIdem[key]
	m.mu.RUnlock()
	if !ok || key == "" {
		return Order{}, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Order
	for _, o := range m.byID {
		if o.Status == StatusPending && o.CreatedAt.Before(olderThan) {
			out = append(out, cloneOrder(*o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
