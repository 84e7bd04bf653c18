package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*Record
	byOrder map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*Record{}, byOrder: map[string]string{}}
}

func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.byID[rec.ID]; ok {
		if cur.OrderID != rec.OrderID {
			return ErrAlreadyExists
		}
		return nil
	}
	if _, ok := m.byOrder[rec.OrderID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	m.byID[rec.ID] = &rec
	m.byOrder[rec.OrderID] = rec.ID
	return nil
}

func (m *MemoryStore) GetByOrder(_ context.Context, orderID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return copyRecord(m.byID[id]), nil
}

func (m *MemoryStore) MarkCaptureRequested(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if rec.CaptureRequestedAt == nil {
		t := at
		rec.CaptureRequestedAt = &t
		rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *MemoryStore) Resolve(_ context.Context, id string, to Status, reason string) error {
	if !to.Terminal() {
		return fmt.Errorf("resolve payment %s: %s is not terminal", id, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	switch rec.Status {
	case StatusCreated:
		rec.Status = to
		rec.FailureReason = reason
		rec.UpdatedAt = time.Now().UTC()
		return nil
	case to:
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrImmutable, id, rec.Status)
}

func copyRecord(r *Record) Record {
	out := *r
	if r.CaptureRequestedAt != nil {
		t := *r.CaptureRequestedAt
		out.CaptureRequestedAt = &t
	}
	return out
}
