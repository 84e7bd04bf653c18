package orders

import (
	"context"
	"time"
)

// Store is the order aggregate store. Status changes only go through
// TransitionStatus, which is a compare-and-set on the current status.
type Store interface {
	CreatePending(ctx context.Context, in NewOrder) (Order, error)
	TransitionStatus(ctx context.Context, orderID string, from, to Status) error
	Get(ctx context.Context, orderID string) (Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Order, error)
}
