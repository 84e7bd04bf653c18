package payment

import (
	"context"
	"time"
)

// Store keeps the local payment record of each order.
type Store interface {
	// Save inserts rec. Saving the same payment id again is a no-op;
	// a second payment for the same order is ErrAlreadyExists.
	Save(ctx context.Context, rec Record) error
	GetByOrder(ctx context.Context, orderID string) (Record, error)
	MarkCaptureRequested(ctx context.Context, id string, at time.Time) error
	// Resolve moves a CREATED payment to CAPTURED or FAILED. Resolving to the
	// status it already has is a no-op; any other change is ErrImmutable.
	Resolve(ctx context.Context, id string, to Status, reason string) error
}
