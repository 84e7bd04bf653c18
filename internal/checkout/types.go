package checkout

import (
	"context"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
)

// Principal is the caller identity, resolved by the auth layer in front of
// the API and passed in explicitly.
type Principal struct {
	UserID string
}

type LineRequest struct {
	BookID   int64
	Quantity int
}

type Request struct {
	ShippingAddress string
	Lines           []LineRequest
	// IdempotencyKey is optional. It is scoped to the principal.
	IdempotencyKey string
}

type Result struct {
	OrderID      string
	State        State
	Reason       string
	PaymentToken string
	TotalCents   int64
	Replayed     bool
}

type CaptureResult struct {
	OrderID string
	State   State
	Reason  string
}

// Publisher emits order lifecycle events. Failures are logged, never fatal.
type Publisher interface {
	Publish(ctx context.Context, env orders.Envelope) error
}

// StatusCache is told when an order's status changes.
type StatusCache interface {
	Invalidate(ctx context.Context, orderID string)
}

// Scheduler arranges for Reconcile to run for an order whose capture
// outcome is unknown.
type Scheduler interface {
	ScheduleReconcile(ctx context.Context, orderID, paymentID string) error
}

type SchedulerFunc func(ctx context.Context, orderID, paymentID string) error

func (f SchedulerFunc) ScheduleReconcile(ctx context.Context, orderID, paymentID string) error {
	return f(ctx, orderID, paymentID)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, orders.Envelope) error { return nil }

type nopCache struct{}

func (nopCache) Invalidate(context.Context, string) {}
