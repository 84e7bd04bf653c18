package checkout

import (
	"context"
	"errors"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/inventory"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"time"
)

const (
	TriggerEvent = "event"
	TriggerSweep = "sweep"
)

// Reconcile resolves an order whose capture outcome is unknown by polling the
// gateway. Only a definitive Captured or Failed changes anything; if the
// attempts run out the order is left Pending for the sweep.
func (o *Orchestrator) Reconcile(ctx context.Context, orderID, trigger string) (CaptureResult, error) {
	ord, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return CaptureResult{}, err
	}
	if ord.Status.Terminal() {
		return CaptureResult{OrderID: ord.ID, State: stateOf(ord, nil)}, nil
	}
	rec, err := o.Payments.GetByOrder(ctx, ord.ID)
	if errors.Is(err, payment.ErrNotFound) {
		return CaptureResult{OrderID: ord.ID, State: StateStockReserved}, nil
	}
	if err != nil {
		return CaptureResult{}, err
	}
	if rec.Status.Terminal() {
		return o.settle(ctx, ord, rec, rec)
	}

	attempts := o.ReconcileAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := o.ReconcileBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		got, err := o.Gateway.QueryStatus(ctx, rec.Token)
		if err == nil && got.Status == payment.StatusCreated && rec.CaptureRequestedAt != nil {
			// the capture never landed; re-send it under the same key
			got, err = o.Gateway.Capture(ctx, rec.Token, payment.CaptureKey(ord.ID))
		}
		if err == nil && got.Status.Terminal() {
			o.countReconcile(trigger, string(got.Status))
			if got.Status == payment.StatusCaptured {
				return o.finishPaid(ctx, ord, rec)
			}
			return o.finishFailed(ctx, ord, &rec, got.FailureReason)
		}
		if err != nil && !errors.Is(err, payment.ErrGatewayAmbiguous) && !isRetryable(err) {
			o.countReconcile(trigger, "error")
			return CaptureResult{}, err
		}
		logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, EventID: rec.ID, Step: "reconcile", Status: "unresolved"}, err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return CaptureResult{}, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	o.countReconcile(trigger, "unresolved")
	return CaptureResult{OrderID: ord.ID, State: StatePaymentPending, Reason: ReasonPaymentUnknown}, nil
}

func isRetryable(err error) bool {
	var ge *payment.GatewayError
	return errors.As(err, &ge) && ge.Retryable
}

// Sweep settles Pending orders created before olderThan. Each one is voided
// at the gateway, which either cancels the payment (order Failed, stock
// released) or reports it already captured (order Paid). Orders that never
// got a payment intent are failed directly. It returns how many orders
// reached a terminal status.
//
// A second pass then returns stock still held by reservations older than
// olderThan whose order is Failed or was never written.
func (o *Orchestrator) Sweep(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := o.Orders.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, ord := range stale {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		res, err := o.sweepOne(ctx, ord)
		if err != nil {
			o.countReconcile(TriggerSweep, "error")
			logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, Step: "sweep", Status: "error"}, err)
			continue
		}
		if res.State.Terminal() {
			settled++
		}
	}
	o.sweepOrphans(ctx, olderThan, limit)
	return settled, nil
}

func (o *Orchestrator) sweepOrphans(ctx context.Context, olderThan time.Time, limit int) {
	held, err := o.Ledger.Outstanding(ctx, olderThan, limit)
	if err != nil {
		logging.Err(logging.Fields{Service: o.Service, Step: "sweep_orphans", Status: "error"}, err)
		return
	}
	for _, r := range held {
		orderID := inventory.OrderOf(r.ID)
		ord, err := o.Orders.Get(ctx, orderID)
		switch {
		case errors.Is(err, orders.ErrNotFound), err == nil && ord.Status == orders.StatusFailed:
			released, err := o.Ledger.Release(ctx, r)
			if err != nil {
				logging.Err(logging.Fields{Service: o.Service, OrderID: orderID, BookID: r.BookID, Step: "sweep_orphans", Status: "error"}, err)
				continue
			}
			if released {
				o.countReconcile(TriggerSweep, "orphan_released")
				logging.Log(logging.Fields{Service: o.Service, OrderID: orderID, BookID: r.BookID, Step: "sweep_orphans", Status: "released"})
			}
		case err == nil && ord.Status == orders.StatusPaid:
			if err := o.Ledger.Commit(ctx, r); err != nil {
				logging.Err(logging.Fields{Service: o.Service, OrderID: orderID, BookID: r.BookID, Step: "sweep_orphans", Status: "error"}, err)
			}
		case err != nil:
			logging.Err(logging.Fields{Service: o.Service, OrderID: orderID, Step: "sweep_orphans", Status: "error"}, err)
		}
	}
}

func (o *Orchestrator) sweepOne(ctx context.Context, ord orders.Order) (CaptureResult, error) {
	rec, err := o.Payments.GetByOrder(ctx, ord.ID)
	if errors.Is(err, payment.ErrNotFound) {
		o.countReconcile(TriggerSweep, string(payment.StatusFailed))
		return o.finishFailed(ctx, ord, nil, ReasonAbandoned)
	}
	if err != nil {
		return CaptureResult{}, err
	}
	if rec.Status.Terminal() {
		return o.settle(ctx, ord, rec, rec)
	}

	got, err := o.Gateway.Void(ctx, rec.Token, payment.VoidKey(ord.ID))
	if err != nil {
		return CaptureResult{}, err
	}
	o.countReconcile(TriggerSweep, string(got.Status))
	switch got.Status {
	case payment.StatusCaptured:
		return o.finishPaid(ctx, ord, rec)
	case payment.StatusFailed:
		reason := ReasonAbandoned
		if got.FailureReason != "" && got.FailureReason != payment.ReasonVoided {
			reason = got.FailureReason
		}
		return o.finishFailed(ctx, ord, &rec, reason)
	}
	return CaptureResult{OrderID: ord.ID, State: StatePaymentPending}, nil
}

func (o *Orchestrator) countReconcile(trigger, result string) {
	if o.Metrics != nil {
		o.Metrics.Reconciliations.WithLabelValues(trigger, result).Inc()
	}
}
