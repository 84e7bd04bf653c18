// Package checkout runs the checkout saga: reserve stock, open a pending
// order, take a payment intent, and settle the order on capture. Compensation
// (stock release) only ever follows a definitive payment failure.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/catalog"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/inventory"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/metrics"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/google/uuid"
	"time"
)

const (
	ReasonInsufficientStock = "INSUFFICIENT_STOCK"
	ReasonInvalidRequest    = "INVALID_REQUEST"
	ReasonPaymentUnknown    = "payment outcome unknown, reconciling"
	ReasonIntentUnavailable = "payment gateway unavailable, order will expire"
	ReasonAbandoned         = "checkout abandoned"
)

// settleTimeout bounds work that must finish once the gateway has answered
// or a compensation has started, whatever happens to the caller.
const settleTimeout = 15 * time.Second

// Orchestrator holds no per-checkout state; every call works only through
// the ledger and stores, so it is safe for concurrent use.
type Orchestrator struct {
	Ledger   inventory.Ledger
	Orders   orders.Store
	Payments payment.Store
	Gateway  payment.Gateway
	Catalog  catalog.Catalog

	Events    Publisher   // nil: events dropped
	Cache     StatusCache // nil: no cache
	Scheduler Scheduler   // nil: ambiguous captures wait for the sweep
	Metrics   *metrics.Metrics

	Service           string
	Currency          string
	ReconcileAttempts int
	ReconcileBackoff  time.Duration

	NewID func() string
	Now   func() time.Time
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) events() Publisher {
	if o.Events == nil {
		return nopPublisher{}
	}
	return o.Events
}

func (o *Orchestrator) cache() StatusCache {
	if o.Cache == nil {
		return nopCache{}
	}
	return o.Cache
}

// Checkout reserves every line, opens a Pending order and requests a payment
// intent. A rejected checkout returns State Rejected together with the
// *orders.ValidationError or inventory.ErrInsufficientStock that caused it.
func (o *Orchestrator) Checkout(ctx context.Context, p Principal, req Request) (Result, error) {
	start := time.Now()
	s := &saga{state: StateInitiated}

	if err := validate(p, req); err != nil {
		return o.reject(ctx, s, p, ReasonInvalidRequest, 0, err)
	}

	idemKey := ""
	if req.IdempotencyKey != "" {
		idemKey = p.UserID + ":" + req.IdempotencyKey
		if prev, err := o.Orders.GetByIdempotencyKey(ctx, idemKey); err == nil {
			return o.replay(ctx, prev)
		} else if !errors.Is(err, orders.ErrNotFound) {
			return Result{}, err
		}
	}

	s.orderID = o.newID()

	// unit prices are fixed here; later catalog changes never reach the order
	ids := make([]int64, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.BookID)
	}
	prices, err := o.Catalog.Prices(ctx, ids)
	if errors.Is(err, catalog.ErrBookNotFound) {
		return o.reject(ctx, s, p, ReasonInvalidRequest, 0, &orders.ValidationError{Field: "lines.bookId", Reason: err.Error()})
	}
	if err != nil {
		return Result{}, err
	}

	lines := make([]orders.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, orders.Line{OrderID: s.orderID, BookID: l.BookID, Qty: l.Quantity, UnitPriceCents: prices[l.BookID]})
	}

	held, err := o.reserveAll(ctx, s.orderID, lines)
	if err != nil {
		var ise *inventory.InsufficientStockError
		switch {
		case errors.As(err, &ise):
			return o.reject(ctx, s, p, ReasonInsufficientStock, ise.BookID, err)
		case errors.Is(err, inventory.ErrInsufficientStock):
			return o.reject(ctx, s, p, ReasonInsufficientStock, 0, err)
		case errors.Is(err, inventory.ErrBookNotFound), errors.Is(err, inventory.ErrInvalidQuantity):
			return o.reject(ctx, s, p, ReasonInvalidRequest, 0, &orders.ValidationError{Field: "lines", Reason: err.Error()})
		}
		return Result{}, err
	}

	total := orders.SumLines(lines)
	ord, err := o.Orders.CreatePending(ctx, orders.NewOrder{
		ID:              s.orderID,
		UserID:          p.UserID,
		Lines:           lines,
		TotalCents:      total,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  idemKey,
	})
	if err != nil {
		o.releaseAll(ctx, s.orderID, held)
		if errors.Is(err, orders.ErrAlreadyExists) && idemKey != "" {
			// lost a race with a concurrent request carrying the same key
			if prev, gerr := o.Orders.GetByIdempotencyKey(ctx, idemKey); gerr == nil {
				return o.replay(ctx, prev)
			}
		}
		return Result{}, err
	}
	if err := s.advance(StateStockReserved); err != nil {
		return Result{}, err
	}
	o.publish(ctx, orders.EventOrderCreated, ord.ID, orders.OrderCreatedPayload{
		OrderID:    ord.ID,
		UserID:     ord.UserID,
		Lines:      orders.LinePayloads(ord.Lines),
		TotalCents: ord.TotalCents,
	})

	res := Result{OrderID: ord.ID, TotalCents: ord.TotalCents}

	rec, err := o.Gateway.CreateIntent(ctx, ord.TotalCents, o.Currency, payment.Metadata{OrderID: ord.ID}, payment.IntentKey(ord.ID))
	if err == nil {
		rec.OrderID = ord.ID
		err = o.Payments.Save(ctx, rec)
	}
	if err != nil {
		// order stays Pending without a payment; the sweep fails it and
		// returns the stock once it is old enough
		logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, Step: "create_intent", Status: "error"}, err)
		res.State, res.Reason = s.state, ReasonIntentUnavailable
		o.countOutcome(res.State)
		return res, nil
	}
	if err := s.advance(StatePaymentPending); err != nil {
		return Result{}, err
	}

	res.State, res.PaymentToken = s.state, rec.Token
	o.countOutcome(res.State)
	logging.Log(logging.Fields{Service: o.Service, OrderID: ord.ID, Step: "checkout", Status: string(res.State), DurationMS: time.Since(start).Milliseconds()})
	return res, nil
}

func validate(p Principal, req Request) error {
	if p.UserID == "" {
		return &orders.ValidationError{Field: "user", Reason: "required"}
	}
	if req.ShippingAddress == "" {
		return &orders.ValidationError{Field: "shippingAddress", Reason: "required"}
	}
	if len(req.Lines) == 0 {
		return &orders.ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	seen := make(map[int64]bool, len(req.Lines))
	for _, l := range req.Lines {
		if l.BookID <= 0 {
			return &orders.ValidationError{Field: "lines.bookId", Reason: "must be positive"}
		}
		if l.Quantity <= 0 {
			return &orders.ValidationError{Field: "lines.quantity", Reason: "must be positive"}
		}
		if seen[l.BookID] {
			return &orders.ValidationError{Field: "lines.bookId", Reason: fmt.Sprintf("book %d listed twice", l.BookID)}
		}
		seen[l.BookID] = true
	}
	return nil
}

func (o *Orchestrator) reject(ctx context.Context, s *saga, p Principal, reason string, bookID int64, cause error) (Result, error) {
	if err := s.advance(StateRejected); err != nil {
		return Result{}, err
	}
	o.publish(ctx, orders.EventCheckoutRejected, s.orderID, orders.CheckoutRejectedPayload{UserID: p.UserID, Reason: reason, BookID: bookID})
	o.countOutcome(StateRejected)
	logging.Err(logging.Fields{Service: o.Service, BookID: bookID, Step: "checkout", Status: string(StateRejected), Message: reason}, cause)
	return Result{State: StateRejected, Reason: cause.Error()}, cause
}

// reserveAll is all-or-nothing: on the first failure every reservation
// taken so far is released, newest first.
func (o *Orchestrator) reserveAll(ctx context.Context, orderID string, lines []orders.Line) ([]inventory.Reservation, error) {
	held := make([]inventory.Reservation, 0, len(lines))
	for _, l := range lines {
		r := inventory.Reservation{ID: inventory.ReservationID(orderID, l.BookID), BookID: l.BookID, Qty: l.Qty}
		if err := o.Ledger.Reserve(ctx, r); err != nil {
			o.releaseAll(ctx, orderID, held)
			return nil, err
		}
		held = append(held, r)
	}
	return held, nil
}

// detach keeps ctx's values but drops its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// releaseAll never gives up because the caller hung up. A release that still
// fails leaves a held reservation for the sweep's orphan pass.
func (o *Orchestrator) releaseAll(ctx context.Context, orderID string, held []inventory.Reservation) {
	ctx, cancel := detach(ctx)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if _, err := o.Ledger.Release(ctx, held[i]); err != nil {
			logging.Err(logging.Fields{Service: o.Service, OrderID: orderID, BookID: held[i].BookID, Step: "release", Status: "error"}, err)
		}
	}
}

func reservationsOf(ord orders.Order) []inventory.Reservation {
	out := make([]inventory.Reservation, 0, len(ord.Lines))
	for _, l := range ord.Lines {
		out = append(out, inventory.Reservation{ID: inventory.ReservationID(ord.ID, l.BookID), BookID: l.BookID, Qty: l.Qty})
	}
	return out
}

// replay answers a repeated checkout with the order it created the first time.
func (o *Orchestrator) replay(ctx context.Context, ord orders.Order) (Result, error) {
	res := Result{OrderID: ord.ID, TotalCents: ord.TotalCents, Replayed: true}
	rec, err := o.Payments.GetByOrder(ctx, ord.ID)
	switch {
	case err == nil:
		res.PaymentToken = rec.Token
		res.State = stateOf(ord, &rec)
	case errors.Is(err, payment.ErrNotFound):
		res.State = stateOf(ord, nil)
	default:
		return Result{}, err
	}
	return res, nil
}

func stateOf(ord orders.Order, rec *payment.Record) State {
	switch ord.Status {
	case orders.StatusPaid:
		return StatePaid
	case orders.StatusFailed:
		return StateFailed
	}
	if rec == nil {
		return StateStockReserved
	}
	return StatePaymentPending
}

// Order returns the order if it belongs to p.
func (o *Orchestrator) Order(ctx context.Context, p Principal, orderID string) (orders.Order, error) {
	ord, err := o.Orders.Get(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	if ord.UserID != p.UserID {
		return orders.Order{}, orders.ErrNotFound
	}
	return ord, nil
}

// Capture settles the order's payment. Replaying a capture on a settled order
// returns its final state. An unknown gateway outcome leaves the order
// Pending and hands it to the reconciler.
func (o *Orchestrator) Capture(ctx context.Context, p Principal, orderID, token string) (CaptureResult, error) {
	ord, err := o.Order(ctx, p, orderID)
	if err != nil {
		return CaptureResult{}, err
	}
	if ord.Status.Terminal() {
		if ord.Status == orders.StatusFailed {
			// idempotent; finishes a release an earlier call could not
			o.releaseAll(ctx, ord.ID, reservationsOf(ord))
		}
		return CaptureResult{OrderID: ord.ID, State: stateOf(ord, nil)}, nil
	}

	rec, err := o.Payments.GetByOrder(ctx, ord.ID)
	if errors.Is(err, payment.ErrNotFound) {
		return CaptureResult{}, fmt.Errorf("capture %s: %w", ord.ID, ErrNoPayment)
	}
	if err != nil {
		return CaptureResult{}, err
	}
	if token == "" || token != rec.Token {
		return CaptureResult{}, &orders.ValidationError{Field: "paymentToken", Reason: "does not match the order's payment"}
	}

	// a crash between gateway answer and order update leaves the payment
	// row already settled; finish from it instead of calling out again
	switch rec.Status {
	case payment.StatusCaptured:
		return o.finishPaid(ctx, ord, rec)
	case payment.StatusFailed:
		return o.finishFailed(ctx, ord, &rec, rec.FailureReason)
	}

	if err := o.Payments.MarkCaptureRequested(ctx, rec.ID, o.now().UTC()); err != nil {
		return CaptureResult{}, err
	}

	got, err := o.Gateway.Capture(ctx, rec.Token, payment.CaptureKey(ord.ID))
	if err != nil {
		if errors.Is(err, payment.ErrGatewayAmbiguous) {
			return o.pendingReconcile(ctx, ord, rec, err)
		}
		if payment.IsGatewayError(err) {
			// definitive refusal (4xx): the capture was not applied
			return o.finishFailed(ctx, ord, &rec, err.Error())
		}
		return CaptureResult{}, err
	}
	return o.settle(ctx, ord, rec, got)
}

// settle applies a gateway answer for rec.
func (o *Orchestrator) settle(ctx context.Context, ord orders.Order, rec, got payment.Record) (CaptureResult, error) {
	switch got.Status {
	case payment.StatusCaptured:
		return o.finishPaid(ctx, ord, rec)
	case payment.StatusFailed:
		return o.finishFailed(ctx, ord, &rec, got.FailureReason)
	}
	return o.pendingReconcile(ctx, ord, rec, fmt.Errorf("gateway reports %s after capture", got.Status))
}

func (o *Orchestrator) pendingReconcile(ctx context.Context, ord orders.Order, rec payment.Record, cause error) (CaptureResult, error) {
	logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, EventID: rec.ID, Step: "capture", Status: "ambiguous"}, cause)
	o.countOutcome(StatePaymentPending)
	if o.Scheduler != nil {
		ctx, cancel := detach(ctx)
		defer cancel()
		if err := o.Scheduler.ScheduleReconcile(ctx, ord.ID, rec.ID); err != nil {
			logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, Step: "schedule_reconcile", Status: "error"}, err)
		}
	}
	return CaptureResult{OrderID: ord.ID, State: StatePaymentPending, Reason: ReasonPaymentUnknown}, nil
}

// finishPaid records the capture, moves the order to Paid and seals the
// reservations.
func (o *Orchestrator) finishPaid(ctx context.Context, ord orders.Order, rec payment.Record) (CaptureResult, error) {
	ctx, cancel := detach(ctx)
	defer cancel()

	if err := o.Payments.Resolve(ctx, rec.ID, payment.StatusCaptured, ""); err != nil {
		return CaptureResult{}, err
	}

	err := o.Orders.TransitionStatus(ctx, ord.ID, orders.StatusPending, orders.StatusPaid)
	if stale, ok := orders.IsStale(err); ok {
		if stale.Current == orders.StatusFailed {
			logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, EventID: rec.ID, Step: "finish_paid", Status: "conflict"}, ErrCapturedAfterFailure)
			return CaptureResult{}, fmt.Errorf("order %s: %w", ord.ID, ErrCapturedAfterFailure)
		}
		err = nil // already Paid; fall through to the idempotent commit
	}
	if err != nil {
		return CaptureResult{}, err
	}

	for _, r := range reservationsOf(ord) {
		if err := o.Ledger.Commit(ctx, r); err != nil {
			logging.Err(logging.Fields{Service: o.Service, OrderID: ord.ID, BookID: r.BookID, Step: "commit", Status: "error"}, err)
		}
	}

	o.cache().Invalidate(ctx, ord.ID)
	o.publish(ctx, orders.EventOrderPaid, ord.ID, orders.OrderFinalizedPayload{OrderID: ord.ID, FinalStatus: string(orders.StatusPaid), PaymentID: rec.ID})
	o.countOutcome(StatePaid)
	logging.Log(logging.Fields{Service: o.Service, OrderID: ord.ID, EventID: rec.ID, Step: "finish", Status: string(StatePaid)})
	return CaptureResult{OrderID: ord.ID, State: StatePaid}, nil
}

// finishFailed fails the order and returns its stock. The order CAS happens
// before any release, so a capture that wins the race keeps its stock.
// rec may be nil when no payment intent was ever recorded.
func (o *Orchestrator) finishFailed(ctx context.Context, ord orders.Order, rec *payment.Record, reason string) (CaptureResult, error) {
	ctx, cancel := detach(ctx)
	defer cancel()

	paymentID := ""
	if rec != nil {
		paymentID = rec.ID
		err := o.Payments.Resolve(ctx, rec.ID, payment.StatusFailed, reason)
		if errors.Is(err, payment.ErrImmutable) {
			// the payment was captured after all
			return o.finishPaid(ctx, ord, *rec)
		}
		if err != nil {
			return CaptureResult{}, err
		}
	}

	err := o.Orders.TransitionStatus(ctx, ord.ID, orders.StatusPending, orders.StatusFailed)
	if stale, ok := orders.IsStale(err); ok {
		if stale.Current == orders.StatusPaid {
			return CaptureResult{OrderID: ord.ID, State: StatePaid}, nil
		}
		err = nil // already Failed; finish a release that may have been cut short
	}
	if err != nil {
		return CaptureResult{}, err
	}

	o.releaseAll(ctx, ord.ID, reservationsOf(ord))

	o.cache().Invalidate(ctx, ord.ID)
	o.publish(ctx, orders.EventOrderFailed, ord.ID, orders.OrderFinalizedPayload{OrderID: ord.ID, FinalStatus: string(orders.StatusFailed), PaymentID: paymentID, Reason: reason})
	o.countOutcome(StateFailed)
	logging.Log(logging.Fields{Service: o.Service, OrderID: ord.ID, EventID: paymentID, Step: "finish", Status: string(StateFailed), Message: reason})
	return CaptureResult{OrderID: ord.ID, State: StateFailed, Reason: reason}, nil
}

func (o *Orchestrator) publish(ctx context.Context, eventType, orderID string, payload any) {
	env, err := orders.NewEnvelope(eventType, o.Service, orderID, payload)
	if err == nil {
		err = o.events().Publish(ctx, env)
	}
	if err != nil {
		logging.Err(logging.Fields{Service: o.Service, OrderID: orderID, Step: "publish", Status: eventType}, err)
	}
}

func (o *Orchestrator) countOutcome(s State) {
	if o.Metrics != nil {
		o.Metrics.Checkouts.WithLabelValues(string(s)).Inc()
	}
}
