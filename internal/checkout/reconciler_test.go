package checkout_test

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/checkout"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/gatewaysandbox"
	kafkax "github.com/YesWoolley/OnlineBookstore-sub002/internal/kafka"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/redisx"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func TestEventSchedulerFeedsReconciler(t *testing.T) {
	h := newHarness(t)
	h.book(5, 10, 1250)
	h.gw.ambiguous = true
	ctx := context.Background()

	// route ambiguous captures through the event path instead of the harness hook
	h.orch.Scheduler = &checkout.EventScheduler{Events: h.events, Service: "checkout-test"}

	res := mustCheckout(t, h, oneLine(5, 2))
	if cr, _ := h.orch.Capture(ctx, alice, res.OrderID, res.PaymentToken); cr.State != checkout.StatePaymentPending {
		t.Fatalf("capture state = %s", cr.State)
	}

	var amb *orders.Envelope
	for i := range h.events.events {
		if h.events.events[i].EventType == orders.EventPaymentAmbiguous {
			amb = &h.events.events[i]
		}
	}
	if amb == nil {
		t.Fatalf("no PaymentAmbiguous event in %v", h.events.types())
	}
	p, err := kafkax.UnwrapPayload[orders.PaymentAmbiguousPayload](amb.Payload)
	if err != nil || p.OrderID != res.OrderID || p.Op != "capture" {
		t.Fatalf("payload = %+v, %v", p, err)
	}

	value, _ := json.Marshal(amb)
	msg := kafkago.Message{Topic: orders.TopicFor(amb.EventType), Key: orders.PartitionKey(res.OrderID), Value: value}
	rec := &checkout.Reconciler{Orch: h.orch, Service: "reconciler-test"}
	if err := rec.HandlePaymentAmbiguous(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if st := h.orderStatus(t, res.OrderID); st != orders.StatusPaid {
		t.Fatalf("order status = %s, want PAID", st)
	}
	if got := h.available(t, 5); got != 8 {
		t.Fatalf("available = %d, want 8", got)
	}

	// redelivery is harmless
	if err := rec.HandlePaymentAmbiguous(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := h.available(t, 5); got != 8 {
		t.Fatalf("available after redelivery = %d", got)
	}
}

func TestReconcilerSkipsGarbage(t *testing.T) {
	h := newHarness(t)
	rec := &checkout.Reconciler{Orch: h.orch, Service: "reconciler-test"}
	if err := rec.HandlePaymentAmbiguous(context.Background(), kafkago.Message{Value: []byte("not json")}); err != nil {
		t.Fatalf("garbage should be committed, got %v", err)
	}
	env, _ := orders.NewEnvelope(orders.EventOrderPaid, "x", "o1", orders.OrderFinalizedPayload{OrderID: "o1"})
	value, _ := json.Marshal(env)
	if err := rec.HandlePaymentAmbiguous(context.Background(), kafkago.Message{Value: value}); err != nil {
		t.Fatalf("other event types are ignored, got %v", err)
	}
}

func TestSweeperTickWithoutRedis(t *testing.T) {
	h := newHarness(t)
	h.book(1, 2, 100)
	res := mustCheckout(t, h, oneLine(1, 2))

	s := &checkout.Sweeper{Orch: h.orch, Interval: time.Minute, AbandonAfter: -time.Minute, Service: "sweeper-test"}
	s.Tick(context.Background())

	if st := h.orderStatus(t, res.OrderID); st != orders.StatusFailed {
		t.Fatalf("order status = %s, want FAILED", st)
	}
	if got := h.available(t, 1); got != 2 {
		t.Fatalf("available = %d, want 2", got)
	}
}

// End to end against the sandbox gateway over HTTP: the sandbox applies the
// capture but answers after the client timeout.
func TestCheckoutAgainstSlowSandbox(t *testing.T) {
	st, err := gatewaysandbox.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}
	sandbox := &gatewaysandbox.Handler{Store: st, CaptureDelay: 300 * time.Millisecond, Service: "sandbox-test"}
	srv := httptest.NewServer(sandbox.Router())
	t.Cleanup(func() {
		srv.Close()
		st.Close()
	})

	h := newHarness(t)
	h.book(5, 10, 1250)
	h.orch.Gateway = payment.NewClient(srv.URL, 100*time.Millisecond, 2, time.Millisecond)
	ctx := context.Background()

	res := mustCheckout(t, h, oneLine(5, 2))
	cr, err := h.orch.Capture(ctx, alice, res.OrderID, res.PaymentToken)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if cr.State != checkout.StatePaymentPending {
		t.Fatalf("capture state = %s, want PAYMENT_PENDING", cr.State)
	}
	if got := h.available(t, 5); got != 8 {
		t.Fatalf("available = %d, want 8", got)
	}

	rr, err := h.orch.Reconcile(ctx, res.OrderID, checkout.TriggerEvent)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rr.State != checkout.StatePaid {
		t.Fatalf("reconciled state = %s", rr.State)
	}
	if got := h.available(t, 5); got != 8 {
		t.Fatalf("available after reconcile = %d, want 8", got)
	}
}

func ambiguousMessage(t *testing.T, orderID string) (kafkago.Message, orders.Envelope) {
	t.Helper()
	env, err := orders.NewEnvelope(orders.EventPaymentAmbiguous, "checkout-test", orderID,
		orders.PaymentAmbiguousPayload{OrderID: orderID, Op: "capture"})
	if err != nil {
		t.Fatal(err)
	}
	value, _ := json.Marshal(env)
	return kafkago.Message{Value: value}, env
}

func TestReconcilerDedupKeepsOnlySuccesses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t)
	h.book(5, 10, 1250)
	h.gw.ambiguous = true
	ctx := context.Background()
	res := mustCheckout(t, h, oneLine(5, 2))
	_, _ = h.orch.Capture(ctx, alice, res.OrderID, res.PaymentToken)

	rec := &checkout.Reconciler{Orch: h.orch, Redis: rdb, Service: "reconciler-test"}

	msg, env := ambiguousMessage(t, res.OrderID)
	if err := rec.HandlePaymentAmbiguous(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !mr.Exists(fmt.Sprintf(redisx.KeyDedup, "reconciler-test", env.EventID)) {
		t.Fatal("handled event not marked")
	}
	if st := h.orderStatus(t, res.OrderID); st != orders.StatusPaid {
		t.Fatalf("order status = %s", st)
	}

	// a failed reconcile drops its mark so redelivery runs again
	bad, badEnv := ambiguousMessage(t, "no-such-order")
	if err := rec.HandlePaymentAmbiguous(ctx, bad); err == nil {
		t.Fatal("expected error for unknown order")
	}
	if mr.Exists(fmt.Sprintf(redisx.KeyDedup, "reconciler-test", badEnv.EventID)) {
		t.Fatal("failed event still marked")
	}
}

func TestSweeperSkipsTickWhileLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t)
	h.book(1, 2, 100)
	res := mustCheckout(t, h, oneLine(1, 2))
	ctx := context.Background()

	other, ok, err := redisx.TryLock(ctx, rdb, "abandoned-sweep", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	s := &checkout.Sweeper{Orch: h.orch, Redis: rdb, Interval: time.Minute, AbandonAfter: -time.Minute, Service: "sweeper-test"}
	s.Tick(ctx)
	if st := h.orderStatus(t, res.OrderID); st != orders.StatusPending {
		t.Fatalf("swept under another replica's lock: %s", st)
	}

	_ = other.Unlock(ctx)
	s.Tick(ctx)
	if st := h.orderStatus(t, res.OrderID); st != orders.StatusFailed {
		t.Fatalf("order status = %s, want FAILED", st)
	}
	if mr.Exists("lock:abandoned-sweep") {
		t.Fatal("sweeper kept its lock")
	}
}
