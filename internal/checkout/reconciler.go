package checkout

import (
	"context"
	"fmt"
	kafkax "github.com/YesWoolley/OnlineBookstore-sub002/internal/kafka"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"time"
)

// EventScheduler hands ambiguous captures to the reconciler service through
// the order.payment.ambiguous topic.
type EventScheduler struct {
	Events  Publisher
	Service string
}

func (s *EventScheduler) ScheduleReconcile(ctx context.Context, orderID, paymentID string) error {
	env, err := orders.NewEnvelope(orders.EventPaymentAmbiguous, s.Service, orderID,
		orders.PaymentAmbiguousPayload{OrderID: orderID, PaymentID: paymentID, Op: "capture"})
	if err != nil {
		return err
	}
	return s.Events.Publish(ctx, env)
}

// Reconciler consumes PaymentAmbiguous events.
type Reconciler struct {
	Orch    *Orchestrator
	Redis   *redis.Client // dedup; nil disables
	Service string
}

// HandlePaymentAmbiguous dipasang sebagai handler consumer.
func (r *Reconciler) HandlePaymentAmbiguous(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		logging.Err(logging.Fields{Service: r.Service, Step: "decode", Status: "skipped"}, err)
		return nil // poison message: commit and move on
	}
	if env.EventType != orders.EventPaymentAmbiguous {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, r.Service, env.EventID)
	if r.Redis != nil {
		first, err := redisx.FirstSeen(ctx, r.Redis, dkey, redisx.TTLDedup)
		if err == nil && !first {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[orders.PaymentAmbiguousPayload](env.Payload)
	if err != nil {
		logging.Err(logging.Fields{Service: r.Service, EventID: env.EventID, Step: "decode", Status: "skipped"}, err)
		return nil
	}

	// 4) poll gateway sampai jelas
	start := time.Now()
	res, err := r.Orch.Reconcile(ctx, p.OrderID, TriggerEvent)
	if err != nil {
		if r.Redis != nil {
			_ = redisx.Forget(ctx, r.Redis, dkey)
		}
		return err
	}
	logging.Log(logging.Fields{
		Service:    r.Service,
		OrderID:    p.OrderID,
		EventID:    env.EventID,
		Step:       "reconcile",
		Status:     string(res.State),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return nil
}

// Sweeper runs Orchestrator.Sweep on a ticker. With Redis set only the
// replica holding the lock sweeps on a given tick.
type Sweeper struct {
	Orch         *Orchestrator
	Redis        *redis.Client
	Interval     time.Duration
	AbandonAfter time.Duration
	Batch        int
	Service      string
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep pass.
func (s *Sweeper) Tick(ctx context.Context) {
	if s.Redis != nil {
		lock, ok, err := redisx.TryLock(ctx, s.Redis, "abandoned-sweep", s.Interval)
		if err != nil || !ok {
			return
		}
		defer func() { _ = lock.Unlock(context.Background()) }()
	}

	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	start := time.Now()
	n, err := s.Orch.Sweep(ctx, s.Orch.now().Add(-s.AbandonAfter), batch)
	if err != nil {
		logging.Err(logging.Fields{Service: s.Service, Step: "sweep", Status: "error"}, err)
		return
	}
	if n > 0 {
		logging.Log(logging.Fields{Service: s.Service, Step: "sweep", Status: "ok", Message: fmt.Sprintf("settled %d abandoned orders", n), DurationMS: time.Since(start).Milliseconds()})
	}
}
