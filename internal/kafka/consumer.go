package kafka

import (
	"context"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	workers int
	service string
}

func NewConsumer(brokers []string, group, topic, service string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, service: service}
}

// Start dispatches fetched messages to the worker pool and blocks until ctx
// is cancelled or the reader fails.
//
// Every partition is pinned to one worker, so offsets are committed in order
// and a commit never skips past a message still in flight. A failing message
// is retried in place up to maxHandleAttempts times; after that it is
// committed anyway and logged as dropped, because a committed later offset
// would hide it from redelivery regardless. Callers must have a backstop for
// dropped messages (the checkout sweep, for ambiguous captures).
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup

	// workers
	for i := range queues {
		queues[i] = make(chan kafka.Message, 256)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					continue // shutting down; leave uncommitted
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					logging.Err(logging.Fields{Service: c.service, OrderID: string(m.Key), Step: "commit", Status: "error"}, err)
				}
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	// dispatcher loop; FetchMessage does not auto-commit
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[m.Partition%len(queues)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

var (
	maxHandleAttempts = 5
	handleBackoff     = 200 * time.Millisecond
)

// handle reports whether m may be committed.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := handleBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= maxHandleAttempts {
			logging.Err(logging.Fields{Service: c.service, OrderID: string(m.Key), Step: "consume", Status: "dropped",
				Message: fmt.Sprintf("partition %d offset %d", m.Partition, m.Offset)}, err)
			return true
		}
		logging.Err(logging.Fields{Service: c.service, OrderID: string(m.Key), Step: "consume", Status: "retry"}, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
	}
}
