package kafka

import (
	"context"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// Producer writes to any topic; the topic travels on each message.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	service string

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, service string, buf int) *Producer {
	p := &Producer{
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		service: service,
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true, // fire-and-forget; failures reported via Completion
		Completion:   p.completion,
	}
	return p
}

func (p *Producer) completion(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, m := range msgs {
		logging.Err(logging.Fields{Service: p.service, OrderID: string(m.Key), Step: "kafka_publish", Status: "error", Message: m.Topic}, err)
	}
}

// Start runs the writer loop until Close drains the inbox.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(ctx, m); err != nil {
				// ctx sudah cancel: tetap flush sisa pesan
				if ctx.Err() != nil {
					err = p.w.WriteMessages(context.Background(), m)
				}
				if err != nil {
					p.completion([]kafka.Message{m}, err)
				}
			}
		}
		_ = p.w.Close()
	}()
}

// Publish enqueues a message. It reports false once the producer is closed.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.inbox <- kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	return true
}

// Tutup channel supaya goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
