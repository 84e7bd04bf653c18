package kafka

import (
	"context"
	"errors"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/segmentio/kafka-go"
	"strconv"
)

var ErrProducerClosed = errors.New("kafka producer closed")

// EventPublisher puts order envelopes on their topic, keyed by order id.
type EventPublisher struct {
	Producer *Producer
}

func (p *EventPublisher) Publish(_ context.Context, env orders.Envelope) error {
	topic := orders.TopicFor(env.EventType)
	if topic == "" {
		return errors.New("no topic for event " + env.EventType)
	}
	value, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	ok := p.Producer.Publish(topic, orders.PartitionKey(env.CorrelationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
	if !ok {
		return ErrProducerClosed
	}
	return nil
}

// DecodeEnvelope reads an envelope off a consumed message.
func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := UnmarshalEnvelope(m.Value, &env); err != nil {
		return env, err
	}
	return env, nil
}
