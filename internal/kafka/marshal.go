package kafka

import (
	"encoding/json"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
)

// MarshalEnvelope rejects envelopes a consumer could not route.
func MarshalEnvelope(env orders.Envelope) ([]byte, error) {
	if env.EventType == "" || env.EventVersion <= 0 {
		return nil, fmt.Errorf("envelope missing type or version: %q v%d", env.EventType, env.EventVersion)
	}
	return json.Marshal(env)
}

func UnmarshalEnvelope(b []byte, out any) error {
	return json.Unmarshal(b, out)
}

// Unwrap memudahkan decode payload spesifik
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
