package orders

import (
	"encoding/json"
	"github.com/google/uuid"
	"time"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventCheckoutRejected = "CheckoutRejected"
	EventPaymentAmbiguous = "PaymentAmbiguous"
	EventOrderPaid        = "OrderPaid"
	EventOrderFailed      = "OrderFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "bookstore-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// ---- Payload tipe per event ----

type LinePayload struct {
	BookID         int64 `json:"book_id"`
	Qty            int   `json:"qty"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

type OrderCreatedPayload struct {
	OrderID    string        `json:"order_id"`
	UserID     string        `json:"user_id"`
	Lines      []LinePayload `json:"lines"`
	TotalCents int64         `json:"total_cents"`
}

type CheckoutRejectedPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"` // e.g., INSUFFICIENT_STOCK
	BookID int64  `json:"book_id,omitempty"`
}

type PaymentAmbiguousPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Op        string `json:"op"` // capture
}

type OrderFinalizedPayload struct {
	OrderID     string `json:"order_id"`
	FinalStatus string `json:"final_status"` // PAID | FAILED
	PaymentID   string `json:"payment_id,omitempty"`
	Reason      string `json:"reason,omitempty"` // jika FAILED
}

func LinePayloads(lines []Line) []LinePayload {
	out := make([]LinePayload, 0, len(lines))
	for _, l := range lines {
		out = append(out, LinePayload{BookID: l.BookID, Qty: l.Qty, UnitPriceCents: l.UnitPriceCents})
	}
	return out
}
