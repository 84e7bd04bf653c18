package payment

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusCaptured Status = "CAPTURED"
	StatusFailed   Status = "FAILED"
)

func (s Status) Terminal() bool { return s == StatusCaptured || s == StatusFailed }

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusCreated, StatusCaptured, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

type Metadata struct {
	OrderID string `json:"order_id"`
}

// Record is the local copy of one payment attempt. ID and Token are assigned
// by the gateway; an order has at most one record.
type Record struct {
	ID                 string
	OrderID            string
	AmountCents        int64
	Currency           string
	Status             Status
	Token              string
	FailureReason      string
	CaptureRequestedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Idempotency keys are derived from the order so a retry after a crash
// reuses the key of the first attempt.
func IntentKey(orderID string) string  { return "intent-" + orderID }
func CaptureKey(orderID string) string { return "capture-" + orderID }
func VoidKey(orderID string) string    { return "void-" + orderID }
