package payment

import (
	"github.com/shopspring/decimal"
	"time"
)

// Wire statuses used by the gateway API.
const (
	WireCreated  = "created"
	WireCaptured = "captured"
	WireFailed   = "failed"

	// ReasonVoided is the failure reason of a payment cancelled by Void.
	ReasonVoided = "voided"
)

type IntentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Metadata Metadata        `json:"metadata"`
}

type PaymentResponse struct {
	ID            string          `json:"id"`
	Token         string          `json:"token"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Metadata      Metadata        `json:"metadata"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func AmountFromCents(cents int64) decimal.Decimal { return decimal.New(cents, -2) }

func CentsFromAmount(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func (p PaymentResponse) Record() Record {
	st := StatusCreated
	switch p.Status {
	case WireCaptured:
		st = StatusCaptured
	case WireFailed:
		st = StatusFailed
	}
	return Record{
		ID:            p.ID,
		OrderID:       p.Metadata.OrderID,
		AmountCents:   CentsFromAmount(p.Amount),
		Currency:      p.Currency,
		Status:        st,
		Token:         p.Token,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
