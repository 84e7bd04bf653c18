package orders

import "time"

type Order struct {
	ID              string
	UserID          string
	Status          Status // lihat status.go
	TotalCents      int64
	ShippingAddress string
	IdempotencyKey  string
	Lines           []Line
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Line belongs to its order; BookID is a plain reference into the catalog.
type Line struct {
	OrderID        string
	BookID         int64
	Qty            int
	UnitPriceCents int64
}

func (l Line) TotalCents() int64 { return l.UnitPriceCents * int64(l.Qty) }

// NewOrder is the input of CreatePending. ID is chosen by the caller so stock
// reservations can be keyed by it before the order row exists.
type NewOrder struct {
	ID              string
	UserID          string
	Lines           []Line
	TotalCents      int64
	ShippingAddress string
	IdempotencyKey  string
}

func SumLines(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.TotalCents()
	}
	return total
}

func (n NewOrder) Validate() error {
	if n.ID == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	if n.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if len(n.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	for _, l := range n.Lines {
		if l.Qty <= 0 {
			return &ValidationError{Field: "lines.quantity", Reason: "must be positive"}
		}
		if l.UnitPriceCents < 0 {
			return &ValidationError{Field: "lines.unit_price", Reason: "must not be negative"}
		}
	}
	if n.TotalCents != SumLines(n.Lines) {
		return &ValidationError{Field: "total", Reason: "does not match line totals"}
	}
	return nil
}

func cloneOrder(o Order) Order {
	o.Lines = append([]Line(nil), o.Lines...)
	return o
}
