package checkout

import "fmt"

// State is where one checkout saga stands. It is derived from the order and
// payment rows, never stored on its own.
type State string

const (
	StateInitiated      State = "INITIATED"
	StateStockReserved  State = "STOCK_RESERVED"
	StatePaymentPending State = "PAYMENT_PENDING"
	StatePaid           State = "PAID"
	StateFailed         State = "FAILED"
	StateRejected       State = "REJECTED"
)

var validNext = map[State]map[State]bool{
	StateInitiated:      {StateStockReserved: true, StateRejected: true},
	StateStockReserved:  {StatePaymentPending: true, StateFailed: true},
	StatePaymentPending: {StatePaid: true, StateFailed: true},
	StatePaid:           {},
	StateFailed:         {},
	StateRejected:       {},
}

func CanTransition(from, to State) bool { return validNext[from][to] }

func (s State) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// External is the status word shown to API clients.
func (s State) External() string {
	switch s {
	case StatePaid:
		return "Paid"
	case StateFailed:
		return "Failed"
	case StateRejected:
		return "Rejected"
	}
	return "Pending"
}

// saga tracks one checkout call through the state table.
type saga struct {
	orderID string
	state   State
}

func (s *saga) advance(to State) error {
	if !CanTransition(s.state, to) {
		return fmt.Errorf("checkout %s: illegal step %s -> %s", s.orderID, s.state, to)
	}
	s.state = to
	return nil
}
