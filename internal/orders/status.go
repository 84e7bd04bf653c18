package orders

import "fmt"

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending: {StatusPaid: true, StatusFailed: true},
	StatusPaid:    {},
	StatusFailed:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// ParseStatus maps a stored column value back to the closed enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}
