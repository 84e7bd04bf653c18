package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrAlreadyExists     = errors.New("order already exists")
	ErrIllegalTransition = errors.New("illegal order status transition")
)

// ValidationError reports a malformed request. Nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StaleStateError is returned by TransitionStatus when the stored status no
// longer matches the expected one. Callers re-read and decide.
type StaleStateError struct {
	OrderID  string
	Expected Status
	Current  Status
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("order %s: expected status %s, found %s", e.OrderID, e.Expected, e.Current)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsStale(err error) (*StaleStateError, bool) {
	var s *StaleStateError
	ok := errors.As(err, &s)
	return s, ok
}
