package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayAmbiguous means the gateway may or may not have applied the
	// call. Only a later status query can tell.
	ErrGatewayAmbiguous = errors.New("gateway outcome unknown")
	ErrNotFound         = errors.New("payment not found")
	ErrAlreadyExists    = errors.New("order already has a payment")
	ErrImmutable        = errors.New("payment already finalized")
)

// GatewayError is a failed gateway call. Retryable errors are transport
// failures, timeouts and 5xx/429 responses.
type GatewayError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return "gateway " + e.Op + ": failed"
}

func (e *GatewayError) Unwrap() error { return e.Err }

func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
