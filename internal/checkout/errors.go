package checkout

import "errors"

var (
	// ErrNoPayment: the order has no payment intent yet, so there is nothing to capture.
	ErrNoPayment = errors.New("order has no payment")
	// ErrCapturedAfterFailure is logged loudly: money was taken for an order
	// that already failed and released its stock.
	ErrCapturedAfterFailure = errors.New("payment captured for a failed order")
)
