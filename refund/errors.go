package refund

import "errors"

var (
	// ErrExceedsBalance rejects a refund larger than the amount still held for
	// the payer.
	ErrExceedsBalance = errors.New("refund: amount exceeds refundable balance")
	// ErrNotFound is returned when no refund row exists for the identifier.
	ErrNotFound = errors.New("refund: not found")
)
