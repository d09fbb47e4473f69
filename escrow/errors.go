package escrow

import "errors"

var (
	// ErrInvalidAmount rejects non-positive funding amounts.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrDuplicateEscrow signals an active escrow already exists for the milestone.
	ErrDuplicateEscrow = errors.New("escrow: active escrow exists for milestone")
	// ErrInvalidTransition signals the escrow is not in the state the operation requires.
	ErrInvalidTransition = errors.New("escrow: invalid state transition")
	// ErrIntentMismatch signals a funding confirmation whose payment intent does
	// not match the one on record; the confirmation is spoofed or misrouted and
	// must not mutate state.
	ErrIntentMismatch = errors.New("escrow: payment intent mismatch")
	// ErrNotFound is returned when no escrow row exists for the identifier.
	ErrNotFound = errors.New("escrow: not found")
)
