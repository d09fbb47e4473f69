package payout

import "errors"

var (
	// ErrAlreadyPaidOut signals a live or successful payout already exists for the escrow.
	ErrAlreadyPaidOut = errors.New("payout: escrow already paid out")
	// ErrTransferMismatch signals a confirmation for a transfer id that is not
	// the one on record; it must not mutate state.
	ErrTransferMismatch = errors.New("payout: transfer id mismatch")
	// ErrNotFound is returned when no payout row exists for the identifier.
	ErrNotFound = errors.New("payout: not found")
)
