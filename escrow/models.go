package escrow

import "time"

// Status enumerates the escrow lifecycle. Transition functions in the service
// are the only mutation path; no caller writes a status directly.
type Status string

const (
	StatusPending           Status = "pending"
	StatusFunded            Status = "funded"
	StatusCaptured          Status = "captured"
	StatusReleased          Status = "released"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Escrow mirrors the escrows table. AmountCents is immutable once funded.
type Escrow struct {
	ID              string
	MilestoneID     string
	AmountCents     int64
	Currency        string
	PaymentIntentID string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateParams carries a funding request from the contract/milestone subsystem.
type CreateParams struct {
	MilestoneID      string
	AmountCents      int64
	Currency         string
	PaymentMethodRef string
}
