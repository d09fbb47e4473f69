package refund

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Refund mirrors the refunds table. ProcessorRefundID is the processor-issued
// reference, attached once the refund request is accepted.
type Refund struct {
	ID                string
	EscrowID          string
	ProcessorRefundID string
	AmountCents       int64
	Currency          string
	Reason            string
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
