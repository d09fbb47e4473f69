package payout

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusInTransit Status = "in_transit"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
)

// Payout mirrors the payouts table. At most one non-failed payout exists per
// escrow, enforced by a partial unique index.
type Payout struct {
	ID                   string
	EscrowID             string
	DestinationAccountID string
	AmountCents          int64
	FeeCents             int64
	Currency             string
	TransferID           string
	Status               Status
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
