package ledger

import "time"

// EntryType classifies a single fund movement.
type EntryType string

const (
	TypeFund    EntryType = "fund"
	TypeCapture EntryType = "capture"
	TypePayout  EntryType = "payout"
	TypeRefund  EntryType = "refund"
	TypeFee     EntryType = "fee"
)

// Entry mirrors a ledger_entries row. Rows are append-only: the repository
// exposes no update or delete path and the schema rejects both.
type Entry struct {
	ID          string
	EscrowID    string
	Type        EntryType
	SourceRef   string
	DestRef     string
	AmountCents int64
	Currency    string
	CreatedAt   time.Time
}

// BalanceSummary aggregates the ledger for one escrow. Funded =
// captured + refunded + held, and captured = paid out + refunded-from-capture
// + pending disbursement; both identities follow from the entry sums here.
type BalanceSummary struct {
	EscrowID      string
	FundedCents   int64
	CapturedCents int64
	PaidOutCents  int64
	RefundedCents int64
	FeeCents      int64
	HeldCents     int64
	CalculatedAt  time.Time
}
