package reconcile

import "time"

// EventType enumerates the processor's asynchronous confirmations.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventTransferPaid     EventType = "transfer_paid"
	EventTransferFailed   EventType = "transfer_failed"
	EventRefundSucceeded  EventType = "refund_succeeded"
	EventRefundFailed     EventType = "refund_failed"
)

// Event is one inbound confirmation, delivered at least once and possibly out
// of order. Ref carries the processor-side reference: a payment intent id,
// transfer id, or refund id depending on Type.
type Event struct {
	DeliveryID  string
	Type        EventType
	Ref         string
	AmountCents int64
	FeeCents    int64
	OccurredAt  time.Time
}

// UnreconciledStatus tracks manual review of events that could not be applied.
type UnreconciledStatus string

const (
	UnreconciledOpen     UnreconciledStatus = "open"
	UnreconciledResolved UnreconciledStatus = "resolved"
)

// UnreconciledEvent mirrors the unreconciled_events table: confirmations with
// unknown references or mismatched data, persisted for manual inspection.
type UnreconciledEvent struct {
	ID          int64
	DeliveryID  string
	EventType   string
	Ref         string
	AmountCents int64
	FeeCents    int64
	Reason      string
	Status      UnreconciledStatus
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

func validEventType(t EventType) bool {
	switch t {
	case EventPaymentSucceeded, EventTransferPaid, EventTransferFailed, EventRefundSucceeded, EventRefundFailed:
		return true
	}
	return false
}
