package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"escrowflow/escrow"
	"escrowflow/metrics"
	"escrowflow/payout"
	"escrowflow/refund"
)

// GuardStore is the listener's delivery-dedup and manual-review persistence.
type GuardStore interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
	MarkSeen(ctx context.Context, deliveryID string) error
	InsertUnreconciled(ctx context.Context, ev Event, reason string) error
}

// Resolver matches processor reference ids to local entities.
type Resolver interface {
	EscrowByIntent(ctx context.Context, intentID string) (escrow.Escrow, error)
	PayoutByTransfer(ctx context.Context, transferID string) (payout.Payout, error)
	RefundByProcessorRef(ctx context.Context, processorRefundID string) (refund.Refund, error)
}

// EscrowConfirmer applies funding confirmations.
type EscrowConfirmer interface {
	ConfirmFunded(ctx context.Context, escrowID, intentID string) error
}

// PayoutConfirmer applies transfer outcomes.
type PayoutConfirmer interface {
	Confirm(ctx context.Context, payoutID, transferID string, succeeded bool, feeCents int64) error
}

// RefundConfirmer applies refund outcomes.
type RefundConfirmer interface {
	Confirm(ctx context.Context, refundID string, succeeded bool) error
}

// Listener drives the escrow, payout, and refund state machines from the
// processor's at-least-once confirmation stream. It holds no state beyond the
// delivery-dedup guard; the engines' status guards under row locks are the
// authoritative idempotency barrier, so a replay that slips past the guard is
// still a no-op.
type Listener struct {
	guard   GuardStore
	resolve Resolver
	escrows EscrowConfirmer
	payouts PayoutConfirmer
	refunds RefundConfirmer
	log     *slog.Logger
}

func NewListener(guard GuardStore, resolve Resolver, escrows EscrowConfirmer, payouts PayoutConfirmer, refunds RefundConfirmer, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		guard:   guard,
		resolve: resolve,
		escrows: escrows,
		payouts: payouts,
		refunds: refunds,
		log:     log,
	}
}

// Apply matches one confirmation to its local entity and applies the
// transition. Replays acknowledge without error; unmatchable events persist
// for manual review and return ErrUnreconcilable; infrastructure failures
// propagate so the sender redelivers.
func (l *Listener) Apply(ctx context.Context, ev Event) error {
	if ev.DeliveryID == "" || ev.Ref == "" || !validEventType(ev.Type) {
		return l.unreconcile(ctx, ev, "malformed event")
	}

	seen, err := l.guard.Seen(ctx, ev.DeliveryID)
	if err != nil {
		return err
	}
	if seen {
		metrics.EventsReplayedTotal.Inc()
		l.log.Info("duplicate delivery acknowledged", "delivery_id", ev.DeliveryID, "type", string(ev.Type))
		return nil
	}

	var applyErr error
	switch ev.Type {
	case EventPaymentSucceeded:
		applyErr = l.applyFunding(ctx, ev)
	case EventTransferPaid, EventTransferFailed:
		applyErr = l.applyTransfer(ctx, ev)
	case EventRefundSucceeded, EventRefundFailed:
		applyErr = l.applyRefund(ctx, ev)
	}
	if applyErr != nil {
		return applyErr
	}

	if err := l.guard.MarkSeen(ctx, ev.DeliveryID); err != nil {
		// The transition is committed; a redelivery hits the status guard and
		// acks as a replay, so this is safe to surface for retry.
		return err
	}
	return nil
}

func (l *Listener) applyFunding(ctx context.Context, ev Event) error {
	esc, err := l.resolve.EscrowByIntent(ctx, ev.Ref)
	if errors.Is(err, escrow.ErrNotFound) {
		return l.unreconcile(ctx, ev, "no escrow for payment intent")
	}
	if err != nil {
		return err
	}
	if ev.AmountCents > 0 && ev.AmountCents != esc.AmountCents {
		return l.unreconcile(ctx, ev, fmt.Sprintf("amount mismatch: event %d, escrow %d", ev.AmountCents, esc.AmountCents))
	}

	err = l.escrows.ConfirmFunded(ctx, esc.ID, ev.Ref)
	switch {
	case err == nil:
		metrics.EventsAppliedTotal.Inc()
		l.log.Info("escrow funded", "escrow_id", esc.ID, "delivery_id", ev.DeliveryID)
		return nil
	case errors.Is(err, escrow.ErrInvalidTransition):
		metrics.EventsReplayedTotal.Inc()
		l.log.Info("funding replay acknowledged", "escrow_id", esc.ID, "status", string(esc.Status))
		return nil
	case errors.Is(err, escrow.ErrIntentMismatch):
		return l.unreconcile(ctx, ev, "payment intent mismatch")
	default:
		return err
	}
}

func (l *Listener) applyTransfer(ctx context.Context, ev Event) error {
	p, err := l.resolve.PayoutByTransfer(ctx, ev.Ref)
	if errors.Is(err, payout.ErrNotFound) {
		return l.unreconcile(ctx, ev, "no payout for transfer")
	}
	if err != nil {
		return err
	}
	if ev.AmountCents > 0 && ev.AmountCents != p.AmountCents {
		return l.unreconcile(ctx, ev, fmt.Sprintf("amount mismatch: event %d, payout %d", ev.AmountCents, p.AmountCents))
	}

	succeeded := ev.Type == EventTransferPaid
	err = l.payouts.Confirm(ctx, p.ID, ev.Ref, succeeded, ev.FeeCents)
	switch {
	case err == nil:
		metrics.EventsAppliedTotal.Inc()
		l.log.Info("payout confirmed", "payout_id", p.ID, "succeeded", succeeded, "delivery_id", ev.DeliveryID)
		return nil
	case errors.Is(err, escrow.ErrInvalidTransition):
		metrics.EventsReplayedTotal.Inc()
		l.log.Info("transfer replay acknowledged", "payout_id", p.ID, "status", string(p.Status))
		return nil
	case errors.Is(err, payout.ErrTransferMismatch):
		return l.unreconcile(ctx, ev, "transfer id mismatch")
	default:
		return err
	}
}

func (l *Listener) applyRefund(ctx context.Context, ev Event) error {
	rf, err := l.resolve.RefundByProcessorRef(ctx, ev.Ref)
	if errors.Is(err, refund.ErrNotFound) {
		return l.unreconcile(ctx, ev, "no refund for processor reference")
	}
	if err != nil {
		return err
	}
	if ev.AmountCents > 0 && ev.AmountCents != rf.AmountCents {
		return l.unreconcile(ctx, ev, fmt.Sprintf("amount mismatch: event %d, refund %d", ev.AmountCents, rf.AmountCents))
	}

	succeeded := ev.Type == EventRefundSucceeded
	err = l.refunds.Confirm(ctx, rf.ID, succeeded)
	switch {
	case err == nil:
		metrics.EventsAppliedTotal.Inc()
		l.log.Info("refund confirmed", "refund_id", rf.ID, "succeeded", succeeded, "delivery_id", ev.DeliveryID)
		return nil
	case errors.Is(err, escrow.ErrInvalidTransition):
		metrics.EventsReplayedTotal.Inc()
		l.log.Info("refund replay acknowledged", "refund_id", rf.ID, "status", string(rf.Status))
		return nil
	default:
		return err
	}
}

func (l *Listener) unreconcile(ctx context.Context, ev Event, reason string) error {
	if ev.DeliveryID == "" {
		// still persisted: a quarantined event must never be dropped
		ev.DeliveryID = "missing_" + uuid.NewString()
	}
	if err := l.guard.InsertUnreconciled(ctx, ev, reason); err != nil {
		return err
	}
	metrics.EventsUnreconcilableTotal.Inc()
	l.log.Warn("event quarantined for review",
		"delivery_id", ev.DeliveryID, "type", string(ev.Type), "ref", ev.Ref, "reason", reason)
	return fmt.Errorf("%w: %s", ErrUnreconcilable, reason)
}
