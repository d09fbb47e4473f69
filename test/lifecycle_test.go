package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/payout"
	"escrowflow/reconcile"
	"escrowflow/refund"
	"escrowflow/test/actors"
	"escrowflow/test/oracles"
)

// TestSettlementLifecycle walks one contract milestone through the full
// settlement flow against a real database: fund, capture, partial refund,
// payout of the remainder, with duplicate deliveries and guard checks along
// the way.
func TestSettlementLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := setupPool(t, ctx, "")
	env := newEnv(pool, actors.NewStubProcessor(0))
	ledgerRepo := ledger.NewRepository(pool)

	// create and fund
	esc, err := env.Escrows.Create(ctx, escrow.CreateParams{
		MilestoneID: "mil-life-1", AmountCents: 10000, Currency: "USD", PaymentMethodRef: "card_1",
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if esc.PaymentIntentID == "" {
		t.Fatalf("expected payment intent attached")
	}

	if _, err := env.Escrows.Create(ctx, escrow.CreateParams{
		MilestoneID: "mil-life-1", AmountCents: 9999, Currency: "USD",
	}); !errors.Is(err, escrow.ErrDuplicateEscrow) {
		t.Fatalf("expected ErrDuplicateEscrow for second escrow on the milestone, got %v", err)
	}

	fundEv := reconcile.Event{
		DeliveryID: "pay_1", Type: reconcile.EventPaymentSucceeded,
		Ref: esc.PaymentIntentID, AmountCents: 10000,
	}
	if err := env.Listener.Apply(ctx, fundEv); err != nil {
		t.Fatalf("apply funding: %v", err)
	}
	// the processor delivers at least once; apply the same event again
	if err := env.Listener.Apply(ctx, fundEv); err != nil {
		t.Fatalf("replay funding: %v", err)
	}
	// and once more under a fresh delivery id
	fundEv.DeliveryID = "pay_1b"
	if err := env.Listener.Apply(ctx, fundEv); err != nil {
		t.Fatalf("replay funding with new delivery id: %v", err)
	}
	assertEscrowStatus(t, ctx, env, esc.ID, escrow.StatusFunded)
	assertEntryTotal(t, ctx, ledgerRepo, esc.ID, ledger.TypeFund, 10000)

	// capture
	if err := env.Escrows.Capture(ctx, esc.ID); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := env.Escrows.Capture(ctx, esc.ID); !errors.Is(err, escrow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second capture, got %v", err)
	}

	// partial refund of 2500
	rf, err := env.Refunds.Initiate(ctx, esc.ID, 2500, "scope reduced")
	if err != nil {
		t.Fatalf("initiate refund: %v", err)
	}
	if err := env.Listener.Apply(ctx, reconcile.Event{
		DeliveryID: "re_1", Type: reconcile.EventRefundSucceeded,
		Ref: rf.ProcessorRefundID, AmountCents: 2500,
	}); err != nil {
		t.Fatalf("apply refund: %v", err)
	}
	assertEscrowStatus(t, ctx, env, esc.ID, escrow.StatusPartiallyRefunded)
	assertEntryTotal(t, ctx, ledgerRepo, esc.ID, ledger.TypeRefund, 2500)

	// a refund beyond the remaining balance is rejected
	if _, err := env.Refunds.Initiate(ctx, esc.ID, 8000, "too much"); !errors.Is(err, refund.ErrExceedsBalance) {
		t.Fatalf("expected ErrExceedsBalance, got %v", err)
	}

	// pay out the remaining 7500
	p, err := env.Payouts.Initiate(ctx, esc.ID, "acct_payee")
	if err != nil {
		t.Fatalf("initiate payout: %v", err)
	}
	if p.AmountCents != 7500 {
		t.Fatalf("expected 7500 disbursable, got %d", p.AmountCents)
	}
	payEv := reconcile.Event{
		DeliveryID: "tr_1", Type: reconcile.EventTransferPaid,
		Ref: p.TransferID, AmountCents: 7500, FeeCents: 150,
	}
	if err := env.Listener.Apply(ctx, payEv); err != nil {
		t.Fatalf("apply transfer paid: %v", err)
	}
	if err := env.Listener.Apply(ctx, payEv); err != nil {
		t.Fatalf("replay transfer paid: %v", err)
	}
	assertEscrowStatus(t, ctx, env, esc.ID, escrow.StatusReleased)
	assertEntryTotal(t, ctx, ledgerRepo, esc.ID, ledger.TypePayout, 7500)
	assertEntryTotal(t, ctx, ledgerRepo, esc.ID, ledger.TypeFee, 150)

	// terminal state holds
	if _, err := env.Payouts.Initiate(ctx, esc.ID, "acct_payee"); !errors.Is(err, payout.ErrAlreadyPaidOut) {
		t.Fatalf("expected ErrAlreadyPaidOut after release, got %v", err)
	}
	if _, err := env.Refunds.Initiate(ctx, esc.ID, 100, ""); !errors.Is(err, escrow.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition refunding a released escrow, got %v", err)
	}

	// ledger reads back whole and in order
	entries, err := ledgerRepo.ListByEscrow(ctx, esc.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 ledger entries, got %d", len(entries))
	}

	// everything still consistent per the oracles
	if name, row, err := oracles.Run(ctx, pool); err != nil || name != "" {
		t.Fatalf("oracle %s failed: %s (%v)", name, row, err)
	}
}

// TestCancelFreesMilestone verifies an abandoned escrow releases the
// one-active-escrow slot.
func TestCancelFreesMilestone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := setupPool(t, ctx, "")
	env := newEnv(pool, actors.NewStubProcessor(0))

	esc, err := env.Escrows.Create(ctx, escrow.CreateParams{
		MilestoneID: "mil-cancel-1", AmountCents: 5000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Escrows.Cancel(ctx, esc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	assertEscrowStatus(t, ctx, env, esc.ID, escrow.StatusCancelled)

	replacement, err := env.Escrows.Create(ctx, escrow.CreateParams{
		MilestoneID: "mil-cancel-1", AmountCents: 6000, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("expected replacement escrow after cancel, got %v", err)
	}
	if replacement.ID == esc.ID {
		t.Fatalf("expected a fresh escrow, got the cancelled one back")
	}
}

// TestUnreconcilableEventReview verifies quarantine and manual resolution of
// an event that matches nothing.
func TestUnreconcilableEventReview(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pool := setupPool(t, ctx, "")
	env := newEnv(pool, actors.NewStubProcessor(0))
	review := reconcile.NewReviewService(reconcile.NewRepository(pool))

	err := env.Listener.Apply(ctx, reconcile.Event{
		DeliveryID: "evt_orphan", Type: reconcile.EventPaymentSucceeded, Ref: "pi_nobody",
	})
	if !errors.Is(err, reconcile.ErrUnreconcilable) {
		t.Fatalf("expected ErrUnreconcilable, got %v", err)
	}

	open, err := review.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].DeliveryID != "evt_orphan" {
		t.Fatalf("expected one open event for evt_orphan, got %+v", open)
	}

	resolved, err := review.Resolve(ctx, open[0].ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != reconcile.UnreconciledResolved || resolved.ResolvedAt == nil {
		t.Fatalf("expected resolved event, got %+v", resolved)
	}

	if _, err := review.Resolve(ctx, open[0].ID); !errors.Is(err, reconcile.ErrReviewClosed) {
		t.Fatalf("expected ErrReviewClosed on second resolve, got %v", err)
	}
}

func assertEscrowStatus(t *testing.T, ctx context.Context, env *actors.Env, escrowID string, want escrow.Status) {
	t.Helper()
	var status string
	if err := env.Pool.QueryRow(ctx, `SELECT status::text FROM escrows WHERE id = $1`, escrowID).Scan(&status); err != nil {
		t.Fatalf("read escrow status: %v", err)
	}
	if escrow.Status(status) != want {
		t.Fatalf("expected escrow %s, got %s", want, status)
	}
}

func assertEntryTotal(t *testing.T, ctx context.Context, repo *ledger.Repository, escrowID string, entryType ledger.EntryType, want int64) {
	t.Helper()
	sums, err := repo.SumByType(ctx, escrowID)
	if err != nil {
		t.Fatalf("sum entries: %v", err)
	}
	if sums[entryType] != want {
		t.Fatalf("expected %s total %d, got %d", entryType, want, sums[entryType])
	}
}
