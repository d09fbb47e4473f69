package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
	"escrowflow/payout"
	"escrowflow/processor"
	"escrowflow/reconcile"
	"escrowflow/refund"
)

// Env bundles the wired services the actors drive. Everything flows through
// the real engines and the listener; actors never write settlement state with
// raw SQL.
type Env struct {
	Pool     *pgxpool.Pool
	Escrows  *escrow.Service
	Payouts  *payout.Service
	Refunds  *refund.Service
	Listener *reconcile.Listener
}

// expected returns true for errors that are correct outcomes under
// contention: duplicate escrows, lost status races, exhausted balances, and
// injected processor outages.
func expected(err error) bool {
	return errors.Is(err, escrow.ErrDuplicateEscrow) ||
		errors.Is(err, escrow.ErrInvalidTransition) ||
		errors.Is(err, escrow.ErrNotFound) ||
		errors.Is(err, payout.ErrAlreadyPaidOut) ||
		errors.Is(err, payout.ErrNotFound) ||
		errors.Is(err, refund.ErrExceedsBalance) ||
		errors.Is(err, refund.ErrNotFound) ||
		errors.Is(err, processor.ErrUnavailable) ||
		errors.Is(err, pgx.ErrNoRows)
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

// Funder creates escrows over a small set of milestones (forcing contention
// on the one-active-escrow rule) and delivers the funding confirmation,
// sometimes more than once.
func Funder(ctx context.Context, env *Env, milestones int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		mid := fmt.Sprintf("mil-%d", rand.Intn(milestones))
		amount := int64(1000 * (1 + rand.Intn(50)))
		esc, err := env.Escrows.Create(ctx, escrow.CreateParams{
			MilestoneID:      mid,
			AmountCents:      amount,
			Currency:         "USD",
			PaymentMethodRef: "card_stress",
		})
		if err != nil {
			if !expected(err) {
				return fmt.Errorf("funder create: %w", err)
			}
			pause(10, 30)
			continue
		}

		ev := reconcile.Event{
			DeliveryID:  "pay_" + esc.PaymentIntentID,
			Type:        reconcile.EventPaymentSucceeded,
			Ref:         esc.PaymentIntentID,
			AmountCents: esc.AmountCents,
		}
		deliveries := 1 + rand.Intn(2)
		for i := 0; i < deliveries; i++ {
			if err := env.Listener.Apply(ctx, ev); err != nil {
				return fmt.Errorf("funder deliver: %w", err)
			}
		}
		pause(10, 30)
	}
}

// Capturer captures whatever escrow happens to be funded.
func Capturer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := env.Pool.QueryRow(ctx, `SELECT id FROM escrows WHERE status = 'funded' LIMIT 1`).Scan(&id)
		if err == nil {
			if err := env.Escrows.Capture(ctx, id); err != nil && !expected(err) {
				return fmt.Errorf("capturer: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("capturer pick: %w", err)
		}
		pause(15, 35)
	}
}

// Disburser initiates payouts for captured escrows, resumes stalled ones, and
// delivers the transfer confirmation with duplicates.
func Disburser(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		err := env.Pool.QueryRow(ctx,
			`SELECT id FROM escrows WHERE status IN ('captured', 'partially_refunded') LIMIT 1`).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			pause(20, 40)
			continue
		}
		if err != nil {
			return fmt.Errorf("disburser pick: %w", err)
		}

		p, err := env.Payouts.Initiate(ctx, id, "acct_stress")
		if errors.Is(err, payout.ErrAlreadyPaidOut) {
			// a pending payout may be stalled without a transfer
			p, err = env.Payouts.Resume(ctx, id)
		}
		if err != nil {
			if !expected(err) {
				return fmt.Errorf("disburser initiate: %w", err)
			}
			pause(20, 40)
			continue
		}

		ev := reconcile.Event{
			DeliveryID:  "tr_" + p.TransferID,
			Type:        reconcile.EventTransferPaid,
			Ref:         p.TransferID,
			AmountCents: p.AmountCents,
			FeeCents:    p.AmountCents / 50,
		}
		deliveries := 1 + rand.Intn(2)
		for i := 0; i < deliveries; i++ {
			if err := env.Listener.Apply(ctx, ev); err != nil {
				return fmt.Errorf("disburser deliver: %w", err)
			}
		}
		pause(20, 40)
	}
}

// Refunder issues partial refunds against live escrows and delivers the
// refund confirmation.
func Refunder(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var id string
		var amount int64
		err := env.Pool.QueryRow(ctx,
			`SELECT id, amount_cents FROM escrows WHERE status IN ('funded', 'captured', 'partially_refunded') LIMIT 1`).Scan(&id, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			pause(30, 50)
			continue
		}
		if err != nil {
			return fmt.Errorf("refunder pick: %w", err)
		}

		slice := 1 + rand.Int63n(amount/2+1)
		rf, err := env.Refunds.Initiate(ctx, id, slice, "stress refund")
		if err != nil {
			if !expected(err) {
				return fmt.Errorf("refunder initiate: %w", err)
			}
			pause(30, 50)
			continue
		}

		ev := reconcile.Event{
			DeliveryID:  "re_" + rf.ProcessorRefundID,
			Type:        reconcile.EventRefundSucceeded,
			Ref:         rf.ProcessorRefundID,
			AmountCents: rf.AmountCents,
		}
		if err := env.Listener.Apply(ctx, ev); err != nil {
			return fmt.Errorf("refunder deliver: %w", err)
		}
		pause(30, 50)
	}
}

// Replayer redelivers already-processed delivery ids to hammer the dedup
// guard.
func Replayer(ctx context.Context, env *Env, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var deliveryID string
		err := env.Pool.QueryRow(ctx,
			`SELECT delivery_id FROM processed_events ORDER BY random() LIMIT 1`).Scan(&deliveryID)
		if errors.Is(err, pgx.ErrNoRows) {
			pause(50, 50)
			continue
		}
		if err != nil {
			return fmt.Errorf("replayer pick: %w", err)
		}

		ev := reconcile.Event{DeliveryID: deliveryID, Type: reconcile.EventPaymentSucceeded, Ref: "replayed"}
		if err := env.Listener.Apply(ctx, ev); err != nil {
			return fmt.Errorf("replayer deliver: %w", err)
		}
		pause(50, 50)
	}
}
