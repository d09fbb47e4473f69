package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const payoutColumns = `id, escrow_id, destination_account_id, amount_cents, fee_cents, currency, COALESCE(transfer_id, ''), status::text, created_at, updated_at`

// Insert persists a pending payout. The partial unique index on escrow_id
// (status <> 'failed') gives at most one live payout per escrow.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, p Payout) (Payout, error) {
	const insertSQL = `
INSERT INTO payouts (id, escrow_id, destination_account_id, amount_cents, currency, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
RETURNING created_at, updated_at
`
	if err := tx.QueryRow(ctx, insertSQL, p.ID, p.EscrowID, p.DestinationAccountID, p.AmountCents, p.Currency).
		Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payout{}, ErrAlreadyPaidOut
		}
		return Payout{}, fmt.Errorf("payout: insert: %w", err)
	}
	p.Status = StatusPending
	return p, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, payoutID string) (Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRow(ctx, query, payoutID))
}

// FindResumable returns the pending payout for the escrow with no transfer
// attached, locked for the transaction.
func (r *Repository) FindResumable(ctx context.Context, tx pgx.Tx, escrowID string) (Payout, error) {
	query := `
SELECT ` + payoutColumns + `
FROM payouts
WHERE escrow_id = $1 AND status = 'pending' AND transfer_id IS NULL
FOR UPDATE
`
	return r.scanOne(tx.QueryRow(ctx, query, escrowID))
}

// AttachTransfer records the accepted transfer and moves the payout in transit.
func (r *Repository) AttachTransfer(ctx context.Context, tx pgx.Tx, payoutID, transferID string) error {
	const updateSQL = `
UPDATE payouts
SET transfer_id = $2,
    status = 'in_transit',
    updated_at = now()
WHERE id = $1
  AND status = 'pending'
  AND (transfer_id IS NULL OR transfer_id = $2)
`
	tag, err := tx.Exec(ctx, updateSQL, payoutID, transferID)
	if err != nil {
		return fmt.Errorf("payout: attach transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout: attach transfer: %w", ErrNotFound)
	}
	return nil
}

// MarkPaid finalizes the payout. Compare-and-set from a live status.
func (r *Repository) MarkPaid(ctx context.Context, tx pgx.Tx, payoutID string, feeCents int64) error {
	const updateSQL = `
UPDATE payouts
SET status = 'paid',
    fee_cents = $2,
    updated_at = now()
WHERE id = $1 AND status IN ('pending', 'in_transit')
`
	tag, err := tx.Exec(ctx, updateSQL, payoutID, feeCents)
	if err != nil {
		return fmt.Errorf("payout: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout: mark paid: %w", ErrNotFound)
	}
	return nil
}

// MarkFailed releases the escrow for a retried payout attempt.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, payoutID string) error {
	const updateSQL = `
UPDATE payouts
SET status = 'failed',
    updated_at = now()
WHERE id = $1 AND status IN ('pending', 'in_transit')
`
	tag, err := tx.Exec(ctx, updateSQL, payoutID)
	if err != nil {
		return fmt.Errorf("payout: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payout: mark failed: %w", ErrNotFound)
	}
	return nil
}

// RefundedTotal sums refunds not known to have failed; the disbursable amount
// is the captured amount minus this. Pending refunds count so that a refund
// settling after the transfer was issued cannot over-disburse the escrow.
func (r *Repository) RefundedTotal(ctx context.Context, tx pgx.Tx, escrowID string) (int64, error) {
	var total int64
	const query = `
SELECT COALESCE(SUM(amount_cents), 0)
FROM refunds
WHERE escrow_id = $1 AND status <> 'failed'
`
	if err := tx.QueryRow(ctx, query, escrowID).Scan(&total); err != nil {
		return 0, fmt.Errorf("payout: refunded total: %w", err)
	}
	return total, nil
}

func (r *Repository) scanOne(row pgx.Row) (Payout, error) {
	var p Payout
	err := row.Scan(&p.ID, &p.EscrowID, &p.DestinationAccountID, &p.AmountCents, &p.FeeCents, &p.Currency, &p.TransferID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, ErrNotFound
		}
		return Payout{}, fmt.Errorf("payout: scan: %w", err)
	}
	return p, nil
}
