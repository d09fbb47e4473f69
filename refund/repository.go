package refund

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const refundColumns = `id, escrow_id, COALESCE(processor_refund_id, ''), amount_cents, currency, reason, status::text, created_at, updated_at`

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rf Refund) (Refund, error) {
	const insertSQL = `
INSERT INTO refunds (id, escrow_id, amount_cents, currency, reason, status)
VALUES ($1, $2, $3, $4, $5, 'pending')
RETURNING created_at, updated_at
`
	if err := tx.QueryRow(ctx, insertSQL, rf.ID, rf.EscrowID, rf.AmountCents, rf.Currency, rf.Reason).
		Scan(&rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return Refund{}, fmt.Errorf("refund: insert: %w", err)
	}
	rf.Status = StatusPending
	return rf, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, refundID string) (Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRow(ctx, query, refundID))
}

// AttachProcessorRefund records the processor-issued refund reference.
func (r *Repository) AttachProcessorRefund(ctx context.Context, tx pgx.Tx, refundID, processorRefundID string) error {
	const updateSQL = `
UPDATE refunds
SET processor_refund_id = $2,
    updated_at = now()
WHERE id = $1
  AND status = 'pending'
  AND (processor_refund_id IS NULL OR processor_refund_id = $2)
`
	tag, err := tx.Exec(ctx, updateSQL, refundID, processorRefundID)
	if err != nil {
		return fmt.Errorf("refund: attach processor refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund: attach processor refund: %w", ErrNotFound)
	}
	return nil
}

// SetStatus applies a compare-and-set from pending.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, refundID string, to Status) error {
	const updateSQL = `
UPDATE refunds
SET status = $2::refund_status,
    updated_at = now()
WHERE id = $1 AND status = 'pending'
`
	tag, err := tx.Exec(ctx, updateSQL, refundID, string(to))
	if err != nil {
		return fmt.Errorf("refund: set status %s: %w", to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refund: set status %s: %w", to, ErrNotFound)
	}
	return nil
}

// OutstandingTotals sums, for the escrow, all non-failed refunds and all
// non-failed payouts. Counting in-flight rows keeps the refundable balance
// conservative under concurrent initiations.
func (r *Repository) OutstandingTotals(ctx context.Context, tx pgx.Tx, escrowID string) (refunds int64, payouts int64, err error) {
	const query = `
SELECT
    (SELECT COALESCE(SUM(amount_cents), 0) FROM refunds WHERE escrow_id = $1 AND status <> 'failed'),
    (SELECT COALESCE(SUM(amount_cents), 0) FROM payouts WHERE escrow_id = $1 AND status <> 'failed')
`
	if err := tx.QueryRow(ctx, query, escrowID).Scan(&refunds, &payouts); err != nil {
		return 0, 0, fmt.Errorf("refund: outstanding totals: %w", err)
	}
	return refunds, payouts, nil
}

// SucceededTotal sums succeeded refunds, used to decide full versus partial
// refund of the escrow.
func (r *Repository) SucceededTotal(ctx context.Context, tx pgx.Tx, escrowID string) (int64, error) {
	var total int64
	const query = `
SELECT COALESCE(SUM(amount_cents), 0)
FROM refunds
WHERE escrow_id = $1 AND status = 'succeeded'
`
	if err := tx.QueryRow(ctx, query, escrowID).Scan(&total); err != nil {
		return 0, fmt.Errorf("refund: succeeded total: %w", err)
	}
	return total, nil
}

func (r *Repository) scanOne(row pgx.Row) (Refund, error) {
	var rf Refund
	err := row.Scan(&rf.ID, &rf.EscrowID, &rf.ProcessorRefundID, &rf.AmountCents, &rf.Currency, &rf.Reason, &rf.Status, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Refund{}, ErrNotFound
		}
		return Refund{}, fmt.Errorf("refund: scan: %w", err)
	}
	return rf, nil
}
