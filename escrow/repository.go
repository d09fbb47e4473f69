package escrow

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

const escrowColumns = `id, milestone_id, amount_cents, currency, COALESCE(payment_intent_id, ''), status::text, created_at, updated_at`

// Insert persists a new pending escrow. The partial unique index on
// milestone_id (active statuses only) enforces the one-active-escrow
// invariant at the storage layer.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e Escrow) (Escrow, error) {
	const insertSQL = `
INSERT INTO escrows (id, milestone_id, amount_cents, currency, status)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING created_at, updated_at
`
	if err := tx.QueryRow(ctx, insertSQL, e.ID, e.MilestoneID, e.AmountCents, e.Currency).
		Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Escrow{}, ErrDuplicateEscrow
		}
		return Escrow{}, fmt.Errorf("escrow: insert: %w", err)
	}
	e.Status = StatusPending
	return e, nil
}

// GetForUpdate locks the escrow row for the remainder of the transaction so
// concurrent transitions on the same escrow serialize.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, escrowID string) (Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRow(ctx, query, escrowID))
}

// FindResumable returns the pending escrow for the milestone that has no
// payment intent attached yet, locking it so only one creator resumes it.
func (r *Repository) FindResumable(ctx context.Context, tx pgx.Tx, milestoneID string) (Escrow, error) {
	query := `
SELECT ` + escrowColumns + `
FROM escrows
WHERE milestone_id = $1 AND status = 'pending' AND payment_intent_id IS NULL
FOR UPDATE
`
	return r.scanOne(tx.QueryRow(ctx, query, milestoneID))
}

// AttachPaymentIntent records the processor's intent id on a pending escrow.
func (r *Repository) AttachPaymentIntent(ctx context.Context, tx pgx.Tx, escrowID, intentID string) error {
	const updateSQL = `
UPDATE escrows
SET payment_intent_id = $2,
    updated_at = now()
WHERE id = $1
  AND status = 'pending'
  AND (payment_intent_id IS NULL OR payment_intent_id = $2)
`
	tag, err := tx.Exec(ctx, updateSQL, escrowID, intentID)
	if err != nil {
		return fmt.Errorf("escrow: attach payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateStatus applies a compare-and-set transition. Zero rows affected means
// the precondition no longer holds.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, escrowID string, from, to Status) error {
	const updateSQL = `
UPDATE escrows
SET status = $3::escrow_status,
    updated_at = now()
WHERE id = $1 AND status = $2::escrow_status
`
	tag, err := tx.Exec(ctx, updateSQL, escrowID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("escrow: update status %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (Escrow, error) {
	var e Escrow
	err := row.Scan(&e.ID, &e.MilestoneID, &e.AmountCents, &e.Currency, &e.PaymentIntentID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: scan: %w", err)
	}
	return e, nil
}
