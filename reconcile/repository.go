package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUnreconcilable classifies an event that cannot be matched to local
	// state; the row is persisted for manual review, never silently dropped.
	ErrUnreconcilable = errors.New("reconcile: unreconcilable event")
	// ErrReviewNotFound is returned when no unreconciled row exists for the id.
	ErrReviewNotFound = errors.New("reconcile: unreconciled event not found")
	// ErrReviewClosed signals the row was already resolved.
	ErrReviewClosed = errors.New("reconcile: unreconciled event already resolved")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Seen reports whether the delivery id was already applied.
func (r *Repository) Seen(ctx context.Context, deliveryID string) (bool, error) {
	var seen bool
	const query = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE delivery_id = $1)`
	if err := r.pool.QueryRow(ctx, query, deliveryID).Scan(&seen); err != nil {
		return false, fmt.Errorf("reconcile: check delivery: %w", err)
	}
	return seen, nil
}

// MarkSeen records the delivery id after the transition committed. The engine
// status guards stay authoritative; this table is a fast-path filter for
// at-least-once redelivery.
func (r *Repository) MarkSeen(ctx context.Context, deliveryID string) error {
	const insertSQL = `
INSERT INTO processed_events (delivery_id)
VALUES ($1)
ON CONFLICT (delivery_id) DO NOTHING
`
	if _, err := r.pool.Exec(ctx, insertSQL, deliveryID); err != nil {
		return fmt.Errorf("reconcile: mark delivery: %w", err)
	}
	return nil
}

// InsertUnreconciled persists an event for manual inspection.
func (r *Repository) InsertUnreconciled(ctx context.Context, ev Event, reason string) error {
	const insertSQL = `
INSERT INTO unreconciled_events (delivery_id, event_type, ref, amount_cents, fee_cents, reason)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (delivery_id) DO NOTHING
`
	if _, err := r.pool.Exec(ctx, insertSQL, ev.DeliveryID, string(ev.Type), ev.Ref, ev.AmountCents, ev.FeeCents, reason); err != nil {
		return fmt.Errorf("reconcile: insert unreconciled: %w", err)
	}
	return nil
}

const unreconciledColumns = `id, delivery_id, event_type, ref, amount_cents, fee_cents, reason, status::text, created_at, resolved_at`

// ListUnreconciled returns open rows, oldest first.
func (r *Repository) ListUnreconciled(ctx context.Context, limit int) ([]UnreconciledEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
SELECT ` + unreconciledColumns + `
FROM unreconciled_events
WHERE status = 'open'
ORDER BY created_at
LIMIT $1
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list unreconciled: %w", err)
	}
	defer rows.Close()

	out := make([]UnreconciledEvent, 0, limit)
	for rows.Next() {
		var u UnreconciledEvent
		if err := rows.Scan(&u.ID, &u.DeliveryID, &u.EventType, &u.Ref, &u.AmountCents, &u.FeeCents, &u.Reason, &u.Status, &u.CreatedAt, &u.ResolvedAt); err != nil {
			return nil, fmt.Errorf("reconcile: scan unreconciled: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: iterate unreconciled: %w", err)
	}
	return out, nil
}

// ResolveUnreconciled closes a row after manual handling.
func (r *Repository) ResolveUnreconciled(ctx context.Context, id int64) (UnreconciledEvent, error) {
	query := `
UPDATE unreconciled_events
SET status = 'resolved',
    resolved_at = now()
WHERE id = $1 AND status = 'open'
RETURNING ` + unreconciledColumns

	var u UnreconciledEvent
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&u.ID, &u.DeliveryID, &u.EventType, &u.Ref, &u.AmountCents, &u.FeeCents, &u.Reason, &u.Status, &u.CreatedAt, &u.ResolvedAt)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return UnreconciledEvent{}, fmt.Errorf("reconcile: resolve unreconciled: %w", err)
	}

	const check = `SELECT status::text FROM unreconciled_events WHERE id = $1`
	var status UnreconciledStatus
	if err := r.pool.QueryRow(ctx, check, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UnreconciledEvent{}, ErrReviewNotFound
		}
		return UnreconciledEvent{}, fmt.Errorf("reconcile: resolve fetch: %w", err)
	}
	if status == UnreconciledResolved {
		return UnreconciledEvent{}, ErrReviewClosed
	}
	return UnreconciledEvent{}, ErrReviewNotFound
}
