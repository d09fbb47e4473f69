package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one entry inside the caller's transaction. The entry must be
// written in the same transaction as the state transition it records.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, e Entry) (Entry, error) {
	if e.EscrowID == "" {
		return Entry{}, fmt.Errorf("ledger: missing escrow id")
	}
	if e.AmountCents <= 0 {
		return Entry{}, fmt.Errorf("ledger: non-positive amount %d", e.AmountCents)
	}
	if e.ID == "" {
		e.ID = "le_" + uuid.NewString()
	}

	const insertSQL = `
INSERT INTO ledger_entries (id, escrow_id, entry_type, source_ref, dest_ref, amount_cents, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at
`
	if err := tx.QueryRow(ctx, insertSQL,
		e.ID, e.EscrowID, string(e.Type), e.SourceRef, e.DestRef, e.AmountCents, e.Currency,
	).Scan(&e.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("ledger: append entry: %w", err)
	}

	return e, nil
}

// ListByEscrow returns every entry recorded for the escrow, oldest first.
func (r *Repository) ListByEscrow(ctx context.Context, escrowID string) ([]Entry, error) {
	const query = `
SELECT id, escrow_id, entry_type, source_ref, dest_ref, amount_cents, currency, created_at
FROM ledger_entries
WHERE escrow_id = $1
ORDER BY created_at, id
`
	rows, err := r.pool.Query(ctx, query, escrowID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 8)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.EscrowID, &e.Type, &e.SourceRef, &e.DestRef, &e.AmountCents, &e.Currency, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate: %w", err)
	}
	return out, nil
}

// SumByType totals entry amounts per type for the escrow.
func (r *Repository) SumByType(ctx context.Context, escrowID string) (map[EntryType]int64, error) {
	const query = `
SELECT entry_type, COALESCE(SUM(amount_cents), 0)
FROM ledger_entries
WHERE escrow_id = $1
GROUP BY entry_type
`
	rows, err := r.pool.Query(ctx, query, escrowID)
	if err != nil {
		return nil, fmt.Errorf("ledger: sum by type: %w", err)
	}
	defer rows.Close()

	sums := make(map[EntryType]int64, 5)
	for rows.Next() {
		var (
			t     string
			total int64
		)
		if err := rows.Scan(&t, &total); err != nil {
			return nil, fmt.Errorf("ledger: scan sum: %w", err)
		}
		sums[EntryType(t)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate sums: %w", err)
	}
	return sums, nil
}

// Summary derives the escrow balance view from the ledger alone.
func (r *Repository) Summary(ctx context.Context, escrowID string) (BalanceSummary, error) {
	sums, err := r.SumByType(ctx, escrowID)
	if err != nil {
		return BalanceSummary{}, err
	}

	out := BalanceSummary{
		EscrowID:      escrowID,
		FundedCents:   sums[TypeFund],
		CapturedCents: sums[TypeCapture],
		PaidOutCents:  sums[TypePayout],
		RefundedCents: sums[TypeRefund],
		FeeCents:      sums[TypeFee],
		CalculatedAt:  time.Now().UTC(),
	}
	out.HeldCents = out.FundedCents - out.PaidOutCents - out.RefundedCents
	if out.HeldCents < 0 {
		out.HeldCents = 0
	}
	return out, nil
}
