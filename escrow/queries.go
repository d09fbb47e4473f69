package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryService serves read-only lookups outside any transaction.
type QueryService struct {
	pool *pgxpool.Pool
}

func NewQueryService(pool *pgxpool.Pool) *QueryService {
	return &QueryService{pool: pool}
}

func (q *QueryService) Get(ctx context.Context, escrowID string) (Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE id = $1`
	return q.scan(ctx, query, escrowID)
}

// ByMilestone returns the current active escrow for a milestone.
func (q *QueryService) ByMilestone(ctx context.Context, milestoneID string) (Escrow, error) {
	query := `
SELECT ` + escrowColumns + `
FROM escrows
WHERE milestone_id = $1 AND status NOT IN ('cancelled', 'refunded')
`
	return q.scan(ctx, query, milestoneID)
}

// ByPaymentIntent resolves the processor's intent reference to the local
// escrow; the reconciliation listener matches funding confirmations with it.
func (q *QueryService) ByPaymentIntent(ctx context.Context, intentID string) (Escrow, error) {
	if intentID == "" {
		return Escrow{}, ErrNotFound
	}
	query := `SELECT ` + escrowColumns + ` FROM escrows WHERE payment_intent_id = $1`
	return q.scan(ctx, query, intentID)
}

func (q *QueryService) scan(ctx context.Context, query string, arg any) (Escrow, error) {
	var e Escrow
	err := q.pool.QueryRow(ctx, query, arg).
		Scan(&e.ID, &e.MilestoneID, &e.AmountCents, &e.Currency, &e.PaymentIntentID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrNotFound
		}
		return Escrow{}, fmt.Errorf("escrow: query: %w", err)
	}
	return e, nil
}
