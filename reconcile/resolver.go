package reconcile

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
	"escrowflow/payout"
	"escrowflow/refund"
)

// DBResolver matches processor references against the stored processor-id
// columns.
type DBResolver struct {
	pool    *pgxpool.Pool
	escrows *escrow.QueryService
}

func NewDBResolver(pool *pgxpool.Pool) *DBResolver {
	return &DBResolver{
		pool:    pool,
		escrows: escrow.NewQueryService(pool),
	}
}

func (r *DBResolver) EscrowByIntent(ctx context.Context, intentID string) (escrow.Escrow, error) {
	return r.escrows.ByPaymentIntent(ctx, intentID)
}

func (r *DBResolver) PayoutByTransfer(ctx context.Context, transferID string) (payout.Payout, error) {
	return payout.ByTransfer(ctx, r.pool, transferID)
}

func (r *DBResolver) RefundByProcessorRef(ctx context.Context, processorRefundID string) (refund.Refund, error) {
	return refund.ByProcessorRefund(ctx, r.pool, processorRefundID)
}
