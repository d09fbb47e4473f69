package refund

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/processor"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the refund data access required by the service.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rf Refund) (Refund, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, refundID string) (Refund, error)
	AttachProcessorRefund(ctx context.Context, tx pgx.Tx, refundID, processorRefundID string) error
	SetStatus(ctx context.Context, tx pgx.Tx, refundID string, to Status) error
	OutstandingTotals(ctx context.Context, tx pgx.Tx, escrowID string) (refunds int64, payouts int64, err error)
	SucceededTotal(ctx context.Context, tx pgx.Tx, escrowID string) (int64, error)
}

// EscrowStore is the slice of the escrow repository the engine drives.
type EscrowStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, escrowID string) (escrow.Escrow, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, escrowID string, from, to escrow.Status) error
}

// LedgerAppender records fund movements in the caller's transaction.
type LedgerAppender interface {
	Append(ctx context.Context, tx pgx.Tx, e ledger.Entry) (ledger.Entry, error)
}

// Service reverses part or all of a funded or captured escrow back to the
// payer.
type Service struct {
	pool      TxBeginner
	repo      Store
	escrows   EscrowStore
	ledger    LedgerAppender
	processor processor.Client
}

func NewService(pool TxBeginner, repo Store, escrows EscrowStore, ledgerRepo LedgerAppender, client processor.Client) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		escrows:   escrows,
		ledger:    ledgerRepo,
		processor: client,
	}
}

// Initiate requests a reversal of amountCents back to the payer. The refund
// amount is capped at funded minus outstanding refunds minus outstanding
// payouts; the pending refund commits before the processor call.
func (s *Service) Initiate(ctx context.Context, escrowID string, amountCents int64, reason string) (Refund, error) {
	if amountCents <= 0 {
		return Refund{}, escrow.ErrInvalidAmount
	}

	rf, intentID, err := s.reservePending(ctx, escrowID, amountCents, reason)
	if err != nil {
		return Refund{}, err
	}

	res, err := s.processor.CreateRefund(ctx, processor.CreateRefundParams{
		PaymentIntentID: intentID,
		AmountCents:     rf.AmountCents,
		IdempotencyKey:  processor.IdempotencyKey("refund", rf.ID),
	})
	if err != nil {
		return Refund{}, fmt.Errorf("refund: issue refund for %s: %w", rf.ID, err)
	}

	if err := s.attachProcessorRefund(ctx, rf.ID, res.RefundID); err != nil {
		return Refund{}, err
	}
	rf.ProcessorRefundID = res.RefundID
	return rf, nil
}

func (s *Service) reservePending(ctx context.Context, escrowID string, amountCents int64, reason string) (Refund, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Refund{}, "", fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.escrows.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Refund{}, "", err
	}
	switch esc.Status {
	case escrow.StatusFunded, escrow.StatusCaptured, escrow.StatusPartiallyRefunded:
		// refundable
	default:
		return Refund{}, "", escrow.ErrInvalidTransition
	}

	refunded, paidOut, err := s.repo.OutstandingTotals(ctx, tx, escrowID)
	if err != nil {
		return Refund{}, "", err
	}
	if amountCents > esc.AmountCents-refunded-paidOut {
		return Refund{}, "", ErrExceedsBalance
	}

	rf, err := s.repo.Insert(ctx, tx, Refund{
		ID:          "rf_" + uuid.NewString(),
		EscrowID:    escrowID,
		AmountCents: amountCents,
		Currency:    esc.Currency,
		Reason:      reason,
	})
	if err != nil {
		return Refund{}, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return Refund{}, "", fmt.Errorf("refund: commit pending: %w", err)
	}
	return rf, esc.PaymentIntentID, nil
}

func (s *Service) attachProcessorRefund(ctx context.Context, refundID, processorRefundID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.AttachProcessorRefund(ctx, tx, refundID, processorRefundID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("refund: commit processor refund: %w", err)
	}
	return nil
}

// Confirm applies the processor's refund outcome. Invoked only by the
// reconciliation listener. Success records the REFUND ledger entry and moves
// the escrow to refunded or partially refunded in the same transaction; a
// replay for a settled refund is a no-op.
func (s *Service) Confirm(ctx context.Context, refundID string, succeeded bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("refund: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rf, err := s.repo.GetForUpdate(ctx, tx, refundID)
	if err != nil {
		return err
	}
	switch rf.Status {
	case StatusSucceeded:
		return nil // idempotent replay
	case StatusFailed:
		if !succeeded {
			return nil
		}
		return escrow.ErrInvalidTransition
	}

	if !succeeded {
		if err := s.repo.SetStatus(ctx, tx, refundID, StatusFailed); err != nil {
			return err
		}
		// no ledger entry, escrow unchanged
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("refund: commit failed refund: %w", err)
		}
		return nil
	}

	esc, err := s.escrows.GetForUpdate(ctx, tx, rf.EscrowID)
	if err != nil {
		return err
	}
	switch esc.Status {
	case escrow.StatusFunded, escrow.StatusCaptured, escrow.StatusPartiallyRefunded:
		// refundable
	default:
		return escrow.ErrInvalidTransition
	}

	if err := s.repo.SetStatus(ctx, tx, refundID, StatusSucceeded); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.Entry{
		EscrowID:    esc.ID,
		Type:        ledger.TypeRefund,
		SourceRef:   esc.ID,
		DestRef:     esc.PaymentIntentID,
		AmountCents: rf.AmountCents,
		Currency:    rf.Currency,
	}); err != nil {
		return err
	}

	total, err := s.repo.SucceededTotal(ctx, tx, rf.EscrowID)
	if err != nil {
		return err
	}
	next := escrow.StatusPartiallyRefunded
	if total >= esc.AmountCents {
		next = escrow.StatusRefunded
	}
	if esc.Status != next {
		if err := s.escrows.UpdateStatus(ctx, tx, esc.ID, esc.Status, next); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("refund: commit succeeded refund: %w", err)
	}
	return nil
}

// ByProcessorRefund resolves a processor refund reference to the local record.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func ByProcessorRefund(ctx context.Context, q Querier, processorRefundID string) (Refund, error) {
	if processorRefundID == "" {
		return Refund{}, ErrNotFound
	}
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE processor_refund_id = $1`
	var rf Refund
	err := q.QueryRow(ctx, query, processorRefundID).
		Scan(&rf.ID, &rf.EscrowID, &rf.ProcessorRefundID, &rf.AmountCents, &rf.Currency, &rf.Reason, &rf.Status, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Refund{}, ErrNotFound
		}
		return Refund{}, fmt.Errorf("refund: by processor refund: %w", err)
	}
	return rf, nil
}
