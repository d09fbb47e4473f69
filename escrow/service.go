package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/ledger"
	"escrowflow/processor"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the service.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, e Escrow) (Escrow, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, escrowID string) (Escrow, error)
	FindResumable(ctx context.Context, tx pgx.Tx, milestoneID string) (Escrow, error)
	AttachPaymentIntent(ctx context.Context, tx pgx.Tx, escrowID, intentID string) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, escrowID string, from, to Status) error
}

// LedgerAppender records fund movements in the caller's transaction.
type LedgerAppender interface {
	Append(ctx context.Context, tx pgx.Tx, e ledger.Entry) (ledger.Entry, error)
}

// Service owns the escrow lifecycle: creation, funding confirmation, capture,
// cancellation. Status transitions and their ledger entries commit as one
// transaction; outbound processor calls happen outside any transaction.
type Service struct {
	pool      TxBeginner
	repo      Store
	ledger    LedgerAppender
	processor processor.Client
}

func NewService(pool TxBeginner, repo Store, ledgerRepo LedgerAppender, client processor.Client) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{
		pool:      pool,
		repo:      repo,
		ledger:    ledgerRepo,
		processor: client,
	}
}

// Create registers a funding request. The pending escrow commits before the
// processor call; the intent id is attached in a second transaction. A
// processor failure leaves the escrow pending without an intent, and a
// retried Create for the same milestone resumes it under the same
// idempotency key instead of failing duplicate.
func (s *Service) Create(ctx context.Context, params CreateParams) (Escrow, error) {
	if params.AmountCents <= 0 {
		return Escrow{}, ErrInvalidAmount
	}
	if params.MilestoneID == "" {
		return Escrow{}, fmt.Errorf("escrow: missing milestone id")
	}
	if params.Currency == "" {
		return Escrow{}, fmt.Errorf("escrow: missing currency")
	}

	esc, err := s.reservePending(ctx, params)
	if err != nil {
		return Escrow{}, err
	}

	intent, err := s.processor.CreateIntent(ctx, processor.CreateIntentParams{
		AmountCents:      esc.AmountCents,
		Currency:         esc.Currency,
		PaymentMethodRef: params.PaymentMethodRef,
		IdempotencyKey:   processor.IdempotencyKey("intent", esc.ID),
	})
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: register funding for %s: %w", esc.ID, err)
	}

	if err := s.attachIntent(ctx, esc.ID, intent.IntentID); err != nil {
		return Escrow{}, err
	}
	esc.PaymentIntentID = intent.IntentID
	return esc, nil
}

func (s *Service) reservePending(ctx context.Context, params CreateParams) (Escrow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Escrow{}, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.repo.FindResumable(ctx, tx, params.MilestoneID)
	switch {
	case err == nil:
		if esc.AmountCents != params.AmountCents || esc.Currency != params.Currency {
			return Escrow{}, ErrDuplicateEscrow
		}
	case errors.Is(err, ErrNotFound):
		esc, err = s.repo.Insert(ctx, tx, Escrow{
			ID:          "esc_" + uuid.NewString(),
			MilestoneID: params.MilestoneID,
			AmountCents: params.AmountCents,
			Currency:    params.Currency,
		})
		if err != nil {
			return Escrow{}, err
		}
	default:
		return Escrow{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Escrow{}, fmt.Errorf("escrow: commit pending: %w", err)
	}
	return esc, nil
}

func (s *Service) attachIntent(ctx context.Context, escrowID, intentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.AttachPaymentIntent(ctx, tx, escrowID, intentID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit intent: %w", err)
	}
	return nil
}

// ConfirmFunded applies the processor's funding confirmation. Invoked only by
// the reconciliation listener. Valid only from pending; a mismatched intent
// id never mutates state.
func (s *Service) ConfirmFunded(ctx context.Context, escrowID, intentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if esc.PaymentIntentID == "" || esc.PaymentIntentID != intentID {
		return ErrIntentMismatch
	}
	if esc.Status != StatusPending {
		return ErrInvalidTransition
	}

	if err := s.repo.UpdateStatus(ctx, tx, escrowID, StatusPending, StatusFunded); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.Entry{
		EscrowID:    esc.ID,
		Type:        ledger.TypeFund,
		SourceRef:   esc.PaymentIntentID,
		DestRef:     esc.ID,
		AmountCents: esc.AmountCents,
		Currency:    esc.Currency,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit funded: %w", err)
	}
	return nil
}

// Cancel abandons an escrow that was never funded. No ledger entry: no funds
// moved.
func (s *Service) Cancel(ctx context.Context, escrowID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if esc.Status != StatusPending {
		return ErrInvalidTransition
	}
	if err := s.repo.UpdateStatus(ctx, tx, escrowID, StatusPending, StatusCancelled); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit cancel: %w", err)
	}
	return nil
}

// Capture converts the funding hold into captured funds, the precondition for
// payout.
func (s *Service) Capture(ctx context.Context, escrowID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.repo.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return err
	}
	if esc.Status != StatusFunded {
		return ErrInvalidTransition
	}

	if err := s.repo.UpdateStatus(ctx, tx, escrowID, StatusFunded, StatusCaptured); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.Entry{
		EscrowID:    esc.ID,
		Type:        ledger.TypeCapture,
		SourceRef:   esc.ID,
		DestRef:     esc.ID,
		AmountCents: esc.AmountCents,
		Currency:    esc.Currency,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("escrow: commit capture: %w", err)
	}
	return nil
}
