package payout

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

// Store defines the payout data access required by the service.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, p Payout) (Payout, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, payoutID string) (Payout, error)
	FindResumable(ctx context.Context, tx pgx.Tx, escrowID string) (Payout, error)
	AttachTransfer(ctx context.Context, tx pgx.Tx, payoutID, transferID string) error
	MarkPaid(ctx context.Context, tx pgx.Tx, payoutID string, feeCents int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, payoutID string) error
	RefundedTotal(ctx context.Context, tx pgx.Tx, escrowID string) (int64, error)
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

// Service transfers captured funds to the payee's external account and tracks
// transfer status.
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

// Initiate creates a payout for the escrow's disbursable amount (captured
// minus refunds not known to have failed) and issues the transfer. The pending payout
// commits before the processor call; the transfer id attaches in a second
// transaction. The idempotency token derives from the escrow id, so a retry
// after any failure cannot double-transfer.
func (s *Service) Initiate(ctx context.Context, escrowID, destinationAccountID string) (Payout, error) {
	if escrowID == "" || destinationAccountID == "" {
		return Payout{}, fmt.Errorf("payout: escrow id and destination account required")
	}

	p, err := s.reservePending(ctx, escrowID, destinationAccountID)
	if err != nil {
		return Payout{}, err
	}
	return s.issueTransfer(ctx, p)
}

// Resume re-drives the transfer for a payout whose outbound call failed. Safe
// to call repeatedly: the idempotency token is unchanged.
func (s *Service) Resume(ctx context.Context, escrowID string) (Payout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("payout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.FindResumable(ctx, tx, escrowID)
	if err != nil {
		return Payout{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("payout: commit resume: %w", err)
	}
	return s.issueTransfer(ctx, p)
}

func (s *Service) reservePending(ctx context.Context, escrowID, destinationAccountID string) (Payout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("payout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	esc, err := s.escrows.GetForUpdate(ctx, tx, escrowID)
	if err != nil {
		return Payout{}, err
	}
	switch esc.Status {
	case escrow.StatusCaptured, escrow.StatusPartiallyRefunded:
		// disbursable
	case escrow.StatusReleased:
		return Payout{}, ErrAlreadyPaidOut
	default:
		return Payout{}, escrow.ErrInvalidTransition
	}

	refunded, err := s.repo.RefundedTotal(ctx, tx, escrowID)
	if err != nil {
		return Payout{}, err
	}
	amount := esc.AmountCents - refunded
	if amount <= 0 {
		return Payout{}, escrow.ErrInvalidTransition
	}

	p, err := s.repo.Insert(ctx, tx, Payout{
		ID:                   "po_" + uuid.NewString(),
		EscrowID:             escrowID,
		DestinationAccountID: destinationAccountID,
		AmountCents:          amount,
		Currency:             esc.Currency,
	})
	if err != nil {
		return Payout{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("payout: commit pending: %w", err)
	}
	return p, nil
}

func (s *Service) issueTransfer(ctx context.Context, p Payout) (Payout, error) {
	transfer, err := s.processor.CreateTransfer(ctx, processor.CreateTransferParams{
		DestinationAccountID: p.DestinationAccountID,
		AmountCents:          p.AmountCents,
		Currency:             p.Currency,
		IdempotencyKey:       processor.IdempotencyKey("payout", p.EscrowID),
	})
	if err != nil {
		return Payout{}, fmt.Errorf("payout: issue transfer for %s: %w", p.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payout{}, fmt.Errorf("payout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.AttachTransfer(ctx, tx, p.ID, transfer.TransferID); err != nil {
		return Payout{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Payout{}, fmt.Errorf("payout: commit transfer: %w", err)
	}

	p.TransferID = transfer.TransferID
	p.Status = StatusInTransit
	return p, nil
}

// Confirm applies the processor's transfer outcome. Invoked only by the
// reconciliation listener. A repeated confirmation for a settled payout is a
// no-op; success moves the escrow to released and records the PAYOUT (and
// FEE) ledger entries in the same transaction.
func (s *Service) Confirm(ctx context.Context, payoutID, transferID string, succeeded bool, feeCents int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payout: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	if p.TransferID != "" && transferID != "" && p.TransferID != transferID {
		return ErrTransferMismatch
	}
	switch p.Status {
	case StatusPaid:
		return nil // idempotent replay
	case StatusFailed:
		if !succeeded {
			return nil
		}
		return escrow.ErrInvalidTransition
	}

	if !succeeded {
		if err := s.repo.MarkFailed(ctx, tx, payoutID); err != nil {
			return err
		}
		// escrow stays captured; the payout is retryable
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("payout: commit failed payout: %w", err)
		}
		return nil
	}

	esc, err := s.escrows.GetForUpdate(ctx, tx, p.EscrowID)
	if err != nil {
		return err
	}
	if esc.Status != escrow.StatusCaptured && esc.Status != escrow.StatusPartiallyRefunded {
		return escrow.ErrInvalidTransition
	}
	if feeCents < 0 || feeCents > p.AmountCents {
		return fmt.Errorf("payout: fee %d out of range for %s", feeCents, payoutID)
	}

	if err := s.repo.MarkPaid(ctx, tx, payoutID, feeCents); err != nil {
		return err
	}
	if err := s.escrows.UpdateStatus(ctx, tx, esc.ID, esc.Status, escrow.StatusReleased); err != nil {
		return err
	}
	if _, err := s.ledger.Append(ctx, tx, ledger.Entry{
		EscrowID:    esc.ID,
		Type:        ledger.TypePayout,
		SourceRef:   esc.ID,
		DestRef:     p.DestinationAccountID,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
	}); err != nil {
		return err
	}
	if feeCents > 0 {
		if _, err := s.ledger.Append(ctx, tx, ledger.Entry{
			EscrowID:    esc.ID,
			Type:        ledger.TypeFee,
			SourceRef:   p.ID,
			DestRef:     "processor",
			AmountCents: feeCents,
			Currency:    p.Currency,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payout: commit paid: %w", err)
	}
	return nil
}

// ByTransfer resolves a processor transfer reference to the local payout.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func ByTransfer(ctx context.Context, q Querier, transferID string) (Payout, error) {
	if transferID == "" {
		return Payout{}, ErrNotFound
	}
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE transfer_id = $1`
	var p Payout
	err := q.QueryRow(ctx, query, transferID).
		Scan(&p.ID, &p.EscrowID, &p.DestinationAccountID, &p.AmountCents, &p.FeeCents, &p.Currency, &p.TransferID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payout{}, ErrNotFound
		}
		return Payout{}, fmt.Errorf("payout: by transfer: %w", err)
	}
	return p, nil
}
