package escrow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the storage-layer guarantees the service relies on: the
// one-active-escrow unique index, compare-and-set transitions, and the
// append-only ledger trigger.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "escrows") || !tableExists(ctx, t, pool, "ledger_entries") {
		t.Skip("database schema missing; apply the files under migrations/ first")
	}

	repo := NewRepository()
	milestoneID := fmt.Sprintf("mil-itest-%d", time.Now().UnixNano())
	escrowID := fmt.Sprintf("esc-itest-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_, _ = pool.Exec(ctx2, `DELETE FROM escrows WHERE milestone_id = $1`, milestoneID)
	})

	// insert
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	esc, err := repo.Insert(ctx, tx, Escrow{ID: escrowID, MilestoneID: milestoneID, AmountCents: 10000, Currency: "USD"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit insert: %v", err)
	}
	if esc.Status != StatusPending {
		t.Fatalf("expected pending, got %s", esc.Status)
	}

	// second active escrow on the milestone hits the partial unique index
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = repo.Insert(ctx, tx, Escrow{ID: escrowID + "-dup", MilestoneID: milestoneID, AmountCents: 5000, Currency: "USD"})
	if !errors.Is(err, ErrDuplicateEscrow) {
		t.Fatalf("expected ErrDuplicateEscrow, got %v", err)
	}
	_ = tx.Rollback(ctx)

	// compare-and-set transition: wrong precondition fails, right one applies once
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.UpdateStatus(ctx, tx, escrowID, StatusFunded, StatusCaptured); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from wrong precondition, got %v", err)
	}
	if err := repo.UpdateStatus(ctx, tx, escrowID, StatusPending, StatusFunded); err != nil {
		t.Fatalf("pending->funded: %v", err)
	}
	if err := repo.UpdateStatus(ctx, tx, escrowID, StatusPending, StatusFunded); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on replayed transition, got %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit transition: %v", err)
	}

	// the ledger rejects mutation at the storage layer
	if _, err := pool.Exec(ctx, `
INSERT INTO ledger_entries (id, escrow_id, entry_type, source_ref, dest_ref, amount_cents, currency)
VALUES ($1, $2, 'fund', 'pi_itest', $2, 10000, 'USD')`, "le-itest-"+escrowID, escrowID); err != nil {
		t.Fatalf("insert ledger entry: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE ledger_entries SET amount_cents = 1 WHERE id = $1`, "le-itest-"+escrowID); err == nil {
		t.Fatalf("expected append-only trigger to reject UPDATE")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM ledger_entries WHERE id = $1`, "le-itest-"+escrowID); err == nil {
		t.Fatalf("expected append-only trigger to reject DELETE")
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
