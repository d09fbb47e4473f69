package test

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/payout"
	"escrowflow/processor"
	"escrowflow/reconcile"
	"escrowflow/refund"
	"escrowflow/test/actors"
	"escrowflow/test/infra"
)

// setupPool provisions a migrated database: an explicit DSN if given, a
// testcontainers Postgres when Docker is around, a local Postgres otherwise.
// Skips the test when no database can be had.
func setupPool(t *testing.T, ctx context.Context, overrideDSN string) *pgxpool.Pool {
	t.Helper()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)

	switch {
	case overrideDSN != "":
		dsn = overrideDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case dockerAvailable(ctx):
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err = infra.InitLocalDatabase(ctx)
		if err != nil {
			t.Skipf("no database available: %v", err)
		}
		pgC = &infra.PGContainer{}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return pool
}

// newEnv wires the real services against the pool and the given processor.
func newEnv(pool *pgxpool.Pool, proc processor.Client) *actors.Env {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledgerRepo := ledger.NewRepository(pool)
	escrowRepo := escrow.NewRepository()
	escrows := escrow.NewService(pool, escrowRepo, ledgerRepo, proc)
	payouts := payout.NewService(pool, payout.NewRepository(), escrowRepo, ledgerRepo, proc)
	refunds := refund.NewService(pool, refund.NewRepository(), escrowRepo, ledgerRepo, proc)

	guard := reconcile.NewRepository(pool)
	listener := reconcile.NewListener(guard, reconcile.NewDBResolver(pool), escrows, payouts, refunds, log)

	return &actors.Env{
		Pool:     pool,
		Escrows:  escrows,
		Payouts:  payouts,
		Refunds:  refunds,
		Listener: listener,
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
