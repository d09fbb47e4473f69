package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/metrics"
	"escrowflow/payout"
	"escrowflow/processor"
	"escrowflow/reconcile"
	"escrowflow/refund"
	"escrowflow/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Error("bootstrap database pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	client := processor.NewHTTPClient(
		os.Getenv("PROCESSOR_URL"),
		os.Getenv("PROCESSOR_API_KEY"),
		10*time.Second,
	)

	ledgerRepo := ledger.NewRepository(pool)
	escrowRepo := escrow.NewRepository()

	escrowSvc := escrow.NewService(pool, escrowRepo, ledgerRepo, client)
	payoutSvc := payout.NewService(pool, payout.NewRepository(), escrowRepo, ledgerRepo, client)
	refundSvc := refund.NewService(pool, refund.NewRepository(), escrowRepo, ledgerRepo, client)

	guard := reconcile.NewRepository(pool)
	listener := reconcile.NewListener(guard, reconcile.NewDBResolver(pool), escrowSvc, payoutSvc, refundSvc, log)

	metrics.Register()

	secret := []byte(os.Getenv("WEBHOOK_SECRET"))
	if len(secret) == 0 {
		log.Error("WEBHOOK_SECRET is required")
		os.Exit(1)
	}

	handler := webhook.NewHandler(listener, secret, log)
	router := webhook.NewRouter(handler, escrow.NewQueryService(pool), ledgerRepo, reconcile.NewReviewService(guard))

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("escrow settlement core listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Error("serve", "err", err)
		os.Exit(1)
	}
}
