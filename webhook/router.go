package webhook

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/reconcile"
)

// NewRouter wires the inbound surface: the processor webhook, read-only
// escrow/ledger lookups, the manual-review queue, and ops endpoints.
func NewRouter(h *Handler, escrows *escrow.QueryService, ledgerRepo *ledger.Repository, review *reconcile.ReviewService) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/processor", h.processorEvent)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/escrows/{escrowID}", func(w http.ResponseWriter, req *http.Request) {
			esc, err := escrows.Get(req.Context(), chi.URLParam(req, "escrowID"))
			if err != nil {
				writeLookupError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, esc)
		})
		r.Get("/escrows/{escrowID}/ledger", func(w http.ResponseWriter, req *http.Request) {
			entries, err := ledgerRepo.ListByEscrow(req.Context(), chi.URLParam(req, "escrowID"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})
		r.Get("/escrows/{escrowID}/balance", func(w http.ResponseWriter, req *http.Request) {
			summary, err := ledgerRepo.Summary(req.Context(), chi.URLParam(req, "escrowID"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
				return
			}
			writeJSON(w, http.StatusOK, summary)
		})
		r.Get("/milestones/{milestoneID}/escrow", func(w http.ResponseWriter, req *http.Request) {
			esc, err := escrows.ByMilestone(req.Context(), chi.URLParam(req, "milestoneID"))
			if err != nil {
				writeLookupError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, esc)
		})

		r.Get("/reconcile/unreconciled", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			rows, err := review.List(req.Context(), limit)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
				return
			}
			writeJSON(w, http.StatusOK, rows)
		})
		r.Post("/reconcile/unreconciled/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
				return
			}
			row, err := review.Resolve(req.Context(), id)
			switch {
			case err == nil:
				writeJSON(w, http.StatusOK, row)
			case errors.Is(err, reconcile.ErrReviewNotFound):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			case errors.Is(err, reconcile.ErrReviewClosed):
				writeJSON(w, http.StatusConflict, map[string]string{"error": "already resolved"})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolve failed"})
			}
		})
	})

	return r
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, escrow.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
}
