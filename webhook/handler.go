package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"escrowflow/metrics"
	"escrowflow/reconcile"
)

const maxBodyBytes = 64 << 10

// Applier consumes normalized processor confirmations.
type Applier interface {
	Apply(ctx context.Context, ev reconcile.Event) error
}

// Handler terminates the processor's webhook deliveries: verify, decode,
// dispatch, acknowledge. Replays and quarantined events still acknowledge so
// the processor stops redelivering them.
type Handler struct {
	listener Applier
	secret   []byte
	log      *slog.Logger
}

func NewHandler(listener Applier, secret []byte, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{listener: listener, secret: secret, log: log}
}

type eventPayload struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Ref         string    `json:"ref"`
	AmountCents int64     `json:"amount_cents"`
	FeeCents    int64     `json:"fee_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (h *Handler) processorEvent(w http.ResponseWriter, r *http.Request) {
	metrics.WebhookRequestsTotal.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.WebhookRejectedTotal.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if err := VerifySignature(r.Header.Get(SignatureHeader), body, h.secret); err != nil {
		metrics.WebhookRejectedTotal.Inc()
		h.log.Warn("webhook signature rejected", "err", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return
	}

	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookRejectedTotal.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	started := time.Now()
	err = h.listener.Apply(r.Context(), reconcile.Event{
		DeliveryID:  payload.ID,
		Type:        reconcile.EventType(payload.Type),
		Ref:         payload.Ref,
		AmountCents: payload.AmountCents,
		FeeCents:    payload.FeeCents,
		OccurredAt:  payload.OccurredAt,
	})
	metrics.EventApplyDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, reconcile.ErrUnreconcilable):
		// acknowledged: the event is quarantined, redelivery will not help
		writeJSON(w, http.StatusOK, map[string]string{"status": "quarantined"})
	default:
		h.log.Error("webhook apply failed", "delivery_id", payload.ID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "retry later"})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
