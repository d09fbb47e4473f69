package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the settlement core.
var (
	EventsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_events_applied_total",
			Help: "Total number of processor confirmations applied to local state",
		},
	)

	EventsReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_events_replayed_total",
			Help: "Total number of duplicate or already-terminal confirmations acknowledged as no-ops",
		},
	)

	EventsUnreconcilableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_events_unreconcilable_total",
			Help: "Total number of confirmations persisted for manual review",
		},
	)

	WebhookRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of processor webhook deliveries received",
		},
	)

	WebhookRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_rejected_total",
			Help: "Total number of webhook deliveries rejected before dispatch (bad signature or body)",
		},
	)

	EventApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_event_apply_duration_seconds",
			Help:    "Duration of applying one processor confirmation",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the default registry.
func Register() {
	prometheus.MustRegister(EventsAppliedTotal)
	prometheus.MustRegister(EventsReplayedTotal)
	prometheus.MustRegister(EventsUnreconcilableTotal)
	prometheus.MustRegister(WebhookRequestsTotal)
	prometheus.MustRegister(WebhookRejectedTotal)
	prometheus.MustRegister(EventApplyDuration)
}
