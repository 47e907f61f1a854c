package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthScore is the score of the latest audit per tenant.
	HealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "janitor_health_score",
		Help: "Health score (0-100) of the most recent audit",
	}, []string{"tenant"})

	// RunsTotal counts audit, wizard, fix and preflight runs by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_runs_total",
		Help: "Total number of janitor runs by kind and outcome",
	}, []string{"kind", "outcome"})

	// RunDuration tracks how long runs take.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "janitor_run_duration_seconds",
		Help:    "Duration of janitor runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// RunsRejected counts triggers refused because a run was in flight or rate limited.
	RunsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_runs_rejected_total",
		Help: "Run triggers rejected by reason",
	}, []string{"kind", "reason"})

	FixesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_fixes_total",
		Help: "Remediations applied by action and outcome",
	}, []string{"action", "outcome"})

	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_reviews_total",
		Help: "Code review decisions",
	}, []string{"decision"})

	BackupsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "janitor_backups_deleted_total",
		Help: "Backups removed by retention sweeps and explicit deletes",
	})

	// WebsocketClients tracks connected notification subscribers.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "janitor_ws_clients",
		Help: "Connected websocket notification clients",
	})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome",
	}, []string{"outcome"})
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

func OutcomeOf(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
