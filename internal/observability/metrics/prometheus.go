// Package metrics provides Prometheus metrics for the anchoring service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated prometheus.Counter
	ValidationFailures   prometheus.Counter
	CreateFailures       prometheus.Counter
	AnchorsSubmitted     prometheus.Counter
	AnchorsConfirmed     prometheus.Counter
	AnchorsFailed        prometheus.Counter
	AnchorLatency        prometheus.Histogram
	OutboxPending        prometheus.Gauge
	AuditEventsIndexed   prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescription records created",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_validation_failures_total",
			Help: "Total submissions rejected by input validation",
		}),
		CreateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescription_create_failures_total",
			Help: "Total submissions failed at the persistence layer",
		}),
		AnchorsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchors_submitted_total",
			Help: "Total ledger anchoring submissions attempted",
		}),
		AnchorsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchors_confirmed_total",
			Help: "Total anchoring submissions recorded on the prescription",
		}),
		AnchorsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anchors_failed_total",
			Help: "Total anchoring attempts that left the record unanchored",
		}),
		AnchorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "anchor_submission_duration_seconds",
			Help:    "Ledger submission duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending audit outbox entries",
		}),
		AuditEventsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_indexed_total",
			Help: "Total audit events indexed from the audit stream",
		}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.ValidationFailures,
		m.CreateFailures,
		m.AnchorsSubmitted,
		m.AnchorsConfirmed,
		m.AnchorsFailed,
		m.AnchorLatency,
		m.OutboxPending,
		m.AuditEventsIndexed,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
