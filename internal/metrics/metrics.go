// Package metrics holds the Prometheus collectors of the import pipeline.
// Collectors register with the default registry; the admin API serves them
// at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Import runs
	ImportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkedevents_import_runs_total",
			Help: "Total number of import runs by outcome",
		},
		[]string{"importer", "status"}, // "succeeded", "failed"
	)

	ImportRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkedevents_import_run_duration_seconds",
			Help:    "Duration of import runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"importer"},
	)

	// Reconciliation outcomes
	EntitiesReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkedevents_entities_reconciled_total",
			Help: "Entities processed by import runs by kind and outcome",
		},
		[]string{"importer", "kind", "outcome"}, // outcome: "created", "changed", "unchanged", "deleted"
	)

	PlaceReplacements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkedevents_place_replacements_total",
			Help: "Deleted places with events by replacement outcome",
		},
		[]string{"outcome"}, // "replaced", "unresolved"
	)

	// Feed fetching
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkedevents_fetch_requests_total",
			Help: "Feed HTTP requests by outcome",
		},
		[]string{"source", "outcome"}, // "success", "retry", "failure", "rejected"
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkedevents_fetch_duration_seconds",
			Help:    "Duration of feed fetches including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkedevents_circuit_breaker_state",
			Help: "Feed circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	ArchivedPayloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkedevents_archived_payloads_total",
			Help: "Raw feed payloads written to the archive by outcome",
		},
		[]string{"source", "outcome"}, // "success", "failure"
	)
)

// RecordRun records the outcome of a finished import run.
func RecordRun(importer, status string, seconds float64) {
	ImportRuns.WithLabelValues(importer, status).Inc()
	ImportRunDuration.WithLabelValues(importer).Observe(seconds)
}

// RecordEntities adds the per-outcome counts of one syncher session.
func RecordEntities(importer, kind string, created, changed, unchanged, deleted int) {
	for outcome, n := range map[string]int{
		"created":   created,
		"changed":   changed,
		"unchanged": unchanged,
		"deleted":   deleted,
	} {
		if n > 0 {
			EntitiesReconciled.WithLabelValues(importer, kind, outcome).Add(float64(n))
		}
	}
}
