// Package metrics exposes Prometheus collectors for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results.
const (
	ResultSynced   = "synced"
	ResultDeferred = "deferred"
	ResultFailed   = "failed"
)

var (
	// OperationsProcessed counts outbox operations handled by drains,
	// by result and entity type.
	OperationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_operations_processed_total",
		Help: "Total number of outbox operations processed by the sync engine",
	}, []string{"result", "entity_type"})

	// DrainDuration measures full drain passes.
	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offsync_drain_duration_seconds",
		Help:    "Duration of outbox drains in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// OutboxBacklog is the number of queued or in-flight operations after
	// the last drain.
	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_outbox_backlog",
		Help: "Current number of queued or in-flight outbox operations",
	})

	// CoalescedTriggers counts drain requests folded into a running drain.
	CoalescedTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offsync_drain_coalesced_total",
		Help: "Total number of drain triggers coalesced into an in-flight drain",
	})

	// MutationOutcomes counts entity service mutations by outcome
	// (applied, queued, rejected).
	MutationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_mutation_outcomes_total",
		Help: "Total number of entity mutations by outcome",
	}, []string{"outcome", "entity_type"})

	// AttachmentIngests counts attachment pipeline runs by result
	// (stored, dropped, error).
	AttachmentIngests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_attachment_ingests_total",
		Help: "Total number of attachment ingestions by result",
	}, []string{"result", "kind"})

	// ConnectivityTransitions counts settled reachability transitions.
	ConnectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_connectivity_transitions_total",
		Help: "Total number of settled connectivity transitions",
	}, []string{"state"})

	// Reachable is 1 while the remote service is believed reachable.
	Reachable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_reachable",
		Help: "Current reachability (1 reachable, 0 unreachable)",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
