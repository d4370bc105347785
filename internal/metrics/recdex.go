package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Retrieval, ranking and ingestion metrics.
var (
	RecommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recdex",
			Name:      "recommendations_total",
			Help:      "Recommendation requests by outcome",
		},
		[]string{"outcome"}, // ok / no_results / index_unavailable / error
	)

	RecommendationCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recdex",
			Name:      "recommendation_candidates",
			Help:      "Candidates returned by the vector index per query",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	MetadataDefaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recdex",
			Name:      "metadata_defaults_total",
			Help:      "Stored fields that were missing or malformed and replaced with defaults",
		},
		[]string{"field"},
	)

	IndexQueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recdex",
			Name:      "index_query_duration_seconds",
			Help:      "Vector index KNN query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	IndexBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "recdex",
			Name:      "index_breaker_state",
			Help:      "Vector index circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"collection"},
	)

	IngestItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recdex",
			Name:      "ingest_items_total",
			Help:      "Items processed by ingestion runs",
		},
		[]string{"result"}, // upserted / deleted / rejected
	)

	IngestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recdex",
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by status",
		},
		[]string{"status"},
	)
)

var registerServiceOnce sync.Once

// RegisterServiceMetrics registers retrieval and ingestion metrics. Safe to call more than once.
func RegisterServiceMetrics() {
	registerServiceOnce.Do(func() {
		prometheus.MustRegister(
			RecommendationsTotal,
			RecommendationCandidates,
			MetadataDefaultsTotal,
			IndexQueryDuration,
			IndexBreakerState,
			IngestItemsTotal,
			IngestRunsTotal,
		)
	})
}
