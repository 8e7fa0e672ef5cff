// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intellect"

var registry = prometheus.NewRegistry()

var (
	// NewsCache counts news lookups by result: hit or miss.
	NewsCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_cache_lookups_total",
			Help:      "News cache lookups by result",
		},
		[]string{"result"},
	)

	// NewsFailures counts news API calls that degraded to an empty list.
	NewsFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news_failures_total",
			Help:      "News API calls that returned no usable payload",
		},
		[]string{"reason"},
	)

	// Transcriptions counts speech strategy outcomes.
	Transcriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// Queries counts processed queries by outcome.
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Processed queries by outcome",
		},
		[]string{"outcome"},
	)

	// QueryDuration observes end-to-end answer latency.
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time from query submission to composed answer",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// PersistFailures counts conversation records that could not be stored.
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Conversation records that failed to persist",
		},
	)
)

func init() {
	registry.MustRegister(NewsCache, NewsFailures, Transcriptions, Queries, QueryDuration, PersistFailures)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
