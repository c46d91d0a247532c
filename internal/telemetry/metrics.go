package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the pipeline's Prometheus instruments. Every stage
// of request handling reports through one of these so /metrics exposes
// the full funnel: gate decisions, limiter verdicts, routing, retrieval
// and generation.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	RateLimited      prometheus.Counter
	AccountsLocked   prometheus.Counter
	DevicesBound     prometheus.Counter
	Fallbacks        *prometheus.CounterVec
	IngestedChunks   *prometheus.CounterVec
	RetrievedPerHit  prometheus.Histogram
	KeywordSearches  prometheus.Counter
	ScheduledScrapes *prometheus.CounterVec
}

// NewMetrics registers all instruments on reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_requests_total",
			Help: "Assist requests by routed intent and terminal status.",
		}, []string{"intent", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_request_duration_seconds",
			Help:    "End to end assist latency by routed intent.",
			Buckets: prometheus.DefBuckets,
		}, []string{"intent"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_stage_failures_total",
			Help: "Pipeline stage failures by stage and error kind.",
		}, []string{"stage", "error"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_rate_limited_total",
			Help: "Requests rejected by the sliding window limiter.",
		}),
		AccountsLocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_accounts_locked_total",
			Help: "Accounts locked for exceeding their device cap.",
		}),
		DevicesBound: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_devices_bound_total",
			Help: "New device fingerprints registered to accounts.",
		}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_generation_fallbacks_total",
			Help: "Generations served by the fallback adapter.",
		}, []string{"from", "to"}),
		IngestedChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_ingested_chunks_total",
			Help: "Chunks produced by ingestion, by disposition.",
		}, []string{"disposition"}),
		RetrievedPerHit: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prism_retrieved_passages",
			Help:    "Passages returned per retrieval.",
			Buckets: []float64{0, 1, 2, 3, 5, 8},
		}),
		KeywordSearches: factory.NewCounter(prometheus.CounterOpts{
			Name: "prism_keyword_searches_total",
			Help: "Keyword index searches served.",
		}),
		ScheduledScrapes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_scheduled_scrapes_total",
			Help: "Scheduler-triggered source refreshes by outcome.",
		}, []string{"outcome"}),
	}
}
