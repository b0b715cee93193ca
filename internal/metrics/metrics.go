package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Counters
	EditsFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edits_fetched_total",
			Help: "Edit records returned by the feed",
		},
		[]string{"source"},
	)

	EditsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edits_filtered_total",
			Help: "Edits dropped before classification (bots, namespace)",
		},
		[]string{"reason"},
	)

	FeedFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_failures_total",
			Help: "Feed fetches that degraded to zero records",
		},
		[]string{"source"},
	)

	RevertsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reverts_classified_total",
			Help: "Edits classified as reverts",
		},
		[]string{"vandalism"},
	)

	EventsPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_persisted_total",
			Help: "Revert events newly written to the store",
		},
	)

	CasesDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_detected_total",
			Help: "Edit war cases detected per run",
		},
		[]string{"kind"},
	)

	CasesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_published_total",
			Help: "Cases or events delivered to a downstream sink",
		},
		[]string{"sink"},
	)

	PublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_errors_total",
			Help: "Downstream sink failures after retries",
		},
		[]string{"sink"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	BreakerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Calls rejected by an open circuit breaker",
		},
		[]string{"breaker"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Requests served in serve mode",
		},
		[]string{"endpoint", "status"},
	)

	// Gauges
	StoredEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stored_revert_events",
			Help: "Non-vandalism revert events in the latest detection snapshot",
		},
	)

	OpenCases = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "open_cases",
			Help: "Cases in the latest report",
		},
		[]string{"kind"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	LastRunTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "last_run_timestamp_seconds",
			Help: "Unix time of the last successful run",
		},
		[]string{"mode"},
	)

	// Histograms
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Duration of a pipeline run",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode"},
	)

	FeedFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_fetch_duration_seconds",
			Help:    "Duration of a feed fetch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	initOnce sync.Once
)

// collectors lists every metric with its registry name.
func collectors() map[string]prometheus.Collector {
	return map[string]prometheus.Collector{
		"edits_fetched_total":              EditsFetchedTotal,
		"edits_filtered_total":             EditsFilteredTotal,
		"feed_failures_total":              FeedFailuresTotal,
		"reverts_classified_total":         RevertsClassifiedTotal,
		"events_persisted_total":           EventsPersistedTotal,
		"cases_detected_total":             CasesDetectedTotal,
		"cases_published_total":            CasesPublishedTotal,
		"publish_errors_total":             PublishErrorsTotal,
		"pipeline_runs_total":              RunsTotal,
		"circuit_breaker_rejections_total": BreakerRejectionsTotal,
		"http_requests_total":              HTTPRequestsTotal,
		"stored_revert_events":             StoredEvents,
		"open_cases":                       OpenCases,
		"circuit_breaker_state":            BreakerState,
		"last_run_timestamp_seconds":       LastRunTimestamp,
		"pipeline_run_duration_seconds":    RunDuration,
		"feed_fetch_duration_seconds":      FeedFetchDuration,
	}
}

// InitMetrics registers all metrics with the default Prometheus registry.
// Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		for _, c := range collectors() {
			prometheus.MustRegister(c)
		}
	})
}
