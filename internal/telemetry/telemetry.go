// Package telemetry exposes Prometheus metrics for the harvesting service.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_workflows_total",
			Help: "Total workflows executed, labeled by terminal status.",
		},
		[]string{"status"},
	)

	workflowDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_workflow_stage_duration_seconds",
			Help:    "Duration of workflow stages.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_fetches_total",
			Help: "Fetch task outcomes, labeled by status.",
		},
		[]string{"status"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_fetch_bytes_total",
			Help: "Total body bytes fetched (after truncation).",
		},
	)

	fetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_fetch_retries_total",
			Help: "Total fetch retry attempts.",
		},
	)

	politenessWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_politeness_wait_seconds",
			Help:    "Delay imposed by the politeness guard before a fetch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	cacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_cache_events_total",
			Help: "Response cache events, labeled by kind (hit, miss, eviction, error).",
		},
		[]string{"kind"},
	)

	stageOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_pipeline_stage_outcomes_total",
			Help: "Pipeline stage outcomes, labeled by stage and status.",
		},
		[]string{"stage", "status"},
	)

	aiCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_ai_calls_total",
			Help: "AI capability calls, labeled by operation and result.",
		},
		[]string{"operation", "result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_http_requests_total",
			Help: "HTTP API requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_http_request_duration_seconds",
			Help:    "HTTP API request latency, labeled by route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 300},
		},
		[]string{"route"},
	)
)

// CountWorkflow records a finished workflow.
func CountWorkflow(status string) {
	workflowsTotal.WithLabelValues(status).Inc()
}

// ObserveStageDuration records how long a workflow stage ran.
func ObserveStageDuration(stage string, d time.Duration) {
	workflowDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// CountFetch records a fetch task outcome.
func CountFetch(status string) {
	fetchesTotal.WithLabelValues(status).Inc()
}

// AddFetchBytes accumulates fetched body size.
func AddFetchBytes(n int) {
	fetchBytesTotal.Add(float64(n))
}

// CountFetchRetry records one retry attempt.
func CountFetchRetry() {
	fetchRetriesTotal.Inc()
}

// ObservePolitenessWait records a guard-imposed delay.
func ObservePolitenessWait(d time.Duration) {
	politenessWaitSeconds.Observe(d.Seconds())
}

// CountCacheEvent records a response cache event.
func CountCacheEvent(kind string) {
	cacheEventsTotal.WithLabelValues(kind).Inc()
}

// CountStageOutcome records one (stage, status) pipeline outcome.
func CountStageOutcome(stage, status string) {
	stageOutcomesTotal.WithLabelValues(stage, status).Inc()
}

// CountAICall records one AI capability call result.
func CountAICall(operation, result string) {
	aiCallsTotal.WithLabelValues(operation, result).Inc()
}

// CountHTTPRequest records one API request.
func CountHTTPRequest(method, code string) {
	httpRequestsTotal.WithLabelValues(method, code).Inc()
}

// ObserveHTTPDuration records API request latency for a route.
func ObserveHTTPDuration(route string, d time.Duration) {
	httpRequestDurationSeconds.WithLabelValues(route).Observe(d.Seconds())
}
