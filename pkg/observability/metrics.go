// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and HTTP middleware for monitoring the vibe service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// RunBuckets covers whole agent runs, from a few seconds to 30 minutes.
var RunBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}

var (
	// RequestsTotal counts HTTP requests by method, route pattern, and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// RunsTotal counts finished workflow run attempts by function and outcome
	// (completed, failed, retried).
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_runs_total",
			Help: "Workflow runs",
		},
		[]string{"function", "outcome"},
	)

	// RunDuration records wall-clock duration of run attempts.
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_run_duration_seconds",
			Help:    "Run duration",
			Buckets: RunBuckets,
		},
		[]string{"function"},
	)

	// ActiveRuns tracks runs currently executing on a worker.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibe_runs_active",
			Help: "Active runs",
		},
	)

	// RunResultsTotal counts persisted assistant messages by type (RESULT, ERROR).
	RunResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_run_results_total",
			Help: "Persisted run results",
		},
		[]string{"type"},
	)

	// StepExecutionsTotal counts durable steps by name and outcome
	// (executed, replayed, failed).
	StepExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_step_executions_total",
			Help: "Durable step executions",
		},
		[]string{"step", "outcome"},
	)

	// StepDuration records the execution time of non-replayed steps.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_step_duration_seconds",
			Help:    "Step duration",
			Buckets: LLMBuckets,
		},
		[]string{"step"},
	)

	// NetworkIterations records how many iterations an agent network used.
	NetworkIterations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_network_iterations",
			Help:    "Agent network iterations per run",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		[]string{"network", "status"},
	)

	// ProviderRequestsTotal counts requests sent to LLM providers.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records provider latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"tool_name", "status"},
	)

	// SandboxOperationsTotal counts sandbox client calls by operation and outcome.
	SandboxOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_sandbox_operations_total",
			Help: "Sandbox operations",
		},
		[]string{"operation", "status"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RunsTotal,
		RunDuration,
		ActiveRuns,
		RunResultsTotal,
		StepExecutionsTotal,
		StepDuration,
		NetworkIterations,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		ToolExecutionsTotal,
		SandboxOperationsTotal,
		RateLimitRejectedTotal,
	)
}

// RecordProviderCall records one model inference.
func RecordProviderCall(provider, model string, d time.Duration, inputTokens, outputTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProviderRequestsTotal.WithLabelValues(provider, model, status).Inc()
	ProviderLatency.WithLabelValues(provider, model).Observe(d.Seconds())
	if err != nil {
		return
	}
	ProviderTokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	ProviderTokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// OutcomeLabel maps an error to the "ok"/"error" label used by operation counters.
func OutcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
