package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestMetricsRegistered verifies that all metrics are registered in the
// default registry without panicking.
func TestMetricsRegistered(t *testing.T) {
	RequestsTotal.WithLabelValues("GET", "GET /healthz", "2xx").Inc()
	RequestDuration.WithLabelValues("GET", "GET /healthz").Observe(0.1)
	RunsTotal.WithLabelValues("code-agent", "completed").Inc()
	RunDuration.WithLabelValues("code-agent").Observe(12)
	RunResultsTotal.WithLabelValues("RESULT").Inc()
	StepExecutionsTotal.WithLabelValues("terminal", "executed").Inc()
	StepDuration.WithLabelValues("terminal").Observe(0.2)
	NetworkIterations.WithLabelValues("coding-agent-network", "done").Observe(3)
	RecordProviderCall("openai", "gpt-4.1", 100*time.Millisecond, 10, 5, nil)
	ToolExecutionsTotal.WithLabelValues("terminal", "ok").Inc()
	SandboxOperationsTotal.WithLabelValues("run_command", "ok").Inc()
	RateLimitRejectedTotal.WithLabelValues("default").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}

	expected := map[string]bool{
		"vibe_requests_total":           false,
		"vibe_request_duration_seconds": false,
		"vibe_runs_total":               false,
		"vibe_run_duration_seconds":     false,
		"vibe_runs_active":              false,
		"vibe_run_results_total":        false,
		"vibe_step_executions_total":    false,
		"vibe_step_duration_seconds":    false,
		"vibe_network_iterations":       false,
		"vibe_provider_requests_total":  false,
		"vibe_provider_latency_seconds": false,
		"vibe_provider_tokens_total":    false,
		"vibe_tool_executions_total":    false,
		"vibe_sandbox_operations_total": false,
		"vibe_ratelimit_rejected_total": false,
	}
	for _, mf := range families {
		if _, ok := expected[mf.GetName()]; ok {
			expected[mf.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not found in default registry", name)
		}
	}
}

func TestRecordProviderCallError(t *testing.T) {
	before := counterValue(t, ProviderRequestsTotal, "anthropic", "m", "error")
	tokensBefore := counterValue(t, ProviderTokensTotal, "anthropic", "m", "input")

	RecordProviderCall("anthropic", "m", time.Second, 100, 100, errors.New("boom"))

	if got := counterValue(t, ProviderRequestsTotal, "anthropic", "m", "error") - before; got != 1 {
		t.Errorf("error count delta = %f, want 1", got)
	}
	if got := counterValue(t, ProviderTokensTotal, "anthropic", "m", "input") - tokensBefore; got != 0 {
		t.Errorf("tokens should not be counted on error, delta = %f", got)
	}
}

// TestMiddlewareRecordsRequestCount verifies that the middleware increments
// the request counter for each served request.
func TestMiddlewareRecordsRequestCount(t *testing.T) {
	// Get baseline count.
	before := counterValue(t, RequestsTotal, "GET", "GET /v1/projects/{id}", "2xx")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := MetricsMiddleware(mux)

	req := httptest.NewRequest("GET", "/v1/projects/proj_123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	after := counterValue(t, RequestsTotal, "GET", "GET /v1/projects/{id}", "2xx")
	if after-before != 1 {
		t.Errorf("expected request count to increase by 1, got delta=%f", after-before)
	}
}

// TestMiddlewareRecordsDuration verifies that the middleware records
// a positive request duration observation.
func TestMiddlewareRecordsDuration(t *testing.T) {
	before := histogramCount(t, RequestDuration, "POST", "unmatched")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/v1/projects", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	after := histogramCount(t, RequestDuration, "POST", "unmatched")
	if after-before != 1 {
		t.Errorf("expected histogram sample count to increase by 1, got delta=%d", after-before)
	}
}

// TestMiddlewareCapturesStatusCode verifies that non-200 status codes are
// captured correctly in the status label.
func TestMiddlewareCapturesStatusCode(t *testing.T) {
	before := counterValue(t, RequestsTotal, "POST", "unmatched", "4xx")

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	req := httptest.NewRequest("POST", "/v1/projects", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	after := counterValue(t, RequestsTotal, "POST", "unmatched", "4xx")
	if after-before != 1 {
		t.Errorf("expected 4xx count to increase by 1, got delta=%f", after-before)
	}
}

// TestStatusWriterFlush verifies that the statusWriter Flush method
// delegates to the underlying writer when it implements http.Flusher.
func TestStatusWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}

	// Should not panic even though it delegates to a Flusher.
	sw.Flush()

	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
}

// counterValue reads the current value of a CounterVec for the given labels.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := cv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting counter metric: %v", err)
	}
	if err := c.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// histogramCount reads the observation count from a HistogramVec.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	obs, err := hv.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("getting histogram metric: %v", err)
	}
	if err := obs.(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("writing histogram metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}
