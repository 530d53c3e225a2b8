package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workspace Prometheus collectors. Each instance owns its
// registry, so several workspaces can live in one process. All methods are
// safe on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Backend metrics
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Buffer metrics
	BuffersOpen prometheus.Gauge
	Saves       *prometheus.CounterVec

	// Job metrics
	JobsSubmitted *prometheus.CounterVec

	// Assistant metrics
	AssistantRequests  *prometheus.CounterVec
	CommandExecutions  *prometheus.CounterVec
	ParseDegradations  prometheus.Counter
	TerminalLines      *prometheus.CounterVec
	StatusHTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a metrics collector with a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		BackendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_backend_calls_total",
				Help: "Total number of backend calls",
			},
			[]string{"endpoint", "status"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zcraft_backend_call_duration_seconds",
				Help:    "Backend call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zcraft_backend_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_cache_lookups_total",
				Help: "Member content lookups by result",
			},
			[]string{"result"},
		),
		BuffersOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zcraft_buffers_open",
				Help: "Number of open buffers",
			},
		),
		Saves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_buffer_saves_total",
				Help: "Buffer saves by outcome",
			},
			[]string{"outcome"},
		),
		JobsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_jobs_submitted_total",
				Help: "Job submissions by outcome",
			},
			[]string{"outcome"},
		),
		AssistantRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_assistant_requests_total",
				Help: "Assistant requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		CommandExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_command_executions_total",
				Help: "Proposed command executions by outcome",
			},
			[]string{"outcome"},
		),
		ParseDegradations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zcraft_reply_parse_degradations_total",
				Help: "Assistant replies whose structured content could not be decoded",
			},
		),
		TerminalLines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_terminal_lines_total",
				Help: "Terminal channel lines by direction",
			},
			[]string{"direction"},
		),
		StatusHTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zcraft_status_http_requests_total",
				Help: "Requests served by the local status server",
			},
			[]string{"path", "status"},
		),
	}
}

// RecordBackendCall records one backend round trip.
func (m *Metrics) RecordBackendCall(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(endpoint, status).Inc()
	m.BackendDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetBreakerState records a breaker transition.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCacheHit records a content lookup served from memory.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a content lookup that went remote.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// SetBuffersOpen sets the open buffer gauge.
func (m *Metrics) SetBuffersOpen(n int) {
	if m == nil {
		return
	}
	m.BuffersOpen.Set(float64(n))
}

// RecordSave records a save outcome ("saved" or "error").
func (m *Metrics) RecordSave(outcome string) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(outcome).Inc()
}

// RecordJobSubmission records a submission outcome.
func (m *Metrics) RecordJobSubmission(outcome string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(outcome).Inc()
}

// RecordAssistantRequest records an assistant round trip.
func (m *Metrics) RecordAssistantRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.AssistantRequests.WithLabelValues(mode, outcome).Inc()
}

// RecordCommandExecution records a command execution outcome.
func (m *Metrics) RecordCommandExecution(outcome string) {
	if m == nil {
		return
	}
	m.CommandExecutions.WithLabelValues(outcome).Inc()
}

// RecordParseDegradation records a reply whose proposals were dropped.
func (m *Metrics) RecordParseDegradation() {
	if m == nil {
		return
	}
	m.ParseDegradations.Inc()
}

// RecordTerminalLine records a terminal line ("in" or "out").
func (m *Metrics) RecordTerminalLine(direction string) {
	if m == nil {
		return
	}
	m.TerminalLines.WithLabelValues(direction).Inc()
}

// Timer measures one backend call.
type Timer struct {
	start    time.Time
	metrics  *Metrics
	endpoint string
}

// NewTimer starts timing a call to endpoint.
func NewTimer(metrics *Metrics, endpoint string) *Timer {
	return &Timer{
		start:    time.Now(),
		metrics:  metrics,
		endpoint: endpoint,
	}
}

// Stop records the call with the given status label.
func (t *Timer) Stop(status string) {
	t.metrics.RecordBackendCall(t.endpoint, status, time.Since(t.start))
}
