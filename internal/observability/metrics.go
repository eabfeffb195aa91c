package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process meters. Serve mode exposes them on /metrics; run
// mode registers them too so a scrape sidecar works either way.
type Metrics struct {
	// LLMRequests counts completions by provider, model, and outcome.
	LLMRequests *prometheus.CounterVec

	// LLMRequestDuration measures completion latency in seconds.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokens counts prompt and completion tokens.
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool dispatches by tool and outcome.
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	ToolDuration *prometheus.HistogramVec

	// QueueDepth tracks buffered events per consumer.
	QueueDepth *prometheus.GaugeVec

	// QueueDropped counts consumers detached for falling behind.
	QueueDropped prometheus.Counter

	// ActiveSessions tracks sessions with a live loop.
	ActiveSessions prometheus.Gauge
}

// NewMetrics builds and registers the meters. Pass a fresh registry in
// tests; prometheus.DefaultRegisterer in the binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_llm_requests_total",
			Help: "LLM completion requests by provider, model, and outcome.",
		}, []string{"provider", "model", "outcome"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_llm_request_duration_seconds",
			Help:    "LLM completion latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_llm_tokens_total",
			Help: "Tokens consumed by provider, model, and kind (prompt|completion).",
		}, []string{"provider", "model", "kind"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tool_executions_total",
			Help: "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_tool_duration_seconds",
			Help:    "Tool execution time in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conductor_event_queue_depth",
			Help: "Buffered events per queue consumer.",
		}, []string{"consumer"}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_event_consumers_detached_total",
			Help: "Event consumers detached for falling behind or failing.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_active_sessions",
			Help: "Sessions with a running loop.",
		}),
	}
	reg.MustRegister(
		m.LLMRequests, m.LLMRequestDuration, m.LLMTokens,
		m.ToolExecutions, m.ToolDuration,
		m.QueueDepth, m.QueueDropped, m.ActiveSessions,
	)
	return m
}

// ObserveLLMRequest records one completion attempt.
func (m *Metrics) ObserveLLMRequest(provider, model, outcome string, promptTokens, completionTokens int, latency time.Duration) {
	m.LLMRequests.WithLabelValues(provider, model, outcome).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(latency.Seconds())
	m.LLMTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	m.LLMTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// ObserveTool records one tool dispatch.
func (m *Metrics) ObserveTool(tool, outcome string, duration time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
