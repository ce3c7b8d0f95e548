package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the central registry of runtime metrics.
//
// Tracked dimensions:
//   - LLM dispatch attempts, latency, and token consumption per model
//   - Tool invocations and latency per tool
//   - Active research loops and session status transitions
//   - Events dropped by slow channel subscribers
//   - Credit ledger operations
type Metrics struct {
	// LLMAttempts counts dispatch attempts.
	// Labels: model, status (success|transport|rate_limit|parse|schema|decode|refusal)
	LLMAttempts *prometheus.CounterVec

	// LLMDuration measures LLM call latency in seconds. Labels: model.
	LLMDuration *prometheus.HistogramVec

	// LLMTokens tracks token consumption. Labels: model, type (prompt|completion).
	LLMTokens *prometheus.CounterVec

	// ToolInvocations counts tool calls. Labels: tool, status (success|error).
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// ActiveLoops is the number of research loops currently running.
	ActiveLoops prometheus.Gauge

	// StatusTransitions counts session state-machine edges.
	// Labels: from, to.
	StatusTransitions *prometheus.CounterVec

	// DroppedEvents counts outbound events dropped due to subscriber
	// back-pressure. Labels: event_type.
	DroppedEvents *prometheus.CounterVec

	// CreditOps counts ledger operations. Labels: op (reserve|commit|refund), status.
	CreditOps *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_llm_attempts_total",
			Help: "LLM dispatch attempts by model and outcome.",
		}, []string{"model", "status"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "researchd_llm_duration_seconds",
			Help:    "LLM call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		LLMTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_llm_tokens_total",
			Help: "Token consumption by model and type.",
		}, []string{"model", "type"}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_tool_invocations_total",
			Help: "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "researchd_tool_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"tool"}),
		ActiveLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "researchd_active_loops",
			Help: "Research loops currently running.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_status_transitions_total",
			Help: "Session state-machine transitions.",
		}, []string{"from", "to"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_dropped_events_total",
			Help: "Outbound events dropped due to slow subscribers.",
		}, []string{"event_type"}),
		CreditOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "researchd_credit_ops_total",
			Help: "Credit ledger operations by kind and outcome.",
		}, []string{"op", "status"}),
	}

	reg.MustRegister(
		m.LLMAttempts, m.LLMDuration, m.LLMTokens,
		m.ToolInvocations, m.ToolDuration,
		m.ActiveLoops, m.StatusTransitions,
		m.DroppedEvents, m.CreditOps,
	)
	return m
}

// NewTestMetrics returns metrics on a private registry, for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
