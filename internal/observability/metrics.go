package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Turn outcomes (completed, max_turns, protocol_error)
//   - LLM request performance and token consumption
//   - Tool execution counts, outcomes, and latencies
//   - Policy decisions by tool and verdict
//   - Session event appends and event store latency
//   - Artifact store operations
//
// All metrics live on a private registry so tests can create as many Metrics
// values as they like without double-registration panics. Expose the registry
// with Registry() when serving a /metrics endpoint.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("run_diagnostic", "success", time.Since(start).Seconds())
type Metrics struct {
	registry *prometheus.Registry

	// TurnCounter counts orchestrator turns by outcome.
	// Labels: outcome (completed|max_turns|protocol_error|error)
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks estimated token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations. Outcome is "success" or
	// the stable error code of the failure (validation_error, policy_block,
	// timeout, tool_exception, unknown_tool, cancelled, backend_error).
	// Labels: tool, outcome
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// PolicyDecisionCounter counts policy verdicts.
	// Labels: tool, decision (allowed|blocked|confirmation_required)
	PolicyDecisionCounter *prometheus.CounterVec

	// EventAppendCounter counts session events appended to the event store.
	// Labels: event_type
	EventAppendCounter *prometheus.CounterVec

	// StoreOperationDuration measures event store operation latency.
	// Labels: operation (append|read|create|delete)
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	StoreOperationDuration *prometheus.HistogramVec

	// ArtifactOperationCounter counts artifact store operations.
	// Labels: operation (store|get|delete), status (success|error)
	ArtifactOperationCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (orchestrator|llm|tool|session|policy), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates all Prometheus collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_turns_total",
				Help: "Total number of orchestrator turns by outcome",
			},
			[]string{"outcome"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsbench_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_llm_tokens_total",
				Help: "Estimated number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_tool_executions_total",
				Help: "Total number of tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsbench_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		PolicyDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_policy_decisions_total",
				Help: "Total number of policy decisions by tool and verdict",
			},
			[]string{"tool", "decision"},
		),

		EventAppendCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_session_events_total",
				Help: "Total number of session events appended by event type",
			},
			[]string{"event_type"},
		),

		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsbench_store_operation_duration_seconds",
				Help:    "Duration of event store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		ArtifactOperationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_artifact_operations_total",
				Help: "Total number of artifact store operations",
			},
			[]string{"operation", "status"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsbench_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// Registry returns the registry all collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTurn increments the turn counter for a given outcome.
func (m *Metrics) RecordTurn(outcome string) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records metrics for one LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... stream completion ...
//	metrics.RecordLLMRequest("openai", "gpt-4o", "success", time.Since(start).Seconds(), 1200, 300)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for one tool execution. Outcome is
// "success" or the failure's stable error code.
func (m *Metrics) RecordToolExecution(tool, outcome string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(tool, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordPolicyDecision increments the policy decision counter.
func (m *Metrics) RecordPolicyDecision(tool, decision string) {
	m.PolicyDecisionCounter.WithLabelValues(tool, decision).Inc()
}

// RecordEventAppend increments the session event counter.
func (m *Metrics) RecordEventAppend(eventType string) {
	m.EventAppendCounter.WithLabelValues(eventType).Inc()
}

// ObserveStoreOperation records event store latency for one operation.
func (m *Metrics) ObserveStoreOperation(operation string, durationSeconds float64) {
	m.StoreOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordArtifactOperation increments the artifact operation counter.
func (m *Metrics) RecordArtifactOperation(operation, status string) {
	m.ArtifactOperationCounter.WithLabelValues(operation, status).Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("llm", "stream_failed")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
