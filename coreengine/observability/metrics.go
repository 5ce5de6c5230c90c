// Package observability provides Prometheus metrics instrumentation for the
// orchestration layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PIPELINE METRICS
// =============================================================================

var (
	pipelineOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_pipeline_operations_total",
			Help: "Total number of pipeline stage operations",
		},
		[]string{"operation", "status"}, // status: success, error, rejected
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cowrite_pipeline_duration_seconds",
			Help:    "Pipeline stage operation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)
)

// =============================================================================
// AGENT METRICS
// =============================================================================

var (
	agentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_agent_runs_total",
			Help: "Total number of agent runs",
		},
		[]string{"agent", "status"}, // status: success, error
	)

	agentDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cowrite_agent_duration_seconds",
			Help:    "Agent run duration in seconds, retries included",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)

	agentAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_agent_attempts_total",
			Help: "Total number of model attempts made by agents",
		},
		[]string{"agent", "outcome"}, // outcome: accepted, model_error or a failure kind
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_llm_calls_total",
			Help: "Total number of model provider calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cowrite_llm_duration_seconds",
			Help:    "Model provider call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	circuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_llm_circuit_transitions_total",
			Help: "Circuit breaker state transitions per provider",
		},
		[]string{"provider", "state"}, // state: open, half-open, closed
	)
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_session_transitions_total",
			Help: "Writing session stage writes",
		},
		[]string{"stage"},
	)

	lockViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_lock_violations_total",
			Help: "Rejected attempts to regenerate a locked artifact",
		},
		[]string{"artifact"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cowrite_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cowrite_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPipelineOperation records one pipeline stage operation.
func RecordPipelineOperation(operation string, status string, durationMS int) {
	pipelineOperationsTotal.WithLabelValues(operation, status).Inc()
	pipelineDurationSeconds.WithLabelValues(operation).Observe(float64(durationMS) / 1000.0)
}

// RecordAgentRun records a finished agent run, retries included.
func RecordAgentRun(agent string, status string, durationMS int) {
	agentRunsTotal.WithLabelValues(agent, status).Inc()
	agentDurationSeconds.WithLabelValues(agent).Observe(float64(durationMS) / 1000.0)
}

// RecordAgentAttempt records the outcome of a single model attempt.
func RecordAgentAttempt(agent string, outcome string) {
	agentAttemptsTotal.WithLabelValues(agent, outcome).Inc()
}

// RecordLLMCall records a model provider call.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordCircuitTransition records a circuit breaker state change.
func RecordCircuitTransition(provider string, state string) {
	circuitTransitionsTotal.WithLabelValues(provider, state).Inc()
}

// RecordSessionTransition records a stage write.
func RecordSessionTransition(stage string) {
	sessionTransitionsTotal.WithLabelValues(stage).Inc()
}

// RecordLockViolation records a rejected regeneration of a locked artifact.
func RecordLockViolation(artifact string) {
	lockViolationsTotal.WithLabelValues(artifact).Inc()
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
