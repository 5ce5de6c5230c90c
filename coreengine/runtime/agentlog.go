package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
)

// Agent log statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AgentLog is the append-only record written for every Run.
type AgentLog struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Agent     string         `json:"agent"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	LatencyMS int            `json:"latency_ms"`
	Status    string         `json:"status"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
}

// LogSink persists agent logs.
type LogSink interface {
	RecordAgentLog(ctx context.Context, log AgentLog) error
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(ctx context.Context, log AgentLog) error

// RecordAgentLog implements LogSink.
func (f LogSinkFunc) RecordAgentLog(ctx context.Context, log AgentLog) error {
	return f(ctx, log)
}

// emit writes the agent log. Sink failures are logged and never fail the run.
func (r *Runner) emit(ctx context.Context, cfg RunConfig, output map[string]any, latency int, runErr *failures.Error, attempts int) {
	if r.Sink == nil {
		return
	}
	entry := AgentLog{
		ID:        uuid.NewString(),
		ProjectID: cfg.ProjectID,
		Agent:     cfg.Agent,
		Input:     cfg.Input,
		Output:    output,
		LatencyMS: latency,
		Status:    StatusSuccess,
		Attempts:  attempts,
		CreatedAt: r.clock().UTC(),
	}
	if runErr != nil {
		entry.Status = StatusFailed
		entry.ErrorKind = string(runErr.Kind)
		entry.Error = runErr.Error()
		entry.Output = nil
	}
	// The run's own deadline may already be spent; the log still goes out.
	if err := r.Sink.RecordAgentLog(context.WithoutCancel(ctx), entry); err != nil {
		r.logger().Warn("agent_log_write_failed", "agent", cfg.Agent, "error", err.Error())
	}
}
