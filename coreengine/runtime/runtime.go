// Package runtime provides the agent Runner: prompt in, validated typed
// payload out, with bounded sequential retries on parse and schema failures.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/envelope"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/llm"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cowrite/runtime")

// Retry defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 2 * time.Second
)

// rawLogLimit bounds raw model text written to debug logs.
const rawLogLimit = 200

// RunConfig describes one agent invocation.
type RunConfig struct {
	Agent     string
	ProjectID string
	Prompt    string

	// Sampling overrides; zero values fall back to Runner.Defaults.
	Model       string
	Temperature *float64
	MaxTokens   int

	// MaxAttempts overrides Runner.MaxAttempts when positive.
	MaxAttempts int

	// Input is recorded in the agent log.
	Input map[string]any
}

// Result is a validated agent output.
type Result[T any] struct {
	Value     T
	Payload   map[string]any
	Raw       string
	Attempts  int
	LatencyMS int
}

// Runner executes agents against a model client.
type Runner struct {
	Client llm.Client
	Logger logging.Logger
	Sink   LogSink

	// Backoff builds the delay policy for one Run. Nil means exponential
	// backoff from DefaultInitialBackoff to DefaultMaxBackoff.
	Backoff func() backoff.BackOff

	MaxAttempts int
	Defaults    llm.SamplingParams

	now func() time.Time
}

// NewRunner creates a Runner with default retry policy.
func NewRunner(client llm.Client, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		Client:      client,
		Logger:      logger,
		MaxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// ExponentialBackoff returns the default retry delay policy.
func ExponentialBackoff(initial, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

func (r *Runner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}

func (r *Runner) logger() logging.Logger {
	if r.Logger == nil {
		return logging.Nop()
	}
	return r.Logger
}

func (r *Runner) attempts(cfg RunConfig) int {
	switch {
	case cfg.MaxAttempts > 0:
		return cfg.MaxAttempts
	case r.MaxAttempts > 0:
		return r.MaxAttempts
	default:
		return DefaultMaxAttempts
	}
}

func (r *Runner) params(cfg RunConfig) llm.SamplingParams {
	p := r.Defaults
	if cfg.Model != "" {
		p.Model = cfg.Model
	}
	if cfg.Temperature != nil {
		p.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		p.MaxTokens = cfg.MaxTokens
	}
	return p
}

func (r *Runner) newBackoff(ctx context.Context) backoff.BackOff {
	build := r.Backoff
	if build == nil {
		build = ExponentialBackoff(DefaultInitialBackoff, DefaultMaxBackoff)
	}
	return backoff.WithContext(build(), ctx)
}

// =============================================================================
// RUN
// =============================================================================

// Run invokes the model and returns the first response that parses and
// satisfies contract.
//
// Parse and schema failures are retried sequentially up to the attempt bound,
// waiting on the backoff policy between attempts. Model invocation failures
// and cancellation return immediately. After the last attempt the final
// failure is returned with Attempts set and the raw response attached. When
// ctx ends during a backoff wait the last failure is returned the same way,
// with ctx.Err() joined to its cause.
func Run[T any](ctx context.Context, r *Runner, cfg RunConfig, contract *schema.Contract[T]) (Result[T], error) {
	ctx, span := tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("cowrite.agent", cfg.Agent),
			attribute.String("cowrite.project_id", cfg.ProjectID),
			attribute.String("cowrite.schema", contract.Name),
		),
	)
	defer span.End()

	logger := r.logger().Bind("agent", cfg.Agent, "project_id", cfg.ProjectID)
	maxAttempts := r.attempts(cfg)
	params := r.params(cfg)
	delays := r.newBackoff(ctx)
	start := r.clock()

	var (
		result  Result[T]
		lastErr *failures.Error
		raw     string
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, delays); err != nil {
				if errors.Is(err, errBackoffStopped) {
					break
				}
				// Keep the last rejection; the cancellation becomes its cause.
				lastErr.Cause = errors.Join(lastErr.Cause, err)
				logger.Warn("agent_retry_cancelled", "attempt", attempt-1, "error", err.Error())
				break
			}
		}

		var err error
		raw, err = r.Client.Invoke(ctx, cfg.Prompt, params)
		if err != nil {
			observability.RecordAgentAttempt(cfg.Agent, "model_error")
			lastErr = asFailure(err, failures.KindModelInvocation).WithAgent(cfg.Agent)
			lastErr.Attempts = attempt
			break
		}
		logger.Debug("agent_response_received", "attempt", attempt, "raw", logging.Truncate(raw, rawLogLimit))

		payload, value, err := decode(raw, contract)
		if err == nil {
			observability.RecordAgentAttempt(cfg.Agent, "accepted")
			result = Result[T]{Value: value, Payload: payload, Raw: raw, Attempts: attempt}
			lastErr = nil
			break
		}

		lastErr = asFailure(err, failures.KindSchemaValidation).WithAgent(cfg.Agent).WithRaw(raw)
		lastErr.Attempts = attempt
		observability.RecordAgentAttempt(cfg.Agent, string(lastErr.Kind))
		span.AddEvent("attempt_rejected", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error_kind", string(lastErr.Kind)),
		))
		logger.Warn("agent_attempt_failed",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error_kind", string(lastErr.Kind),
			"error", lastErr.Error(),
		)
		if !lastErr.Kind.Recoverable() {
			break
		}
	}

	latency := int(r.clock().Sub(start).Milliseconds())
	result.LatencyMS = latency
	span.SetAttributes(attribute.Int("cowrite.attempts", attemptsOf(result.Attempts, lastErr)), attribute.Int("duration_ms", latency))

	var retErr error
	if lastErr != nil {
		retErr = lastErr
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, string(lastErr.Kind))
		observability.RecordAgentRun(cfg.Agent, "error", latency)
		logger.Error("agent_run_failed",
			"error_kind", string(lastErr.Kind),
			"attempts", lastErr.Attempts,
			"duration_ms", latency,
		)
	} else {
		span.SetStatus(codes.Ok, "success")
		observability.RecordAgentRun(cfg.Agent, "success", latency)
		logger.Info("agent_run_completed", "attempts", result.Attempts, "duration_ms", latency)
	}

	r.emit(ctx, cfg, result.Payload, latency, lastErr, attemptsOf(result.Attempts, lastErr))
	return result, retErr
}

func decode[T any](raw string, contract *schema.Contract[T]) (map[string]any, T, error) {
	var zero T
	payload, err := envelope.Parse(raw)
	if err != nil {
		return nil, zero, err
	}
	value, err := contract.Validate(payload)
	if err != nil {
		return payload, zero, err
	}
	return payload, value, nil
}

var errBackoffStopped = errors.New("backoff policy stopped retries")

// wait blocks for the next backoff interval. It fails when the policy gives
// up or ctx ends.
func wait(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d == backoff.Stop {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errBackoffStopped
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// asFailure returns err as a *failures.Error, wrapping foreign errors in
// the fallback kind.
func asFailure(err error, fallback failures.Kind) *failures.Error {
	var fe *failures.Error
	if errors.As(err, &fe) {
		c := *fe
		return &c
	}
	return failures.New(fallback, "", err)
}

func attemptsOf(ok int, err *failures.Error) int {
	if err != nil {
		return err.Attempts
	}
	return ok
}
