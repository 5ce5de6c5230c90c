package runtime

import (
	"context"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/envelope"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/normalize"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
)

// RawResult is a single unvalidated model response.
type RawResult struct {
	Raw        string
	Normalized string
	// Parsed is the best-effort payload; nil when ParseErr is set or the
	// payload was empty.
	Parsed    map[string]any
	ParseErr  error
	LatencyMS int
}

// RunRaw makes one model call without schema validation. It only fails when
// the model call fails; parse problems are reported in ParseErr.
func (r *Runner) RunRaw(ctx context.Context, cfg RunConfig) (RawResult, error) {
	ctx, span := tracer.Start(ctx, "agent.run_raw")
	defer span.End()

	start := r.clock()
	raw, err := r.Client.Invoke(ctx, cfg.Prompt, r.params(cfg))
	latency := int(r.clock().Sub(start).Milliseconds())
	if err != nil {
		fe := asFailure(err, failures.KindModelInvocation).WithAgent(cfg.Agent)
		fe.Attempts = 1
		observability.RecordAgentRun(cfg.Agent, "error", latency)
		r.emit(ctx, cfg, nil, latency, fe, 1)
		return RawResult{LatencyMS: latency}, fe
	}

	res := RawResult{Raw: raw, Normalized: normalize.Normalize(raw), LatencyMS: latency}
	res.Parsed, res.ParseErr = envelope.Parse(raw)
	if res.ParseErr != nil {
		r.logger().Debug("agent_raw_parse_failed", "agent", cfg.Agent, "error_kind", string(failures.KindOf(res.ParseErr)))
	}
	observability.RecordAgentRun(cfg.Agent, "success", latency)
	r.emit(ctx, cfg, res.Parsed, latency, nil, 1)
	return res, nil
}
