package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/envelope"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/llm"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/normalize"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// RepairInputLimit is the longest input, in bytes, sent for repair.
const RepairInputLimit = 50000

// RepairJSON asks the model to fix the syntax of broken JSON. The reply is
// stripped of a surrounding code fence and must decode as JSON.
func (s *Set) RepairJSON(ctx context.Context, broken string) (string, error) {
	if s.Runner == nil || s.Runner.Client == nil {
		return "", failures.InvalidInput("agent set has no model client").WithAgent(AgentRepair)
	}
	if strings.TrimSpace(broken) == "" {
		return "", failures.InvalidInput("nothing to repair").WithAgent(AgentRepair)
	}
	if len(broken) > RepairInputLimit {
		broken = truncateBytes(broken, RepairInputLimit)
	}

	prompt, err := s.prompts().Render(AgentRepair, broken)
	if err != nil {
		return "", failures.New(failures.KindInvalidInput, "render prompt "+AgentRepair, err).WithAgent(AgentRepair)
	}
	cfg := s.runConfig(AgentRepair, "", prompt, nil)
	params := llm.SamplingParams{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if params.Model == "" {
		params.Model = s.Runner.Defaults.Model
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = llm.DefaultMaxTokens
	}

	start := s.clock()
	reply, err := s.Runner.Client.Invoke(ctx, prompt, params)
	if err != nil {
		var fe *failures.Error
		if !asError(err, &fe) {
			fe = failures.ModelInvocation("repair", err)
		}
		return "", fe.WithAgent(AgentRepair)
	}

	cleaned := stripFence(reply)
	if !json.Valid([]byte(cleaned)) {
		return "", failures.PayloadParse("repaired text is not valid JSON", nil).WithAgent(AgentRepair).WithRaw(reply)
	}
	s.logger().Debug("json_repaired",
		"input_bytes", len(broken),
		"output_bytes", len(cleaned),
		"latency_ms", int(s.clock().Sub(start)/time.Millisecond),
	)
	return cleaned, nil
}

// Recover repairs the raw reply of a failed run and validates the result
// against contract. When the original text decodes as JSON, the repaired
// text must keep its shape.
func Recover[T any](ctx context.Context, s *Set, agent, raw string, contract *schema.Contract[T]) (runtime.Result[T], error) {
	var zero runtime.Result[T]
	start := s.clock()

	repaired, err := s.RepairJSON(ctx, raw)
	if err != nil {
		return zero, err
	}

	if block, err := normalize.ExtractFirstJSONBlock(raw); err == nil {
		var original any
		if json.Unmarshal([]byte(normalize.Normalize(block)), &original) == nil {
			var fixed any
			_ = json.Unmarshal([]byte(repaired), &fixed)
			if !envelope.SameShape(original, fixed) {
				return zero, failures.EnvelopeStructure("repair changed the JSON structure", nil).WithAgent(agent).WithRaw(repaired)
			}
		}
	}

	payload, err := envelope.Parse(repaired)
	if err != nil {
		return zero, withRaw(withAgent(err, agent), repaired)
	}
	value, err := contract.Validate(payload)
	if err != nil {
		return zero, withRaw(withAgent(err, agent), repaired)
	}
	s.logger().Info("agent_output_repaired", "agent", agent)
	return runtime.Result[T]{
		Value:     value,
		Payload:   payload,
		Raw:       repaired,
		Attempts:  1,
		LatencyMS: int(s.clock().Sub(start) / time.Millisecond),
	}, nil
}

// stripFence removes a leading ```json or ``` fence and a trailing ```.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
