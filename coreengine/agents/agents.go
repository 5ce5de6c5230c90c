// Package agents holds the writing agents. Each agent renders a prompt from
// its domain input and hands it to the runtime together with the contract its
// payload must satisfy.
package agents

import (
	"context"
	"errors"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/config"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/llm"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("cowrite/agents")

// AgentRepair names the JSON repair agent. It has no contract.
const AgentRepair = "repair-json"

// Built-in sampling temperatures. Drafting and refinement run warm, review
// and repair run cold.
var defaultTemperatures = map[string]float64{
	schema.NameBrief:               0.4,
	schema.NameResearchRetrieval:   0.3,
	schema.NameResearchSynthesis:   0.3,
	schema.NameStructure:           0.4,
	schema.NameStructureAdjustment: 0.4,
	schema.NameDraft:               0.7,
	schema.NameDraftAnalysis:       0.5,
	schema.NameReview:              0.2,
	schema.NameRefineParagraph:     0.7,
	AgentRepair:                    0,
}

// Set runs the writing agents against one runtime.
type Set struct {
	Runner  *runtime.Runner
	Config  *config.CoreConfig
	Prompts PromptRegistry
	Logger  logging.Logger

	now func() time.Time
}

// NewSet creates a Set using the embedded prompt templates.
func NewSet(runner *runtime.Runner, cfg *config.CoreConfig, logger logging.Logger) *Set {
	if cfg == nil {
		cfg = config.DefaultCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Set{
		Runner:  runner,
		Config:  cfg,
		Prompts: DefaultPrompts(),
		Logger:  logger,
		now:     time.Now,
	}
}

func (s *Set) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Set) logger() logging.Logger {
	if s.Logger == nil {
		return logging.Nop()
	}
	return s.Logger
}

func (s *Set) prompts() PromptRegistry {
	if s.Prompts == nil {
		return DefaultPrompts()
	}
	return s.Prompts
}

// runConfig resolves sampling for agent: a configured override wins, then
// the agent's built-in temperature, then the runner defaults.
func (s *Set) runConfig(agent, projectID, prompt string, input map[string]any) runtime.RunConfig {
	cfg := runtime.RunConfig{
		Agent:     agent,
		ProjectID: projectID,
		Prompt:    prompt,
		Input:     input,
	}
	if t, ok := defaultTemperatures[agent]; ok {
		cfg.Temperature = llm.Temperature(t)
	}
	if s.Config == nil {
		return cfg
	}
	if o := s.Config.Agent(agent); o != nil {
		cfg.Model = o.Model
		if o.Temperature != nil {
			cfg.Temperature = o.Temperature
		}
		cfg.MaxTokens = o.MaxTokens
		cfg.MaxAttempts = o.MaxAttempts
	}
	return cfg
}

// run renders the named prompt and executes it with contract.
func run[T any](ctx context.Context, s *Set, agent, projectID string, data any, input map[string]any, contract *schema.Contract[T]) (runtime.Result[T], error) {
	if s.Runner == nil {
		return runtime.Result[T]{}, failures.InvalidInput("agent set has no runner")
	}
	prompt, err := s.prompts().Render(agent, data)
	if err != nil {
		return runtime.Result[T]{}, failures.New(failures.KindInvalidInput, "render prompt "+agent, err).WithAgent(agent)
	}
	return runtime.Run(ctx, s.Runner, s.runConfig(agent, projectID, prompt, input), contract)
}

func asError(err error, target **failures.Error) bool {
	return errors.As(err, target)
}

func withAgent(err error, agent string) error {
	var fe *failures.Error
	if asError(err, &fe) {
		return fe.WithAgent(agent)
	}
	return err
}

func withRaw(err error, raw string) error {
	var fe *failures.Error
	if asError(err, &fe) {
		return fe.WithRaw(raw)
	}
	return err
}
