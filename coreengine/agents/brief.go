package agents

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// BriefInput is the user's writing request.
type BriefInput struct {
	ProjectID string
	Topic     string
	UserInput string
	Context   string
}

type briefPrompt struct {
	BriefInput
	Agent          string
	MinInsights    int
	DocumentTypes  []string
	WritingDepths  []string
	CitationStyles []string
}

// Brief turns a writing request into a WritingBrief.
func (s *Set) Brief(ctx context.Context, in BriefInput) (runtime.Result[schema.WritingBrief], error) {
	if strings.TrimSpace(in.Topic) == "" {
		return runtime.Result[schema.WritingBrief]{}, failures.InvalidInput("topic is required").WithAgent(schema.NameBrief)
	}
	data := briefPrompt{
		BriefInput:     in,
		Agent:          schema.NameBrief,
		MinInsights:    schema.MinConfirmedInsights,
		DocumentTypes:  schema.DocumentTypes,
		WritingDepths:  schema.WritingDepths,
		CitationStyles: schema.CitationStyles,
	}
	input := map[string]any{"topic": in.Topic, "user_input": in.UserInput, "context": in.Context}
	return run(ctx, s, schema.NameBrief, in.ProjectID, data, input, schema.BriefContract)
}
