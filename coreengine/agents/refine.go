package agents

import (
	"context"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// RefineFallbackNote explains an unchanged paragraph after a failed refine.
const RefineFallbackNote = "AI 处理失败，请重试。"

// RefineInput is one paragraph and the user's instruction for it.
type RefineInput struct {
	ProjectID   string
	Paragraph   string
	Instruction string
	Context     string
}

type refinePrompt struct {
	RefineInput
	Agent string
}

// Refine rewrites one paragraph.
func (s *Set) Refine(ctx context.Context, in RefineInput) (runtime.Result[schema.RefineResult], error) {
	var zero runtime.Result[schema.RefineResult]
	if strings.TrimSpace(in.Paragraph) == "" {
		return zero, failures.InvalidInput("paragraph is empty").WithAgent(schema.NameRefineParagraph)
	}
	if strings.TrimSpace(in.Instruction) == "" {
		return zero, failures.InvalidInput("instruction is required").WithAgent(schema.NameRefineParagraph)
	}
	data := refinePrompt{RefineInput: in, Agent: schema.NameRefineParagraph}
	input := map[string]any{"instruction": in.Instruction, "paragraph_length": len([]rune(in.Paragraph))}
	return run(ctx, s, schema.NameRefineParagraph, in.ProjectID, data, input, schema.RefineContract)
}

// FallbackRefinement is the result returned in place of a failed refine.
func FallbackRefinement(paragraph string) schema.RefineResult {
	return schema.RefineResult{RefinedContent: paragraph, Explanation: RefineFallbackNote}
}
