package agents

import (
	"context"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// AnalysisInput is a draft plus the brief and outline it was written from.
type AnalysisInput struct {
	ProjectID string
	Draft     schema.DraftPayload
	Brief     schema.WritingBrief
	Outline   schema.ArgumentOutline
}

type analysisPrompt struct {
	Agent                string
	Draft                schema.DraftPayload
	Brief                schema.WritingBrief
	Outline              schema.ArgumentOutline
	ParagraphTypes       []string
	ViewpointGenerations []string
}

// Analyze annotates every drafted paragraph with coaching content.
func (s *Set) Analyze(ctx context.Context, in AnalysisInput) (runtime.Result[schema.AnalysisPayload], error) {
	if len(in.Draft.DraftBlocks) == 0 {
		return runtime.Result[schema.AnalysisPayload]{}, failures.InvalidInput("draft has no paragraphs").WithAgent(schema.NameDraftAnalysis)
	}
	data := analysisPrompt{
		Agent:                schema.NameDraftAnalysis,
		Draft:                in.Draft,
		Brief:                in.Brief,
		Outline:              in.Outline,
		ParagraphTypes:       schema.ParagraphTypes,
		ViewpointGenerations: schema.ViewpointGenerations,
	}
	input := map[string]any{"paragraphs": len(in.Draft.DraftBlocks)}
	return run(ctx, s, schema.NameDraftAnalysis, in.ProjectID, data, input, schema.AnalysisContract)
}
