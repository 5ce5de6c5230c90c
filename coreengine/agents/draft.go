package agents

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// draftSourceLimit caps how many pack sources the draft prompt lists.
const draftSourceLimit = 10

// DraftInput is everything the writer drafts from. All three artifacts are
// required.
type DraftInput struct {
	ProjectID string
	Brief     schema.WritingBrief
	Outline   schema.ArgumentOutline
	Pack      schema.ResearchPack
}

type draftPrompt struct {
	Agent         string
	Brief         schema.WritingBrief
	Outline       schema.ArgumentOutline
	Blocks        []schema.ArgumentBlock
	Pack          schema.ResearchPack
	Sources       []schema.ResearchSource
	CitationTypes []string
}

// Draft writes the article paragraphs.
func (s *Set) Draft(ctx context.Context, in DraftInput) (runtime.Result[schema.DraftPayload], error) {
	var zero runtime.Result[schema.DraftPayload]
	switch {
	case in.Brief.Topic == "":
		return zero, failures.InvalidInput("draft requires a writing brief").WithAgent(schema.NameDraft)
	case len(in.Outline.ArgumentBlocks) == 0:
		return zero, failures.InvalidInput("argument outline has no blocks").WithAgent(schema.NameDraft)
	case len(in.Pack.Insights) == 0:
		return zero, failures.InvalidInput("research pack has no insights").WithAgent(schema.NameDraft)
	}

	sources := in.Pack.Sources
	if len(sources) > draftSourceLimit {
		sources = sources[:draftSourceLimit]
	}
	data := draftPrompt{
		Agent:         schema.NameDraft,
		Brief:         in.Brief,
		Outline:       in.Outline,
		Blocks:        in.Outline.Ordered(),
		Pack:          in.Pack,
		Sources:       sources,
		CitationTypes: schema.CitationTypes,
	}
	input := map[string]any{
		"topic":    in.Brief.Topic,
		"blocks":   len(in.Outline.ArgumentBlocks),
		"insights": len(in.Pack.Insights),
	}
	res, err := run(ctx, s, schema.NameDraft, in.ProjectID, data, input, schema.DraftContract)
	if err != nil {
		return res, err
	}
	if res.Value.CreatedAt == "" {
		res.Value.CreatedAt = s.clock().UTC().Format(time.RFC3339)
	}
	return res, nil
}
