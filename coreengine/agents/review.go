package agents

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// ReviewPassThreshold is the overall score below which a review must fail.
const ReviewPassThreshold = 0.7

// ReviewInput is a draft and the brief it should satisfy.
type ReviewInput struct {
	ProjectID string
	Draft     schema.DraftPayload
	Brief     schema.WritingBrief
}

type reviewPrompt struct {
	Agent         string
	Draft         schema.DraftPayload
	Brief         schema.WritingBrief
	Severities    []string
	PassThreshold float64
}

// Review checks the draft and stamps the result with its creation time.
func (s *Set) Review(ctx context.Context, in ReviewInput) (runtime.Result[schema.ReviewPayload], error) {
	if len(in.Draft.DraftBlocks) == 0 {
		return runtime.Result[schema.ReviewPayload]{}, failures.InvalidInput("draft has no paragraphs").WithAgent(schema.NameReview)
	}
	data := reviewPrompt{
		Agent:         schema.NameReview,
		Draft:         in.Draft,
		Brief:         in.Brief,
		Severities:    schema.Severities,
		PassThreshold: ReviewPassThreshold,
	}
	input := map[string]any{"paragraphs": len(in.Draft.DraftBlocks), "words": in.Draft.TotalWordCount}
	res, err := run(ctx, s, schema.NameReview, in.ProjectID, data, input, schema.ReviewContract)
	if err != nil {
		return res, err
	}
	res.Value.CreatedAt = s.clock().UTC().Format(time.RFC3339)
	return res, nil
}
