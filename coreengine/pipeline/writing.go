package pipeline

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/agents"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
)

// =============================================================================
// DRAFT
// =============================================================================

// DraftOutcome is a draft and how much of the outline it covers.
type DraftOutcome struct {
	Draft        schema.DraftPayload  `json:"draft"`
	Completeness session.Completeness `json:"completeness"`
}

// Draft writes the document from the stored brief, outline and pack.
func (s *Service) Draft(ctx context.Context, projectID string) (DraftOutcome, error) {
	var out DraftOutcome
	err := s.exec(ctx, OpDraft, projectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		brief, err := load[schema.WritingBrief](ctx, s, projectID, store.ArtifactBrief)
		if err != nil {
			return err
		}
		outline, err := load[schema.ArgumentOutline](ctx, s, projectID, store.ArtifactOutline)
		if err != nil {
			return err
		}
		pack, err := load[schema.ResearchPack](ctx, s, projectID, store.ArtifactResearchPack)
		if err != nil {
			return err
		}

		res, err := invoke(ctx, s, run, schema.NameDraft, schema.DraftContract, func(ctx context.Context) (runtime.Result[schema.DraftPayload], error) {
			return s.Agents.Draft(ctx, agents.DraftInput{ProjectID: projectID, Brief: brief, Outline: outline, Pack: pack})
		})
		if err != nil {
			return err
		}
		draft := res.Value
		if draft.CreatedAt == "" {
			draft.CreatedAt = s.clock().UTC().Format(time.RFC3339)
		}
		completeness := session.DraftCompleteness(draft, outline)
		if len(completeness.Missing) > 0 {
			s.Logger.Warn("draft_incomplete",
				"project_id", projectID,
				"missing_blocks", completeness.Missing,
			)
		}

		if _, err := s.save(ctx, projectID, store.ArtifactDraft, draft); err != nil {
			return err
		}
		if _, err := s.advance(ctx, sess, session.StageDraft); err != nil {
			return err
		}
		out = DraftOutcome{Draft: draft, Completeness: completeness}
		return nil
	})
	return out, err
}

// AnalyzeDraft annotates every paragraph of the latest draft.
func (s *Service) AnalyzeDraft(ctx context.Context, projectID string) (schema.AnalysisPayload, error) {
	var out schema.AnalysisPayload
	err := s.exec(ctx, OpAnalyzeDraft, projectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		draft, err := load[schema.DraftPayload](ctx, s, projectID, store.ArtifactDraft)
		if err != nil {
			return err
		}
		brief, err := load[schema.WritingBrief](ctx, s, projectID, store.ArtifactBrief)
		if err != nil {
			return err
		}
		outline, err := load[schema.ArgumentOutline](ctx, s, projectID, store.ArtifactOutline)
		if err != nil {
			return err
		}

		res, err := invoke(ctx, s, run, schema.NameDraftAnalysis, schema.AnalysisContract, func(ctx context.Context) (runtime.Result[schema.AnalysisPayload], error) {
			return s.Agents.Analyze(ctx, agents.AnalysisInput{ProjectID: projectID, Draft: draft, Brief: brief, Outline: outline})
		})
		if err != nil {
			return err
		}
		if _, err := s.save(ctx, projectID, store.ArtifactAnalysis, res.Value); err != nil {
			return err
		}
		out = res.Value
		return nil
	})
	return out, err
}

// =============================================================================
// REVIEW
// =============================================================================

// Review evaluates the latest draft. The session moves to review, and on
// to completed when the review passes.
func (s *Service) Review(ctx context.Context, projectID string) (schema.ReviewPayload, error) {
	var out schema.ReviewPayload
	err := s.exec(ctx, OpReview, projectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		draft, err := load[schema.DraftPayload](ctx, s, projectID, store.ArtifactDraft)
		if err != nil {
			return err
		}
		brief, err := load[schema.WritingBrief](ctx, s, projectID, store.ArtifactBrief)
		if err != nil {
			return err
		}

		res, err := invoke(ctx, s, run, schema.NameReview, schema.ReviewContract, func(ctx context.Context) (runtime.Result[schema.ReviewPayload], error) {
			return s.Agents.Review(ctx, agents.ReviewInput{ProjectID: projectID, Draft: draft, Brief: brief})
		})
		if err != nil {
			return err
		}
		review := res.Value
		if review.CreatedAt == "" {
			review.CreatedAt = s.clock().UTC().Format(time.RFC3339)
		}
		if _, err := s.save(ctx, projectID, store.ArtifactReview, review); err != nil {
			return err
		}

		next, err := s.advance(ctx, sess, session.StageReview)
		if err != nil {
			return err
		}
		if review.Pass {
			if _, err := s.advance(ctx, next, session.StageCompleted); err != nil {
				return err
			}
		}
		out = review
		return nil
	})
	return out, err
}

// =============================================================================
// REFINE
// =============================================================================

// RefineRequest asks for one paragraph to be rewritten. When Paragraph is
// empty the paragraph is looked up by ParagraphID in the latest draft.
type RefineRequest struct {
	ProjectID   string `json:"project_id"`
	ParagraphID string `json:"paragraph_id,omitempty"`
	Paragraph   string `json:"paragraph,omitempty"`
	Instruction string `json:"instruction"`
	Context     string `json:"context,omitempty"`
}

// RefineOutcome is the refinement. Fallback is set when the model failed
// and the original paragraph was returned unchanged.
type RefineOutcome struct {
	Result   schema.RefineResult `json:"result"`
	Fallback bool                `json:"fallback"`
}

// RefineParagraph rewrites one paragraph. Model and parse failures fall
// back to the unchanged paragraph; caller mistakes are returned.
func (s *Service) RefineParagraph(ctx context.Context, req RefineRequest) (RefineOutcome, error) {
	var out RefineOutcome
	err := s.exec(ctx, OpRefine, req.ProjectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		paragraph := req.Paragraph
		if paragraph == "" && req.ParagraphID != "" {
			draft, err := load[schema.DraftPayload](ctx, s, req.ProjectID, store.ArtifactDraft)
			if err != nil {
				return err
			}
			block, ok := draft.Paragraph(req.ParagraphID)
			if !ok {
				return failures.InvalidInput("unknown paragraph " + req.ParagraphID)
			}
			paragraph = block.Content
		}

		res, err := invoke(ctx, s, run, schema.NameRefineParagraph, schema.RefineContract, func(ctx context.Context) (runtime.Result[schema.RefineResult], error) {
			return s.Agents.Refine(ctx, agents.RefineInput{
				ProjectID:   req.ProjectID,
				Paragraph:   paragraph,
				Instruction: req.Instruction,
				Context:     req.Context,
			})
		})
		switch {
		case err == nil:
			out = RefineOutcome{Result: res.Value}
		case failures.IsKind(err, failures.KindInvalidInput), ctx.Err() != nil:
			return err
		default:
			s.Logger.Warn("refine_fallback",
				"project_id", req.ProjectID,
				"error_kind", string(failures.KindOf(err)),
			)
			run.fallback = true
			out = RefineOutcome{Result: agents.FallbackRefinement(paragraph), Fallback: true}
		}
		return nil
	})
	return out, err
}
