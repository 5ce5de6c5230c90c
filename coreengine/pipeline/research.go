package pipeline

import (
	"context"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/agents"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
)

// =============================================================================
// BRIEF
// =============================================================================

// BriefRequest asks for a writing brief.
type BriefRequest struct {
	ProjectID string `json:"project_id"`
	Topic     string `json:"topic"`
	UserInput string `json:"user_input"`
	Context   string `json:"context,omitempty"`
}

// Brief extracts the writing brief. A locked thesis cannot be regenerated.
func (s *Service) Brief(ctx context.Context, req BriefRequest) (schema.WritingBrief, error) {
	var out schema.WritingBrief
	err := s.exec(ctx, OpBrief, req.ProjectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		if err := s.guard(sess, session.ArtifactThesis); err != nil {
			return err
		}
		res, err := invoke(ctx, s, run, schema.NameBrief, schema.BriefContract, func(ctx context.Context) (runtime.Result[schema.WritingBrief], error) {
			return s.Agents.Brief(ctx, agents.BriefInput{
				ProjectID: req.ProjectID,
				Topic:     req.Topic,
				UserInput: req.UserInput,
				Context:   req.Context,
			})
		})
		if err != nil {
			return err
		}
		if _, err := s.save(ctx, req.ProjectID, store.ArtifactBrief, res.Value); err != nil {
			return err
		}
		out = res.Value
		return nil
	})
	return out, err
}

// =============================================================================
// RESEARCH
// =============================================================================

// ResearchRequest carries retrieved sources and the user's own materials.
type ResearchRequest struct {
	ProjectID string                  `json:"project_id"`
	Sources   []schema.ResearchSource `json:"sources"`
	Materials []agents.Material       `json:"materials,omitempty"`
	Depth     string                  `json:"depth,omitempty"`
}

// ResearchOutcome is the retrieval plan and the assembled research pack.
type ResearchOutcome struct {
	Plan              schema.RetrievalPlan `json:"plan"`
	FilteredMaterials []agents.Material    `json:"filtered_materials"`
	Pack              schema.ResearchPack  `json:"pack"`
}

// Research plans retrieval for the stored brief, synthesizes insights from
// the sources and the filtered personal materials, and stores both the plan
// and the pack.
func (s *Service) Research(ctx context.Context, req ResearchRequest) (ResearchOutcome, error) {
	var out ResearchOutcome
	err := s.exec(ctx, OpResearch, req.ProjectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		brief, err := load[schema.WritingBrief](ctx, s, req.ProjectID, store.ArtifactBrief)
		if err != nil {
			return err
		}

		var filtered []agents.Material
		plan, err := invoke(ctx, s, run, schema.NameResearchRetrieval, schema.RetrievalPlanContract, func(ctx context.Context) (runtime.Result[schema.RetrievalPlan], error) {
			r, err := s.Agents.Retrieve(ctx, agents.RetrievalInput{
				ProjectID:         req.ProjectID,
				Brief:             brief,
				PersonalMaterials: req.Materials,
				Depth:             req.Depth,
			})
			filtered = r.FilteredMaterials
			return r.Plan, err
		})
		if err != nil {
			return err
		}
		if _, err := s.save(ctx, req.ProjectID, store.ArtifactRetrievalPlan, plan.Value); err != nil {
			return err
		}

		synth, err := invoke(ctx, s, run, schema.NameResearchSynthesis, schema.SynthesisContract, func(ctx context.Context) (runtime.Result[schema.SynthesisResult], error) {
			return s.Agents.Synthesize(ctx, agents.SynthesisInput{
				ProjectID: req.ProjectID,
				Brief:     brief,
				Sources:   req.Sources,
				Materials: filtered,
			})
		})
		if err != nil {
			return err
		}

		sources := append(append([]schema.ResearchSource(nil), req.Sources...), materialSources(filtered)...)
		pack := agents.BuildResearchPack(sources, synth.Value.Insights)
		if _, err := s.save(ctx, req.ProjectID, store.ArtifactResearchPack, pack); err != nil {
			return err
		}
		if _, err := s.advance(ctx, sess, session.StageBrief); err != nil {
			return err
		}
		out = ResearchOutcome{Plan: plan.Value, FilteredMaterials: filtered, Pack: pack}
		return nil
	})
	return out, err
}

// materialSources turns personal materials into pack sources so insights
// can cite them.
func materialSources(materials []agents.Material) []schema.ResearchSource {
	out := make([]schema.ResearchSource, 0, len(materials))
	for _, m := range materials {
		out = append(out, schema.ResearchSource{
			ID:               m.ID,
			Title:            m.Title,
			Content:          m.Content,
			SourceType:       "personal",
			CredibilityScore: 1,
			RelevanceScore:   1,
			TokenLength:      len([]rune(m.Content)),
		})
	}
	return out
}
