package agents

import (
	"context"
	"sort"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaterialTopK is how many personal materials survive filtering.
	MaterialTopK = 8
	// MaterialContentLimit is the rune length a material is compressed to.
	MaterialContentLimit = 500

	titleHitScore   = 3
	contentHitScore = 1
)

// Material is a user's own document.
type Material struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	IsCompressed bool   `json:"is_compressed,omitempty"`
}

// FilterPersonalMaterials keeps the materials most relevant to brief.
//
// Every keyword (topic, confirmed insights, brief keywords) found in a
// title scores 3 and in the content scores 1, case-insensitively. Materials
// scoring zero are dropped, the rest are sorted by score and cut to topK.
// Content longer than MaterialContentLimit runes is truncated with "..." and
// marked IsCompressed.
func FilterPersonalMaterials(materials []Material, brief schema.WritingBrief, topK int) []Material {
	if len(materials) == 0 || topK <= 0 {
		return nil
	}

	keywords := make([]string, 0, 1+len(brief.ConfirmedInsights)+len(brief.Keywords))
	for _, k := range append(append([]string{brief.Topic}, brief.ConfirmedInsights...), brief.Keywords...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	type scored struct {
		m     Material
		score int
	}
	ranked := make([]scored, 0, len(materials))
	for _, m := range materials {
		title := strings.ToLower(m.Title)
		content := strings.ToLower(m.Content)
		score := 0
		for _, kw := range keywords {
			if strings.Contains(title, kw) {
				score += titleHitScore
			}
			if strings.Contains(content, kw) {
				score += contentHitScore
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{m: m, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]Material, 0, len(ranked))
	for _, r := range ranked {
		m := r.m
		if runes := []rune(m.Content); len(runes) > MaterialContentLimit {
			m.Content = string(runes[:MaterialContentLimit]) + "..."
			m.IsCompressed = true
		}
		out = append(out, m)
	}
	return out
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// RetrievalInput is what the research planner sees.
type RetrievalInput struct {
	ProjectID         string
	Brief             schema.WritingBrief
	PersonalMaterials []Material
	// Depth is "quick" or "deep"; empty means quick.
	Depth string
}

// RetrievalResult is the search plan plus the materials it was planned over.
type RetrievalResult struct {
	Plan              runtime.Result[schema.RetrievalPlan]
	FilteredMaterials []Material
}

type retrievalPrompt struct {
	Agent     string
	Brief     schema.WritingBrief
	Materials []Material
	Depth     string
}

// Retrieve plans the research for a brief.
func (s *Set) Retrieve(ctx context.Context, in RetrievalInput) (RetrievalResult, error) {
	if strings.TrimSpace(in.Brief.Topic) == "" {
		return RetrievalResult{}, failures.InvalidInput("brief topic is required").WithAgent(schema.NameResearchRetrieval)
	}
	filtered := FilterPersonalMaterials(in.PersonalMaterials, in.Brief, MaterialTopK)
	s.logger().Debug("personal_materials_filtered",
		"project_id", in.ProjectID,
		"total", len(in.PersonalMaterials),
		"kept", len(filtered),
	)

	depth := in.Depth
	if depth == "" {
		depth = "quick"
	}
	data := retrievalPrompt{Agent: schema.NameResearchRetrieval, Brief: in.Brief, Materials: filtered, Depth: depth}
	input := map[string]any{"topic": in.Brief.Topic, "materials": len(filtered), "depth": depth}

	plan, err := run(ctx, s, schema.NameResearchRetrieval, in.ProjectID, data, input, schema.RetrievalPlanContract)
	if err != nil {
		return RetrievalResult{FilteredMaterials: filtered}, err
	}
	return RetrievalResult{Plan: plan, FilteredMaterials: filtered}, nil
}

// =============================================================================
// SYNTHESIS
// =============================================================================

// SynthesisInput is the material the synthesizer turns into insights.
type SynthesisInput struct {
	ProjectID string
	Brief     schema.WritingBrief
	Sources   []schema.ResearchSource
	Materials []Material
}

type synthesisPrompt struct {
	Agent             string
	Brief             schema.WritingBrief
	Sources           []schema.ResearchSource
	Materials         []Material
	Citabilities      []string
	EvidenceStrengths []string
}

// Synthesize extracts source-traceable insights.
func (s *Set) Synthesize(ctx context.Context, in SynthesisInput) (runtime.Result[schema.SynthesisResult], error) {
	if len(in.Sources) == 0 && len(in.Materials) == 0 {
		return runtime.Result[schema.SynthesisResult]{}, failures.InvalidInput("no sources to synthesize").WithAgent(schema.NameResearchSynthesis)
	}
	data := synthesisPrompt{
		Agent:             schema.NameResearchSynthesis,
		Brief:             in.Brief,
		Sources:           in.Sources,
		Materials:         in.Materials,
		Citabilities:      schema.Citabilities,
		EvidenceStrengths: schema.EvidenceStrengths,
	}
	input := map[string]any{"topic": in.Brief.Topic, "sources": len(in.Sources), "materials": len(in.Materials)}
	return run(ctx, s, schema.NameResearchSynthesis, in.ProjectID, data, input, schema.SynthesisContract)
}

// Research synthesizes insights and assembles the research pack.
func (s *Set) Research(ctx context.Context, in SynthesisInput) (schema.ResearchPack, error) {
	ctx, span := tracer.Start(ctx, "agents.research")
	defer span.End()
	span.SetAttributes(
		attribute.String("cowrite.project.id", in.ProjectID),
		attribute.Int("cowrite.research.sources", len(in.Sources)),
	)

	res, err := s.Synthesize(ctx, in)
	if err != nil {
		return schema.ResearchPack{}, err
	}
	pack := BuildResearchPack(in.Sources, res.Value.Insights)
	span.SetAttributes(attribute.Int("cowrite.research.insights", len(pack.Insights)))
	return pack, nil
}

// BuildResearchPack assembles sources and insights and computes the
// summary. Coverage saturates at five insights; quality is the mean
// insight confidence.
func BuildResearchPack(sources []schema.ResearchSource, insights []schema.SynthesizedInsight) schema.ResearchPack {
	if sources == nil {
		sources = []schema.ResearchSource{}
	}
	if insights == nil {
		insights = []schema.SynthesizedInsight{}
	}
	var coverage, total float64
	if n := len(insights); n > 0 {
		coverage = float64(n) / 5
		if coverage > 1 {
			coverage = 1
		}
		for _, in := range insights {
			total += in.ConfidenceScore
		}
	}
	denom := len(insights)
	if denom == 0 {
		denom = 1
	}
	return schema.ResearchPack{
		Sources:  sources,
		Insights: insights,
		Summary: schema.PackSummary{
			TotalSources:  len(sources),
			TotalInsights: len(insights),
			CoverageScore: coverage,
			QualityScore:  total / float64(denom),
		},
	}
}
