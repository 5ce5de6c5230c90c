package schema

var (
	SourceTypes       = []string{"web", "personal", "academic", "news"}
	Citabilities      = []string{"direct", "paraphrase", "background"}
	EvidenceStrengths = []string{"strong", "medium", "weak"}
	UserDecisions     = []string{"confirmed", "ignored", "pending"}
)

// RetrievalPlan is the research agent's search plan.
type RetrievalPlan struct {
	SearchQueries       []string `json:"search_queries"`
	SearchDirections    []string `json:"search_directions"`
	PersonalMaterialIDs []string `json:"personal_material_ids,omitempty"`
}

// ResearchSource is one retrieved or personal document.
type ResearchSource struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Content          string   `json:"content"`
	Summary          string   `json:"summary,omitempty"`
	SourceURL        string   `json:"source_url,omitempty"`
	SourceType       string   `json:"source_type,omitempty"`
	CredibilityScore float64  `json:"credibility_score"`
	RecencyScore     float64  `json:"recency_score"`
	RelevanceScore   float64  `json:"relevance_score"`
	TokenLength      int      `json:"token_length"`
	ChunkIndex       *int     `json:"chunk_index,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
}

// Reference points an insight at a citable document.
type Reference struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// SynthesizedInsight is a source-traceable claim.
type SynthesizedInsight struct {
	ID                  string      `json:"id"`
	Category            string      `json:"category"`
	Content             string      `json:"content"`
	SupportingSourceIDs []string    `json:"supporting_source_ids"`
	References          []Reference `json:"references,omitempty"`
	Citability          string      `json:"citability"`
	EvidenceStrength    string      `json:"evidence_strength"`
	RiskFlag            bool        `json:"risk_flag"`
	ConfidenceScore     float64     `json:"confidence_score"`
	UserDecision        string      `json:"user_decision,omitempty"`
}

// PackSummary aggregates a ResearchPack.
type PackSummary struct {
	TotalSources  int     `json:"total_sources"`
	TotalInsights int     `json:"total_insights"`
	CoverageScore float64 `json:"coverage_score"`
	QualityScore  float64 `json:"quality_score"`
}

// ResearchPack is the research stage's deliverable.
type ResearchPack struct {
	Sources  []ResearchSource     `json:"sources"`
	Insights []SynthesizedInsight `json:"insights"`
	Summary  PackSummary          `json:"summary"`
}

// InsightIDs returns the ids of every insight in pack order.
func (p *ResearchPack) InsightIDs() []string {
	ids := make([]string, 0, len(p.Insights))
	for _, in := range p.Insights {
		ids = append(ids, in.ID)
	}
	return ids
}

// SynthesisResult is what the synthesis step returns before the pack is
// assembled.
type SynthesisResult struct {
	Insights []SynthesizedInsight `json:"insights"`
	Summary  PackSummary          `json:"summary"`
}

func insightRules(in *fields) {
	in.text("id", "category", "content").
		nonEmpty("supporting_source_ids", 1).
		oneOf("citability", Citabilities).
		oneOf("evidence_strength", EvidenceStrengths).
		number("confidence_score").
		optBoolean("risk_flag").
		optOneOf("user_decision", UserDecisions)
}

// RetrievalPlanContract accepts a RetrievalPlan.
var RetrievalPlanContract = &Contract[RetrievalPlan]{
	Name:     NameResearchRetrieval,
	Required: []string{"search_queries", "search_directions"},
	Rules: func(data map[string]any) error {
		return check(data).
			nonEmpty("search_queries", 1).
			stringArray("search_directions").
			optStringArray("personal_material_ids").
			done()
	},
}

// SynthesisContract accepts the synthesis step's insights.
var SynthesisContract = &Contract[SynthesisResult]{
	Name:     NameResearchSynthesis,
	Required: []string{"insights", "summary"},
	Rules: func(data map[string]any) error {
		return check(data).
			each("insights", insightRules).
			object("summary", nil).
			done()
	},
}

// ResearchPackContract accepts a complete ResearchPack.
var ResearchPackContract = &Contract[ResearchPack]{
	Name:     NameResearchPack,
	Required: []string{"sources", "insights", "summary"},
	Rules: func(data map[string]any) error {
		return check(data).
			each("sources", func(s *fields) {
				s.text("id", "title", "content").
					number("credibility_score", "recency_score", "relevance_score", "token_length").
					optOneOf("source_type", SourceTypes)
			}).
			each("insights", insightRules).
			object("summary", func(s *fields) {
				s.number("total_sources", "total_insights", "coverage_score", "quality_score")
			}).
			done()
	},
}
