package schema

var (
	DocumentTypes  = []string{"academic", "blog", "report", "speech", "article"}
	WritingDepths  = []string{"浅", "中", "深"}
	CitationStyles = []string{"APA", "MLA", "Chicago", "none"}
)

// MinConfirmedInsights is the smallest insight list a brief may carry.
const MinConfirmedInsights = 3

// RequirementMeta describes the document the user wants.
type RequirementMeta struct {
	DocumentType   string `json:"document_type"`
	TargetAudience string `json:"target_audience"`
	WritingDepth   string `json:"writing_depth"`
	CitationStyle  string `json:"citation_style"`
	Language       string `json:"language"`
	MaxWordCount   int    `json:"max_word_count"`
	SEOMode        bool   `json:"seo_mode"`
	Tone           string `json:"tone"`
}

// WritingBrief is the output of the brief agent.
type WritingBrief struct {
	Topic             string          `json:"topic"`
	UserCoreThesis    string          `json:"user_core_thesis"`
	ConfirmedInsights []string        `json:"confirmed_insights"`
	RequirementMeta   RequirementMeta `json:"requirement_meta"`
	Style             string          `json:"style,omitempty"`
	Keywords          []string        `json:"keywords,omitempty"`
	BackgroundContext string          `json:"background_context,omitempty"`
}

// BriefContract accepts a WritingBrief.
var BriefContract = &Contract[WritingBrief]{
	Name:     NameBrief,
	Required: []string{"topic", "user_core_thesis", "confirmed_insights", "requirement_meta"},
	Rules: func(data map[string]any) error {
		return check(data).
			text("topic", "user_core_thesis").
			nonEmpty("confirmed_insights", MinConfirmedInsights).
			object("requirement_meta", func(m *fields) {
				m.oneOf("document_type", DocumentTypes).
					text("target_audience").
					oneOf("writing_depth", WritingDepths).
					oneOf("citation_style", CitationStyles).
					text("language").
					number("max_word_count").
					boolean("seo_mode").
					text("tone")
			}).
			optStr("style", "background_context").
			optStringArray("keywords").
			done()
	},
}
