package schema

var Severities = []string{"high", "medium", "low"}

// Location is a character span inside a block.
type Location struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Issue is one review finding.
type Issue struct {
	BlockID     string    `json:"block_id,omitempty"`
	ParagraphID string    `json:"paragraph_id,omitempty"`
	IssueType   string    `json:"issue_type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion,omitempty"`
	Location    *Location `json:"location,omitempty"`
}

// SuggestedRewrite proposes replacement text for a block.
type SuggestedRewrite struct {
	BlockID       string `json:"block_id"`
	OriginalText  string `json:"original_text"`
	SuggestedText string `json:"suggested_text"`
	Reason        string `json:"reason"`
}

// QualityScores are the review's sub-scores.
type QualityScores struct {
	LogicScore    float64 `json:"logic_score"`
	CitationScore float64 `json:"citation_score"`
	StyleScore    float64 `json:"style_score"`
	GrammarScore  float64 `json:"grammar_score"`
	OverallScore  float64 `json:"overall_score"`
}

// ReviewPayload is the output of the review agent.
type ReviewPayload struct {
	LogicIssues       []Issue            `json:"logic_issues"`
	CitationIssues    []Issue            `json:"citation_issues"`
	StyleIssues       []Issue            `json:"style_issues"`
	GrammarIssues     []Issue            `json:"grammar_issues"`
	RedundancyScore   float64            `json:"redundancy_score"`
	SuggestedRewrites []SuggestedRewrite `json:"suggested_rewrites"`
	OverallQuality    QualityScores      `json:"overall_quality"`
	Pass              bool               `json:"pass"`
	ReviewNotes       string             `json:"review_notes,omitempty"`
	CreatedAt         string             `json:"created_at,omitempty"`
}

// IssueCount returns the number of issues across all categories.
func (r *ReviewPayload) IssueCount() int {
	return len(r.LogicIssues) + len(r.CitationIssues) + len(r.StyleIssues) + len(r.GrammarIssues)
}

func issueRules(i *fields) {
	i.text("issue_type", "description").
		oneOf("severity", Severities).
		optStr("block_id", "paragraph_id", "suggestion").
		optObject("location", func(l *fields) { l.number("start", "end") })
}

// ReviewContract accepts a ReviewPayload. pass and every quality sub-score
// must be present before a review is usable.
var ReviewContract = &Contract[ReviewPayload]{
	Name: NameReview,
	Required: []string{
		"logic_issues", "citation_issues", "style_issues", "grammar_issues",
		"redundancy_score", "suggested_rewrites", "overall_quality", "pass",
	},
	Rules: func(data map[string]any) error {
		return check(data).
			each("logic_issues", issueRules).
			each("citation_issues", issueRules).
			each("style_issues", issueRules).
			each("grammar_issues", issueRules).
			each("suggested_rewrites", func(r *fields) {
				r.text("block_id", "original_text", "suggested_text", "reason")
			}).
			object("overall_quality", func(q *fields) {
				q.number("logic_score", "citation_score", "style_score", "grammar_score", "overall_score")
			}).
			boolean("pass").
			number("redundancy_score").
			optStr("review_notes").
			done()
	},
}
