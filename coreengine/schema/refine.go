package schema

// RefineResult is the output of the paragraph refinement agent.
type RefineResult struct {
	RefinedContent string `json:"refined_content"`
	Explanation    string `json:"explanation"`
}

// RefineContract accepts a RefineResult.
var RefineContract = &Contract[RefineResult]{
	Name:     NameRefineParagraph,
	Required: []string{"refined_content", "explanation"},
	Rules: func(data map[string]any) error {
		return check(data).
			text("refined_content").
			str("explanation").
			done()
	},
}
