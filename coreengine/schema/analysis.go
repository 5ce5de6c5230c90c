package schema

var (
	ParagraphTypes       = []string{"引言", "文献综述", "观点提出", "对比分析", "方法说明", "结论", "其他"}
	ViewpointGenerations = []string{"文献直接观点", "多文献综合", "基于数据的推导", "模型逻辑推演"}
)

// Annotation is coaching content for one drafted paragraph.
type Annotation struct {
	ParagraphID         string `json:"paragraph_id"`
	ParagraphType       string `json:"paragraph_type"`
	DevelopmentLogic    string `json:"development_logic"`
	EditingSuggestions  string `json:"editing_suggestions"`
	ViewpointGeneration string `json:"viewpoint_generation"`
}

// AnalysisPayload is the output of the draft analysis agent.
type AnalysisPayload struct {
	Annotations []Annotation `json:"annotations"`
}

// AnalysisContract accepts an AnalysisPayload. A missing annotations list
// defaults to empty; enumeration values outside the closed sets are rejected.
var AnalysisContract = &Contract[AnalysisPayload]{
	Name:     NameDraftAnalysis,
	Required: []string{"annotations"},
	Defaults: map[string]func() any{
		"annotations": func() any { return []any{} },
	},
	Rules: func(data map[string]any) error {
		return check(data).
			each("annotations", func(a *fields) {
				a.text("paragraph_id", "development_logic", "editing_suggestions").
					oneOf("paragraph_type", ParagraphTypes).
					oneOf("viewpoint_generation", ViewpointGenerations)
			}).
			done()
	},
}
