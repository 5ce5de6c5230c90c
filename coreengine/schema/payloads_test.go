package schema

import (
	"testing"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BRIEF
// =============================================================================

func TestBriefContract(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m map[string]any)
		wantErr string
	}{
		{"valid", func(m map[string]any) {}, ""},
		{"two insights", func(m map[string]any) {
			m["confirmed_insights"] = []any{"a", "b"}
		}, "confirmed_insights"},
		{"blank insight", func(m map[string]any) {
			m["confirmed_insights"] = []any{"a", "b", " "}
		}, "confirmed_insights"},
		{"unknown document type", func(m map[string]any) {
			at(m, "requirement_meta")["document_type"] = "novel"
		}, "requirement_meta.document_type"},
		{"unknown depth", func(m map[string]any) {
			at(m, "requirement_meta")["writing_depth"] = "very deep"
		}, "writing_depth"},
		{"citation style none", func(m map[string]any) {
			at(m, "requirement_meta")["citation_style"] = "none"
		}, ""},
		{"seo_mode as string", func(m map[string]any) {
			at(m, "requirement_meta")["seo_mode"] = "false"
		}, "seo_mode"},
		{"blank topic", func(m map[string]any) { m["topic"] = "" }, "topic"},
		{"missing meta", func(m map[string]any) { delete(m, "requirement_meta") }, "requirement_meta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.BriefPayload()
			tt.mutate(data)
			brief, err := BriefContract.Validate(data)
			if tt.wantErr != "" {
				requireSchemaError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, brief.ConfirmedInsights, 3)
		})
	}
}

func TestBriefContract_TypedFields(t *testing.T) {
	brief, err := BriefContract.Validate(testutil.BriefPayload())
	require.NoError(t, err)
	assert.Equal(t, "article", brief.RequirementMeta.DocumentType)
	assert.Equal(t, 3000, brief.RequirementMeta.MaxWordCount)
	assert.Equal(t, []string{"AI", "教育公平"}, brief.Keywords)
}

// =============================================================================
// RESEARCH
// =============================================================================

func TestResearchContracts(t *testing.T) {
	_, err := RetrievalPlanContract.Validate(map[string]any{"search_queries": []any{}, "search_directions": []any{}})
	requireSchemaError(t, err, "search_queries")

	synth := testutil.SynthesisPayload()
	at(synth, "insights", 0)["citability"] = "quote"
	_, err = SynthesisContract.Validate(synth)
	requireSchemaError(t, err, "insights[0].citability")

	synth = testutil.SynthesisPayload()
	at(synth, "insights", 1)["supporting_source_ids"] = []any{}
	_, err = SynthesisContract.Validate(synth)
	requireSchemaError(t, err, "insights[1].supporting_source_ids")

	pack, err := ResearchPackContract.Validate(testutil.ResearchPackPayload())
	require.NoError(t, err)
	assert.Equal(t, []string{"ins_1", "ins_2", "ins_3"}, pack.InsightIDs())

	bad := testutil.ResearchPackPayload()
	at(bad, "sources", 0)["source_type"] = "rumor"
	_, err = ResearchPackContract.Validate(bad)
	requireSchemaError(t, err, "sources[0].source_type")
}

// =============================================================================
// STRUCTURE
// =============================================================================

func TestStructureContract(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m map[string]any)
		wantErr string
	}{
		{"valid", func(m map[string]any) {}, ""},
		{"empty derived_from", func(m map[string]any) {
			at(m, "argument_blocks", 0)["derived_from"] = []any{}
		}, "argument_blocks[0].derived_from"},
		{"missing derived_from", func(m map[string]any) {
			delete(at(m, "argument_blocks", 2), "derived_from")
		}, "argument_blocks[2].derived_from"},
		{"duplicate order", func(m map[string]any) {
			at(m, "argument_blocks", 2)["order"] = 2.0
		}, "order values"},
		{"order gap", func(m map[string]any) {
			at(m, "argument_blocks", 2)["order"] = 5.0
		}, "order values"},
		{"fractional order", func(m map[string]any) {
			at(m, "argument_blocks", 0)["order"] = 1.5
		}, "must be an integer"},
		{"duplicate block id", func(m map[string]any) {
			at(m, "argument_blocks", 1)["block_id"] = "block_1"
		}, "duplicate block_id"},
		{"unknown pattern", func(m map[string]any) { m["logical_pattern"] = "随机" }, "logical_pattern"},
		{"no blocks", func(m map[string]any) { m["argument_blocks"] = []any{} }, "at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.StructurePayload()
			tt.mutate(data)
			_, err := StructureContract.Validate(data)
			if tt.wantErr != "" {
				requireSchemaError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestArgumentOutline_Ordered(t *testing.T) {
	o := ArgumentOutline{ArgumentBlocks: []ArgumentBlock{
		{BlockID: "b", Order: 2}, {BlockID: "c", Order: 3}, {BlockID: "a", Order: 1},
	}}
	ordered := o.Ordered()
	assert.Equal(t, "a", ordered[0].BlockID)
	assert.Equal(t, "c", ordered[2].BlockID)
	assert.Equal(t, "b", o.ArgumentBlocks[0].BlockID, "outline is untouched")
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

func TestAdjustmentContract(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		mutate   func(m map[string]any)
		wantErr  string
	}{
		{"valid", 3, func(m map[string]any) {}, ""},
		{"count ignored when zero", 0, func(m map[string]any) {}, ""},
		{"wrong count", 4, func(m map[string]any) {}, "expected 4 blocks, got 3"},
		{"summary not last", 3, func(m map[string]any) {
			last := at(m, "argument_blocks", 2)
			last["title"] = "技术细节"
			last["main_argument"] = "算法如何推荐内容"
			last["relation"] = "并列"
		}, "not a summary block"},
		{"summary by vocabulary only", 3, func(m map[string]any) {
			last := at(m, "argument_blocks", 2)
			last["title"] = "Conclusion"
			delete(last, "relation")
		}, ""},
		{"unknown relation", 3, func(m map[string]any) {
			at(m, "argument_blocks", 0)["relation"] = "随意"
		}, "relation"},
		{"order gap", 3, func(m map[string]any) {
			at(m, "argument_blocks", 2)["order"] = 4.0
		}, "order values"},
		{"summary last in array but not in order", 3, func(m map[string]any) {
			at(m, "argument_blocks", 1)["order"] = 3.0
			at(m, "argument_blocks", 2)["order"] = 2.0
		}, "not a summary block"},
		{"summary last in order but not in array", 3, func(m map[string]any) {
			at(m, "argument_blocks", 0)["order"] = 2.0
			at(m, "argument_blocks", 1)["order"] = 1.0
		}, ""},
		{"new block traces", 3, func(m map[string]any) {
			b := at(m, "argument_blocks", 1)
			b["derived_from"] = []any{"ins_2"}
			b["citation_ids"] = []any{"src_2"}
		}, ""},
		{"traces must be strings", 3, func(m map[string]any) {
			at(m, "argument_blocks", 1)["derived_from"] = []any{2.0}
		}, "derived_from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.AdjustedOutlinePayload()
			tt.mutate(data)
			out, err := AdjustmentContract(tt.expected).Validate(data)
			if tt.wantErr != "" {
				requireSchemaError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			last, ok := out.Last()
			require.True(t, ok)
			assert.Equal(t, 3, last.Order)
		})
	}
}

func TestIsSummaryBlock(t *testing.T) {
	tests := []struct {
		title, desc, relation string
		want                  bool
	}{
		{"任意标题", "", RelationSummary, true},
		{"结语", "", "", true},
		{"未来", "展望下一个十年", "", true},
		{"Looking Ahead", "", "", true},
		{"方法", "实验设计", "递进", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSummaryBlock(tt.title, tt.desc, tt.relation))
		})
	}
}

func TestOperation_Valid(t *testing.T) {
	for _, op := range []Operation{OpAdd, OpDelete, OpModify, OpCheck} {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, Operation("rename").Valid())
	assert.True(t, AdjustedBlock{ID: NewBlockID}.IsNew())
	assert.False(t, AdjustedBlock{ID: "block_1"}.IsNew())
}

// =============================================================================
// DRAFT, ANALYSIS, REVIEW, REFINE
// =============================================================================

func TestDraftContract(t *testing.T) {
	draft, err := DraftContract.Validate(testutil.DraftPayload())
	require.NoError(t, err)
	p, ok := draft.Paragraph("p_1")
	require.True(t, ok)
	require.Len(t, p.Citations, 1)
	require.NotNil(t, p.Citations[0].RelevanceScore)
	assert.InDelta(t, 0.9, *p.Citations[0].RelevanceScore, 1e-9)
	_, ok = draft.Paragraph("p_9")
	assert.False(t, ok)

	bad := testutil.DraftPayload()
	at(bad, "draft_blocks", 0)["coherence_score"] = 1.2
	_, err = DraftContract.Validate(bad)
	requireSchemaError(t, err, "coherence_score")

	bad = testutil.DraftPayload()
	delete(at(bad, "draft_blocks", 1), "citations")
	_, err = DraftContract.Validate(bad)
	requireSchemaError(t, err, "draft_blocks[1].citations")
}

func TestAnalysisContract(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   any
		wantErr bool
	}{
		{"known paragraph type", "paragraph_type", "引言", false},
		{"unknown paragraph type", "paragraph_type", "随笔", true},
		{"known viewpoint", "viewpoint_generation", "模型逻辑推演", false},
		{"unknown viewpoint", "viewpoint_generation", "灵感", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.AnalysisPayload()
			at(data, "annotations", 0)[tt.field] = tt.value
			_, err := AnalysisContract.Validate(data)
			if tt.wantErr {
				requireSchemaError(t, err, "annotations[0]."+tt.field)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAnalysisContract_NullAnnotationsDefault(t *testing.T) {
	out, err := AnalysisContract.Validate(map[string]any{"annotations": nil})
	require.NoError(t, err)
	assert.NotNil(t, out.Annotations)
	assert.Empty(t, out.Annotations)
}

func TestReviewContract(t *testing.T) {
	review, err := ReviewContract.Validate(testutil.ReviewPayload())
	require.NoError(t, err)
	assert.True(t, review.Pass)
	assert.Equal(t, 1, review.IssueCount())
	require.NotNil(t, review.LogicIssues[0].Location)

	bad := testutil.ReviewPayload()
	at(bad, "logic_issues", 0)["severity"] = "critical"
	_, err = ReviewContract.Validate(bad)
	requireSchemaError(t, err, "logic_issues[0].severity")

	bad = testutil.ReviewPayload()
	delete(at(bad, "overall_quality"), "overall_score")
	_, err = ReviewContract.Validate(bad)
	requireSchemaError(t, err, "overall_quality.overall_score")
}

func TestRefineContract(t *testing.T) {
	_, err := RefineContract.Validate(map[string]any{"refined_content": "x", "explanation": ""})
	require.NoError(t, err)

	_, err = RefineContract.Validate(map[string]any{"refined_content": " ", "explanation": "y"})
	requireSchemaError(t, err, "refined_content")
}
