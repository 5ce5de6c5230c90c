package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/envelope"
)

// FixedTime is the timestamp stamped on fixture envelopes.
var FixedTime = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// =============================================================================
// ENVELOPES
// =============================================================================

// Envelope wraps payload the way a well-behaved model would.
func Envelope(agent string, payload any) string {
	s, err := envelope.Wrap(agent, payload, FixedTime)
	if err != nil {
		panic(fmt.Sprintf("testutil: wrap %s: %v", agent, err))
	}
	return s
}

// FencedEnvelope is Envelope inside a markdown code fence with chatter
// around it, which is how models usually answer.
func FencedEnvelope(agent string, payload any) string {
	return "好的，以下是结果：\n```json\n" + Envelope(agent, payload) + "\n```\n"
}

// =============================================================================
// PAYLOADS
// =============================================================================
//
// Every payload is built from a JSON literal so numbers decode as float64,
// matching what the envelope parser produces.

func mustJSON(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		panic(fmt.Sprintf("testutil: bad fixture: %v", err))
	}
	return m
}

// BriefPayload is a valid writing brief.
func BriefPayload() map[string]any {
	return mustJSON(`{
		"topic": "AI 教育",
		"user_core_thesis": "AI 正在重塑教育的公平与效率",
		"confirmed_insights": [
			"个性化学习路径提升了学习效率",
			"AI 工具拉大了城乡数字鸿沟",
			"教师角色正在从讲授者转向引导者"
		],
		"requirement_meta": {
			"document_type": "article",
			"target_audience": "教育从业者",
			"writing_depth": "中",
			"citation_style": "APA",
			"language": "zh",
			"max_word_count": 3000,
			"seo_mode": false,
			"tone": "客观"
		},
		"keywords": ["AI", "教育公平"]
	}`)
}

// RetrievalPlanPayload is a valid retrieval plan.
func RetrievalPlanPayload() map[string]any {
	return mustJSON(`{
		"search_queries": ["AI 教育 影响", "个性化学习 实证"],
		"search_directions": ["政策", "课堂实践"],
		"personal_material_ids": ["mat_1"]
	}`)
}

// SynthesisPayload is a valid synthesis result citing src_1 and src_2.
func SynthesisPayload() map[string]any {
	return mustJSON(`{
		"insights": [
			{"id": "ins_1", "category": "事实", "content": "自适应系统缩短了掌握时间",
			 "supporting_source_ids": ["src_1"], "citability": "direct",
			 "evidence_strength": "strong", "risk_flag": false, "confidence_score": 0.9},
			{"id": "ins_2", "category": "风险", "content": "农村学校缺少设备",
			 "supporting_source_ids": ["src_2"], "citability": "paraphrase",
			 "evidence_strength": "medium", "risk_flag": true, "confidence_score": 0.7},
			{"id": "ins_3", "category": "趋势", "content": "教师转向学习设计",
			 "supporting_source_ids": ["src_1", "src_2"], "citability": "background",
			 "evidence_strength": "weak", "risk_flag": false, "confidence_score": 0.5}
		],
		"summary": {"total_sources": 2, "total_insights": 3, "coverage_score": 0.4, "quality_score": 0.7}
	}`)
}

// ResearchPackPayload is a valid research pack with two sources and the
// insights from SynthesisPayload.
func ResearchPackPayload() map[string]any {
	pack := mustJSON(`{
		"sources": [
			{"id": "src_1", "title": "自适应学习研究", "content": "实验表明掌握时间缩短 30%",
			 "source_type": "academic", "credibility_score": 0.9, "recency_score": 0.8,
			 "relevance_score": 0.9, "token_length": 120},
			{"id": "src_2", "title": "城乡教育调查", "content": "农村学校设备覆盖率不足一半",
			 "source_type": "news", "credibility_score": 0.7, "recency_score": 0.9,
			 "relevance_score": 0.8, "token_length": 80}
		],
		"summary": {"total_sources": 2, "total_insights": 3, "coverage_score": 0.4, "quality_score": 0.7}
	}`)
	pack["insights"] = SynthesisPayload()["insights"]
	return pack
}

// StructurePayload is a valid three-block outline over ins_1..ins_3.
func StructurePayload() map[string]any {
	return mustJSON(`{
		"core_thesis": "AI 正在重塑教育的公平与效率",
		"argument_blocks": [
			{"block_id": "block_1", "title": "效率的提升", "main_argument": "自适应系统让学习更快",
			 "derived_from": ["ins_1"], "citation_ids": ["src_1"], "estimated_word_count": 800, "order": 1},
			{"block_id": "block_2", "title": "公平的隐忧", "main_argument": "设备差距放大不平等",
			 "derived_from": ["ins_2"], "citation_ids": ["src_2"], "estimated_word_count": 800, "order": 2},
			{"block_id": "block_3", "title": "总结与展望", "main_argument": "教师角色转变决定结果",
			 "derived_from": ["ins_3"], "citation_ids": ["src_1", "src_2"], "estimated_word_count": 600, "order": 3}
		],
		"coverage_check": {"covered_insights": ["ins_1", "ins_2", "ins_3"], "unused_insights": [], "coverage_percentage": 1.0},
		"logical_pattern": "递进",
		"estimated_word_distribution": {"block_1": 0.36, "block_2": 0.36, "block_3": 0.28},
		"total_estimated_words": 2200
	}`)
}

// AdjustedOutlinePayload is a valid three-block adjusted outline ending in
// a summary block.
func AdjustedOutlinePayload() map[string]any {
	return mustJSON(`{
		"core_thesis": "AI 正在重塑教育的公平与效率",
		"argument_blocks": [
			{"id": "block_1", "title": "效率的提升", "main_argument": "自适应系统让学习更快", "order": 1, "relation": "并列"},
			{"id": "block_2", "title": "公平的隐忧", "main_argument": "设备差距放大不平等", "order": 2, "relation": "递进"},
			{"id": "block_4", "title": "总结与展望", "main_argument": "综上，教师角色转变决定结果", "order": 3, "relation": "总结"}
		]
	}`)
}

// DraftPayload is a valid two-paragraph draft.
func DraftPayload() map[string]any {
	return mustJSON(`{
		"draft_blocks": [
			{"block_id": "block_1", "paragraph_id": "p_1", "content": "自适应学习系统让学生的掌握时间缩短了三成。",
			 "derived_from": ["ins_1"],
			 "citations": [{"source_id": "src_1", "source_title": "自适应学习研究", "citation_type": "direct",
			                "citation_display": "(Li, 2024)", "relevance_score": 0.9}],
			 "coherence_score": 0.86, "requires_user_input": false, "order": 1,
			 "coaching_tip": {"rationale": "开篇给出数据", "suggestion": "补充样本规模"}},
			{"block_id": "block_2", "paragraph_id": "p_2", "content": "然而，农村学校的设备覆盖率不足一半。",
			 "derived_from": ["ins_2"], "citations": [],
			 "coherence_score": 0.78, "requires_user_input": true, "order": 2}
		],
		"global_coherence_score": 0.82,
		"missing_evidence_blocks": ["block_2"],
		"needs_revision": false,
		"total_word_count": 40
	}`)
}

// AnalysisPayload is a valid paragraph analysis of DraftPayload.
func AnalysisPayload() map[string]any {
	return mustJSON(`{
		"annotations": [
			{"paragraph_id": "p_1", "paragraph_type": "引言", "development_logic": "以数据引出论点",
			 "editing_suggestions": "补充研究背景", "viewpoint_generation": "文献直接观点"},
			{"paragraph_id": "p_2", "paragraph_type": "对比分析", "development_logic": "转折揭示代价",
			 "editing_suggestions": "增加来源", "viewpoint_generation": "多文献综合"}
		]
	}`)
}

// ReviewPayload is a valid passing review.
func ReviewPayload() map[string]any {
	return mustJSON(`{
		"logic_issues": [
			{"block_id": "block_2", "issue_type": "logic_gap", "severity": "medium",
			 "description": "转折缺少过渡", "suggestion": "增加过渡句", "location": {"start": 0, "end": 3}}
		],
		"citation_issues": [],
		"style_issues": [],
		"grammar_issues": [],
		"redundancy_score": 0.1,
		"suggested_rewrites": [
			{"block_id": "block_2", "original_text": "然而", "suggested_text": "与此同时", "reason": "语气更平缓"}
		],
		"overall_quality": {"logic_score": 0.8, "citation_score": 0.7, "style_score": 0.85, "grammar_score": 0.95, "overall_score": 0.82},
		"pass": true,
		"review_notes": "整体结构清晰"
	}`)
}

// RefinePayload is a valid paragraph refinement.
func RefinePayload() map[string]any {
	return mustJSON(`{
		"refined_content": "自适应学习系统将学生的平均掌握时间缩短了约三成。",
		"explanation": "量化表述更精确"
	}`)
}
