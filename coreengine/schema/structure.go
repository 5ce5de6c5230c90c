package schema

import (
	"fmt"
	"sort"
)

var LogicalPatterns = []string{"因果", "递进", "总分", "并列", "对比"}

// ArgumentBlock is one structural unit of an outline.
type ArgumentBlock struct {
	BlockID            string   `json:"block_id"`
	Title              string   `json:"title"`
	MainArgument       string   `json:"main_argument"`
	DerivedFrom        []string `json:"derived_from"`
	CitationIDs        []string `json:"citation_ids"`
	SupportingPoints   []string `json:"supporting_points,omitempty"`
	EstimatedWordCount int      `json:"estimated_word_count,omitempty"`
	Order              int      `json:"order"`
}

// CoverageCheck records which insights an outline uses.
type CoverageCheck struct {
	CoveredInsights    []string `json:"covered_insights"`
	UnusedInsights     []string `json:"unused_insights"`
	CoveragePercentage float64  `json:"coverage_percentage"`
}

// ArgumentOutline is the output of the structure agent.
type ArgumentOutline struct {
	CoreThesis                string             `json:"core_thesis"`
	ArgumentBlocks            []ArgumentBlock    `json:"argument_blocks"`
	CoverageCheck             CoverageCheck      `json:"coverage_check"`
	LogicalPattern            string             `json:"logical_pattern"`
	EstimatedWordDistribution map[string]float64 `json:"estimated_word_distribution"`
	TotalEstimatedWords       int                `json:"total_estimated_words,omitempty"`
}

// Ordered returns the blocks sorted by Order without touching the outline.
func (o *ArgumentOutline) Ordered() []ArgumentBlock {
	blocks := append([]ArgumentBlock(nil), o.ArgumentBlocks...)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Order < blocks[j].Order })
	return blocks
}

// StructureContract accepts an ArgumentOutline. Every block must trace to
// at least one insight, and block order values must run 1..n without gaps.
var StructureContract = &Contract[ArgumentOutline]{
	Name:     NameStructure,
	Required: []string{"core_thesis", "argument_blocks", "coverage_check", "logical_pattern", "estimated_word_distribution"},
	Rules: func(data map[string]any) error {
		return check(data).
			text("core_thesis").
			minItems("argument_blocks", 1).
			each("argument_blocks", func(b *fields) {
				b.text("block_id", "title", "main_argument").
					nonEmpty("derived_from", 1).
					stringArray("citation_ids").
					optStringArray("supporting_points").
					optNumber("estimated_word_count").
					integer("order")
			}).
			object("coverage_check", func(c *fields) {
				c.stringArray("covered_insights").
					optStringArray("unused_insights").
					optNumber("coverage_percentage")
			}).
			oneOf("logical_pattern", LogicalPatterns).
			object("estimated_word_distribution", nil).
			done()
	},
	Post: func(o *ArgumentOutline) error {
		ids := make(map[string]struct{}, len(o.ArgumentBlocks))
		orders := make([]int, 0, len(o.ArgumentBlocks))
		for _, b := range o.ArgumentBlocks {
			if _, dup := ids[b.BlockID]; dup {
				return fmt.Errorf("argument_blocks: duplicate block_id %s", b.BlockID)
			}
			ids[b.BlockID] = struct{}{}
			orders = append(orders, b.Order)
		}
		return contiguousOrder(orders)
	},
}

// contiguousOrder requires orders to be a permutation of 1..n.
func contiguousOrder(orders []int) error {
	sorted := append([]int(nil), orders...)
	sort.Ints(sorted)
	for i, o := range sorted {
		if o != i+1 {
			return fmt.Errorf("argument_blocks: order values must be unique and run 1..%d, got %v", len(orders), orders)
		}
	}
	return nil
}
