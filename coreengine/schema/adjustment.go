package schema

import (
	"fmt"
	"strings"
)

// Operation is a user edit applied to an outline before adjustment.
type Operation string

const (
	OpAdd    Operation = "add"
	OpDelete Operation = "delete"
	OpModify Operation = "modify"
	OpCheck  Operation = "check"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpAdd, OpDelete, OpModify, OpCheck:
		return true
	}
	return false
}

// RelationSummary marks a closing block.
const RelationSummary = "总结"

var Relations = []string{"并列", "递进", "因果", "对比", RelationSummary}

// NewBlockID is what the model returns for a block it created.
const NewBlockID = "new_block"

// SummaryVocabulary are the markers of a closing block: restating the
// thesis, synthesizing, or looking ahead.
var SummaryVocabulary = []string{
	"总结", "复述", "升华", "展望", "结论", "结语", "综上", "回顾",
	"summary", "conclusion", "synthesis", "outlook", "looking ahead", "restate",
}

// AdjustedBlock is one block of an adjusted outline. DerivedFrom and
// CitationIDs are only read for new blocks; kept blocks retain the traces
// stored with the outline.
type AdjustedBlock struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	MainArgument string   `json:"main_argument"`
	Order        int      `json:"order"`
	Relation     string   `json:"relation,omitempty"`
	DerivedFrom  []string `json:"derived_from,omitempty"`
	CitationIDs  []string `json:"citation_ids,omitempty"`
}

// Description is the block's role in the argument.
func (b AdjustedBlock) Description() string {
	return b.MainArgument
}

// IsNew reports whether the model created this block.
func (b AdjustedBlock) IsNew() bool {
	return b.ID == "" || b.ID == NewBlockID
}

// AdjustedOutline is the output of the structure adjustment agent.
type AdjustedOutline struct {
	CoreThesis     string          `json:"core_thesis"`
	ArgumentBlocks []AdjustedBlock `json:"argument_blocks"`
}

// Last returns the closing block, the one with the highest order. Array
// position is ignored.
func (o *AdjustedOutline) Last() (AdjustedBlock, bool) {
	if len(o.ArgumentBlocks) == 0 {
		return AdjustedBlock{}, false
	}
	last := o.ArgumentBlocks[0]
	for _, b := range o.ArgumentBlocks[1:] {
		if b.Order > last.Order {
			last = b
		}
	}
	return last, true
}

// IsSummaryBlock reports whether a block closes an outline: either its
// relation is 总结 or its title or description uses the summary vocabulary.
func IsSummaryBlock(title, description, relation string) bool {
	if relation == RelationSummary {
		return true
	}
	text := strings.ToLower(title + " " + description)
	for _, word := range SummaryVocabulary {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

// AdjustmentContract accepts an AdjustedOutline whose last block is a
// summary block. When expectedBlocks is positive the outline must have
// exactly that many blocks.
func AdjustmentContract(expectedBlocks int) *Contract[AdjustedOutline] {
	return &Contract[AdjustedOutline]{
		Name:     NameStructureAdjustment,
		Required: []string{"core_thesis", "argument_blocks"},
		Rules: func(data map[string]any) error {
			return check(data).
				text("core_thesis").
				minItems("argument_blocks", 1).
				each("argument_blocks", func(b *fields) {
					b.text("title", "main_argument").
						optStr("id").
						integer("order").
						optOneOf("relation", Relations).
						optStringArray("derived_from", "citation_ids")
				}).
				done()
		},
		Post: func(o *AdjustedOutline) error {
			if expectedBlocks > 0 && len(o.ArgumentBlocks) != expectedBlocks {
				return fmt.Errorf("argument_blocks: expected %d blocks, got %d", expectedBlocks, len(o.ArgumentBlocks))
			}
			orders := make([]int, 0, len(o.ArgumentBlocks))
			for _, b := range o.ArgumentBlocks {
				orders = append(orders, b.Order)
			}
			if err := contiguousOrder(orders); err != nil {
				return err
			}
			last, _ := o.Last()
			if !IsSummaryBlock(last.Title, last.Description(), last.Relation) {
				return fmt.Errorf("argument_blocks: final block %q is not a summary block", last.Title)
			}
			return nil
		},
	}
}
