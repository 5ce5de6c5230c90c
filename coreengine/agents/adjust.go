package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"go.opentelemetry.io/otel/attribute"
)

// AdjustInput is a user edit to an outline. BlockIndex is 0-based and
// ignored for OpCheck. Block carries the user's text for OpAdd and OpModify;
// an add without it inserts an empty block for the model to fill in. New
// blocks must trace to insights of Pack.
type AdjustInput struct {
	ProjectID  string
	CoreThesis string
	Blocks     []schema.AdjustedBlock
	Pack       schema.ResearchPack
	Operation  schema.Operation
	BlockIndex int
	Block      *schema.AdjustedBlock
}

// ApplyOperation applies an edit to blocks and renumbers the result 1..n.
// blocks is not modified.
func ApplyOperation(blocks []schema.AdjustedBlock, op schema.Operation, index int, edit *schema.AdjustedBlock) ([]schema.AdjustedBlock, error) {
	out := append([]schema.AdjustedBlock(nil), blocks...)
	switch op {
	case schema.OpAdd:
		if index < 0 || index > len(out) {
			return nil, failures.InvalidInput(fmt.Sprintf("block_index %d out of range for add to %d blocks", index, len(out)))
		}
		b := schema.AdjustedBlock{ID: schema.NewBlockID}
		if edit != nil {
			b = *edit
			b.ID = schema.NewBlockID
		}
		out = append(out[:index], append([]schema.AdjustedBlock{b}, out[index:]...)...)
	case schema.OpDelete:
		if index < 0 || index >= len(out) {
			return nil, failures.InvalidInput(fmt.Sprintf("block_index %d out of range for %d blocks", index, len(out)))
		}
		if len(out) == 1 {
			return nil, failures.InvalidInput("cannot delete the only block")
		}
		out = append(out[:index], out[index+1:]...)
	case schema.OpModify:
		if index < 0 || index >= len(out) {
			return nil, failures.InvalidInput(fmt.Sprintf("block_index %d out of range for %d blocks", index, len(out)))
		}
		if edit == nil {
			return nil, failures.InvalidInput("modify requires the edited block")
		}
		if t := strings.TrimSpace(edit.Title); t != "" {
			out[index].Title = t
		}
		if a := strings.TrimSpace(edit.MainArgument); a != "" {
			out[index].MainArgument = a
		}
	case schema.OpCheck:
	default:
		return nil, failures.InvalidInput(fmt.Sprintf("unknown operation %q", op))
	}
	if len(out) == 0 {
		return nil, failures.InvalidInput("outline has no blocks")
	}
	for i := range out {
		out[i].Order = i + 1
	}
	return out, nil
}

func adjustmentTask(op schema.Operation, index int) string {
	const closing = "Make sure the final block is a summary block that restates the thesis, synthesizes, or looks ahead."
	pos := index + 1
	switch op {
	case schema.OpAdd:
		return fmt.Sprintf("The user added a new block at position %d. Write a title and main_argument for it so it flows from the block before and into the block after. %s", pos, closing)
	case schema.OpDelete:
		return fmt.Sprintf("The user deleted the block at position %d. Revise the relations of the remaining blocks so the argument still flows. %s", pos, closing)
	case schema.OpModify:
		return fmt.Sprintf("The user modified the block at position %d. Check and revise the relations of the neighbouring blocks so the argument stays coherent. %s", pos, closing)
	default:
		return "Check the coherence of the whole argument structure and make the relations between blocks explicit. " + closing
	}
}

type adjustPrompt struct {
	Agent           string
	CoreThesis      string
	Blocks          []schema.AdjustedBlock
	Pack            schema.ResearchPack
	Task            string
	Relations       []string
	SummaryRelation string
	NewBlockID      string
}

// Adjust applies a user edit and asks the model to repair the transitions
// around it. The result must have exactly as many blocks as the edited
// outline, close on a summary block, and return every kept id exactly once.
func (s *Set) Adjust(ctx context.Context, in AdjustInput) (runtime.Result[schema.AdjustedOutline], error) {
	var zero runtime.Result[schema.AdjustedOutline]
	if strings.TrimSpace(in.CoreThesis) == "" {
		return zero, failures.InvalidInput("core thesis is required").WithAgent(schema.NameStructureAdjustment)
	}
	if !in.Operation.Valid() {
		return zero, failures.InvalidInput(fmt.Sprintf("unknown operation %q", in.Operation)).WithAgent(schema.NameStructureAdjustment)
	}
	applied, err := ApplyOperation(in.Blocks, in.Operation, in.BlockIndex, in.Block)
	if err != nil {
		return zero, withAgent(err, schema.NameStructureAdjustment)
	}

	ctx, span := tracer.Start(ctx, "agents.adjust")
	defer span.End()
	span.SetAttributes(
		attribute.String("cowrite.adjust.operation", string(in.Operation)),
		attribute.Int("cowrite.adjust.block_index", in.BlockIndex),
		attribute.Int("cowrite.adjust.blocks", len(applied)),
	)

	data := adjustPrompt{
		Agent:           schema.NameStructureAdjustment,
		CoreThesis:      in.CoreThesis,
		Blocks:          applied,
		Pack:            in.Pack,
		Task:            adjustmentTask(in.Operation, in.BlockIndex),
		Relations:       schema.Relations,
		SummaryRelation: schema.RelationSummary,
		NewBlockID:      schema.NewBlockID,
	}
	input := map[string]any{
		"operation":   string(in.Operation),
		"block_index": in.BlockIndex,
		"blocks":      len(applied),
	}
	return run(ctx, s, schema.NameStructureAdjustment, in.ProjectID, data, input, AdjustedContract(applied, in.Pack))
}

// AdjustedContract is the adjustment contract for one edited outline. Every
// kept block of applied must come back exactly once, and every new block
// must derive from insights of pack and cite at least one source.
func AdjustedContract(applied []schema.AdjustedBlock, pack schema.ResearchPack) *schema.Contract[schema.AdjustedOutline] {
	known := make(map[string]struct{}, len(applied))
	for _, b := range applied {
		if !b.IsNew() {
			known[b.ID] = struct{}{}
		}
	}
	insights := make(map[string]struct{}, len(pack.Insights))
	for _, id := range pack.InsightIDs() {
		insights[id] = struct{}{}
	}
	return schema.AdjustmentContract(len(applied)).Extend(func(o *schema.AdjustedOutline) error {
		seen := make(map[string]struct{}, len(known))
		for _, b := range o.ArgumentBlocks {
			if b.IsNew() {
				if err := newBlockTraces(b, insights); err != nil {
					return err
				}
				continue
			}
			if _, ok := known[b.ID]; !ok {
				return fmt.Errorf("argument_blocks: unknown block id %s", b.ID)
			}
			if _, dup := seen[b.ID]; dup {
				return fmt.Errorf("argument_blocks: duplicate block id %s", b.ID)
			}
			seen[b.ID] = struct{}{}
		}
		for _, b := range applied {
			if _, ok := seen[b.ID]; !b.IsNew() && !ok {
				return fmt.Errorf("argument_blocks: block %s is missing", b.ID)
			}
		}
		return nil
	})
}

func newBlockTraces(b schema.AdjustedBlock, insights map[string]struct{}) error {
	if len(b.DerivedFrom) == 0 {
		return fmt.Errorf("argument_blocks: new block %q has no derived_from", b.Title)
	}
	if len(b.CitationIDs) == 0 {
		return fmt.Errorf("argument_blocks: new block %q has no citation_ids", b.Title)
	}
	for _, id := range b.DerivedFrom {
		if _, ok := insights[id]; !ok {
			return fmt.Errorf("argument_blocks: new block %q derives from unknown insight %s", b.Title, id)
		}
	}
	return nil
}
