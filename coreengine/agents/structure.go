package agents

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
)

// StructureInput is what the argument architect designs from.
type StructureInput struct {
	ProjectID string
	Brief     schema.WritingBrief
	Pack      schema.ResearchPack
}

type structurePrompt struct {
	Agent           string
	Brief           schema.WritingBrief
	Pack            schema.ResearchPack
	LogicalPatterns []string
}

// Structure designs the argument outline.
//
// On top of StructureContract every block must cite at least one source and
// may only derive from insights present in the pack. An outline that does
// not close on a summary block is accepted with a warning.
func (s *Set) Structure(ctx context.Context, in StructureInput) (runtime.Result[schema.ArgumentOutline], error) {
	if len(in.Pack.Insights) == 0 {
		return runtime.Result[schema.ArgumentOutline]{}, failures.InvalidInput("research pack has no insights").WithAgent(schema.NameStructure)
	}
	data := structurePrompt{
		Agent:           schema.NameStructure,
		Brief:           in.Brief,
		Pack:            in.Pack,
		LogicalPatterns: schema.LogicalPatterns,
	}
	input := map[string]any{
		"topic":    in.Brief.Topic,
		"sources":  len(in.Pack.Sources),
		"insights": len(in.Pack.Insights),
	}

	res, err := run(ctx, s, schema.NameStructure, in.ProjectID, data, input, OutlineContract(in.Pack))
	if err != nil {
		return res, err
	}
	if blocks := res.Value.Ordered(); !schema.IsSummaryBlock(blocks[len(blocks)-1].Title, blocks[len(blocks)-1].MainArgument, "") {
		s.logger().Warn("outline_missing_summary_block",
			"project_id", in.ProjectID,
			"last_block", blocks[len(blocks)-1].BlockID,
		)
	}
	return res, nil
}

// OutlineContract is StructureContract bound to the insights of pack.
func OutlineContract(pack schema.ResearchPack) *schema.Contract[schema.ArgumentOutline] {
	known := make(map[string]struct{}, len(pack.Insights))
	for _, id := range pack.InsightIDs() {
		known[id] = struct{}{}
	}
	return schema.StructureContract.Extend(func(o *schema.ArgumentOutline) error {
		for _, b := range o.ArgumentBlocks {
			if len(b.CitationIDs) == 0 {
				return fmt.Errorf("argument_blocks: block %s has no citation_ids", b.BlockID)
			}
			for _, id := range b.DerivedFrom {
				if _, ok := known[id]; !ok {
					return fmt.Errorf("argument_blocks: block %s derives from unknown insight %s", b.BlockID, id)
				}
			}
		}
		return nil
	})
}
