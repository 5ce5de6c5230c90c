package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/agents"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
)

// StructureOutcome is an outline with coverage recomputed from the pack.
type StructureOutcome struct {
	Outline  schema.ArgumentOutline `json:"outline"`
	Coverage session.Coverage       `json:"coverage"`
}

// Structure designs the outline from the stored brief and research pack.
// A locked structure cannot be regenerated. With the thesis locked the
// outline keeps the brief's thesis.
func (s *Service) Structure(ctx context.Context, projectID string) (StructureOutcome, error) {
	var out StructureOutcome
	err := s.exec(ctx, OpStructure, projectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		if err := s.guard(sess, session.ArtifactStructure); err != nil {
			return err
		}
		brief, err := load[schema.WritingBrief](ctx, s, projectID, store.ArtifactBrief)
		if err != nil {
			return err
		}
		pack, err := load[schema.ResearchPack](ctx, s, projectID, store.ArtifactResearchPack)
		if err != nil {
			return err
		}

		res, err := invoke(ctx, s, run, schema.NameStructure, agents.OutlineContract(pack), func(ctx context.Context) (runtime.Result[schema.ArgumentOutline], error) {
			return s.Agents.Structure(ctx, agents.StructureInput{ProjectID: projectID, Brief: brief, Pack: pack})
		})
		if err != nil {
			return err
		}

		outline := res.Value
		if sess.LockedCoreThesis && outline.CoreThesis != brief.UserCoreThesis {
			s.Logger.Info("core_thesis_pinned", "project_id", projectID)
			outline.CoreThesis = brief.UserCoreThesis
		}
		coverage := stampCoverage(&outline, pack)

		if _, err := s.save(ctx, projectID, store.ArtifactOutline, outline); err != nil {
			return err
		}
		if _, err := s.advance(ctx, sess, session.StageStructure); err != nil {
			return err
		}
		out = StructureOutcome{Outline: outline, Coverage: coverage}
		return nil
	})
	return out, err
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

// AdjustRequest is one user edit to the stored outline. BlockIndex is
// 0-based; Block carries the new or modified block. An added block may carry
// its own derived_from and citation_ids; otherwise the model supplies them.
type AdjustRequest struct {
	ProjectID  string                `json:"project_id"`
	Operation  schema.Operation      `json:"operation"`
	BlockIndex int                   `json:"block_index"`
	Block      *schema.AdjustedBlock `json:"block,omitempty"`
}

// AdjustOutcome is the model's adjusted outline and the full outline
// stored from it.
type AdjustOutcome struct {
	Adjusted schema.AdjustedOutline `json:"adjusted"`
	Outline  schema.ArgumentOutline `json:"outline"`
	Coverage session.Coverage       `json:"coverage"`
}

// AdjustStructure applies an edit to the latest outline and stores the
// adjusted result as a new outline version.
func (s *Service) AdjustStructure(ctx context.Context, req AdjustRequest) (AdjustOutcome, error) {
	var out AdjustOutcome
	err := s.exec(ctx, OpAdjustStructure, req.ProjectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		if err := s.guard(sess, session.ArtifactStructure); err != nil {
			return err
		}
		outline, err := load[schema.ArgumentOutline](ctx, s, req.ProjectID, store.ArtifactOutline)
		if err != nil {
			return err
		}
		pack, err := load[schema.ResearchPack](ctx, s, req.ProjectID, store.ArtifactResearchPack)
		if err != nil {
			return err
		}

		current := adjustedBlocks(outline)
		applied, err := agents.ApplyOperation(current, req.Operation, req.BlockIndex, req.Block)
		if err != nil {
			return err
		}
		res, err := invoke(ctx, s, run, schema.NameStructureAdjustment, agents.AdjustedContract(applied, pack), func(ctx context.Context) (runtime.Result[schema.AdjustedOutline], error) {
			return s.Agents.Adjust(ctx, agents.AdjustInput{
				ProjectID:  req.ProjectID,
				CoreThesis: outline.CoreThesis,
				Blocks:     current,
				Pack:       pack,
				Operation:  req.Operation,
				BlockIndex: req.BlockIndex,
				Block:      req.Block,
			})
		})
		if err != nil {
			return err
		}

		merged := MergeAdjusted(outline, res.Value)
		if sess.LockedCoreThesis {
			merged.CoreThesis = outline.CoreThesis
		}
		coverage := stampCoverage(&merged, pack)
		if err := checkOutline(merged, pack); err != nil {
			s.Logger.Warn("adjusted_outline_rejected", "project_id", req.ProjectID, "error", err.Error())
			return err
		}
		if _, err := s.save(ctx, req.ProjectID, store.ArtifactOutline, merged); err != nil {
			return err
		}
		out = AdjustOutcome{Adjusted: res.Value, Outline: merged, Coverage: coverage}
		return nil
	})
	return out, err
}

// stampCoverage replaces the outline's coverage_check with coverage computed
// from its blocks.
func stampCoverage(outline *schema.ArgumentOutline, pack schema.ResearchPack) session.Coverage {
	coverage := session.ComputeCoverage(*outline, pack)
	outline.CoverageCheck = schema.CoverageCheck{
		CoveredInsights:    coverage.Covered,
		UnusedInsights:     coverage.Unused,
		CoveragePercentage: coverage.Percentage,
	}
	return coverage
}

// checkOutline holds a merged outline to the same contract as a generated
// one. Nothing is stored when it fails.
func checkOutline(outline schema.ArgumentOutline, pack schema.ResearchPack) error {
	data, err := schema.ToMap(outline)
	if err != nil {
		return fmt.Errorf("encode merged outline: %w", err)
	}
	return agents.OutlineContract(pack).Explain(data)
}

func adjustedBlocks(outline schema.ArgumentOutline) []schema.AdjustedBlock {
	ordered := outline.Ordered()
	out := make([]schema.AdjustedBlock, 0, len(ordered))
	for _, b := range ordered {
		out = append(out, schema.AdjustedBlock{
			ID:           b.BlockID,
			Title:        b.Title,
			MainArgument: b.MainArgument,
			Order:        b.Order,
			DerivedFrom:  b.DerivedFrom,
			CitationIDs:  b.CitationIDs,
		})
	}
	return out
}

// MergeAdjusted rebuilds a full outline from an adjusted one, in order of
// the adjusted blocks' order values. Kept blocks retain their stored
// insights and citations; new blocks get a fresh block id and the traces
// the adjustment gave them. Word estimates are redistributed over the
// result.
func MergeAdjusted(outline schema.ArgumentOutline, adjusted schema.AdjustedOutline) schema.ArgumentOutline {
	byID := make(map[string]schema.ArgumentBlock, len(outline.ArgumentBlocks))
	taken := make(map[string]bool, len(outline.ArgumentBlocks))
	for _, b := range outline.ArgumentBlocks {
		byID[b.BlockID] = b
		taken[b.BlockID] = true
	}

	blocks := append([]schema.AdjustedBlock(nil), adjusted.ArgumentBlocks...)
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Order < blocks[j].Order })

	next := len(outline.ArgumentBlocks) + 1
	merged := schema.ArgumentOutline{
		CoreThesis:                adjusted.CoreThesis,
		LogicalPattern:            outline.LogicalPattern,
		ArgumentBlocks:            make([]schema.ArgumentBlock, 0, len(blocks)),
		EstimatedWordDistribution: map[string]float64{},
	}
	if merged.CoreThesis == "" {
		merged.CoreThesis = outline.CoreThesis
	}

	for i, ab := range blocks {
		b, ok := byID[ab.ID]
		if ab.IsNew() || !ok {
			for taken[fmt.Sprintf("block_%d", next)] {
				next++
			}
			id := fmt.Sprintf("block_%d", next)
			taken[id] = true
			b = schema.ArgumentBlock{
				BlockID:     id,
				DerivedFrom: append([]string{}, ab.DerivedFrom...),
				CitationIDs: append([]string{}, ab.CitationIDs...),
			}
		}
		b.Title = ab.Title
		b.MainArgument = ab.MainArgument
		b.Order = i + 1
		merged.ArgumentBlocks = append(merged.ArgumentBlocks, b)
		merged.TotalEstimatedWords += b.EstimatedWordCount
	}

	if total := merged.TotalEstimatedWords; total > 0 {
		for _, b := range merged.ArgumentBlocks {
			merged.EstimatedWordDistribution[b.BlockID] = float64(b.EstimatedWordCount) / float64(total)
		}
	}
	return merged
}
