package session

import "github.com/jeeves-cluster-organization/cowrite/coreengine/schema"

// Coverage reports which research insights an outline uses.
type Coverage struct {
	Covered    []string `json:"covered_insights"`
	Unused     []string `json:"unused_insights"`
	Percentage float64  `json:"coverage_percentage"`
	// Unknown lists derived_from ids absent from the pack.
	Unknown []string `json:"unknown_insights,omitempty"`
}

// ComputeCoverage derives coverage from the outline's derived_from lists
// rather than trusting the model's own coverage_check.
func ComputeCoverage(outline schema.ArgumentOutline, pack schema.ResearchPack) Coverage {
	used := make(map[string]bool)
	var unknown []string
	known := make(map[string]bool, len(pack.Insights))
	for _, id := range pack.InsightIDs() {
		known[id] = true
	}
	for _, b := range outline.ArgumentBlocks {
		for _, id := range b.DerivedFrom {
			if !known[id] && !used[id] {
				unknown = append(unknown, id)
			}
			used[id] = true
		}
	}

	c := Coverage{Covered: []string{}, Unused: []string{}, Unknown: unknown}
	for _, id := range pack.InsightIDs() {
		if used[id] {
			c.Covered = append(c.Covered, id)
		} else {
			c.Unused = append(c.Unused, id)
		}
	}
	if n := len(pack.Insights); n > 0 {
		c.Percentage = float64(len(c.Covered)) / float64(n)
	}
	return c
}

// Completeness reports how much of an outline a draft has written.
type Completeness struct {
	Drafted []string `json:"drafted_blocks"`
	Missing []string `json:"missing_blocks"`
	// Uncited lists drafted blocks none of whose paragraphs cite a source.
	Uncited []string `json:"uncited_blocks"`
	Ratio   float64  `json:"ratio"`
}

// DraftCompleteness compares a draft against the outline it was written
// from, in outline order.
func DraftCompleteness(draft schema.DraftPayload, outline schema.ArgumentOutline) Completeness {
	paragraphs := make(map[string]int)
	cited := make(map[string]bool)
	for _, p := range draft.DraftBlocks {
		paragraphs[p.BlockID]++
		if len(p.Citations) > 0 {
			cited[p.BlockID] = true
		}
	}

	c := Completeness{Drafted: []string{}, Missing: []string{}, Uncited: []string{}}
	blocks := outline.Ordered()
	for _, b := range blocks {
		if paragraphs[b.BlockID] == 0 {
			c.Missing = append(c.Missing, b.BlockID)
			continue
		}
		c.Drafted = append(c.Drafted, b.BlockID)
		if !cited[b.BlockID] {
			c.Uncited = append(c.Uncited, b.BlockID)
		}
	}
	if len(blocks) > 0 {
		c.Ratio = float64(len(c.Drafted)) / float64(len(blocks))
	}
	return c
}
