package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Contract names. Each matches the agent that produces the payload.
const (
	NameBrief               = "brief"
	NameResearchRetrieval   = "research-retrieval"
	NameResearchSynthesis   = "research-synthesis"
	NameResearchPack        = "research-pack"
	NameStructure           = "structure"
	NameStructureAdjustment = "structure-adjustment"
	NameDraft               = "draft"
	NameDraftAnalysis       = "draft-analysis"
	NameReview              = "review"
	NameRefineParagraph     = "refine-paragraph"
)

// Registry maps contract names to validators.
type Registry struct {
	validators map[string]Validator
	mu         sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register adds v. Names are unique.
func (r *Registry) Register(v Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[v.SchemaName()]; exists {
		return fmt.Errorf("schema %s already registered", v.SchemaName())
	}
	r.validators[v.SchemaName()] = v
	return nil
}

// Lookup returns the validator registered under name.
func (r *Registry) Lookup(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[name]
	return v, ok
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.validators))
	for n := range r.validators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry holding every built-in contract. The
// adjustment contract is registered without a block count.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, v := range []Validator{
		BriefContract,
		RetrievalPlanContract,
		SynthesisContract,
		ResearchPackContract,
		StructureContract,
		AdjustmentContract(0),
		DraftContract,
		AnalysisContract,
		ReviewContract,
		RefineContract,
	} {
		// Names are constants above and cannot collide.
		_ = r.Register(v)
	}
	return r
}
