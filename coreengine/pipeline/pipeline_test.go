package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jeeves-cluster-organization/cowrite/commbus"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/agents"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/config"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	svc    *Service
	client *testutil.MockLLMClient
	store  *store.Store
	bus    *commbus.InMemoryCommBus

	mu     sync.Mutex
	events []commbus.Message
}

func newTestEnv(t *testing.T, mutate ...func(cfg *config.CoreConfig)) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cowrite.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultCoreConfig()
	for _, m := range mutate {
		m(cfg)
	}

	client := testutil.NewMockLLMClient()
	r := runtime.NewRunner(client, nil)
	r.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	r.Sink = db

	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	svc := New(agents.NewSet(r, cfg, nil), session.NewMachine(db, nil), db, bus, cfg, nil)
	svc.now = func() time.Time { return fixedNow }

	env := &testEnv{svc: svc, client: client, store: db, bus: bus}
	for _, typ := range []string{commbus.TypeStageAdvanced, commbus.TypeArtifactLocked, commbus.TypeArtifactStored, commbus.TypeAgentRunCompleted} {
		bus.Subscribe(typ, func(ctx context.Context, msg commbus.Message) (any, error) {
			env.mu.Lock()
			env.events = append(env.events, msg)
			env.mu.Unlock()
			return nil, nil
		})
	}
	return env
}

func (e *testEnv) script(agentPayloads ...any) {
	for i := 0; i+1 < len(agentPayloads); i += 2 {
		e.client.WithScript(testutil.Envelope(agentPayloads[i].(string), agentPayloads[i+1]))
	}
}

func (e *testEnv) stages(projectID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, m := range e.events {
		if sa, ok := m.(*commbus.StageAdvanced); ok && sa.ProjectID == projectID {
			out = append(out, sa.To)
		}
	}
	return out
}

func (e *testEnv) runs() []*commbus.AgentRunCompleted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*commbus.AgentRunCompleted
	for _, m := range e.events {
		if r, ok := m.(*commbus.AgentRunCompleted); ok {
			out = append(out, r)
		}
	}
	return out
}

func (e *testEnv) lastRun(t *testing.T) *commbus.AgentRunCompleted {
	t.Helper()
	runs := e.runs()
	require.NotEmpty(t, runs)
	return runs[len(runs)-1]
}

// seed puts a project at stage with the given artifacts already stored.
func (e *testEnv) seed(t *testing.T, projectID string, stage session.Stage, kinds ...store.ArtifactKind) {
	t.Helper()
	ctx := context.Background()
	_, err := e.svc.Machine.GetOrCreate(ctx, projectID)
	require.NoError(t, err)
	_, err = e.svc.Machine.Advance(ctx, projectID, stage)
	require.NoError(t, err)

	fixtures := map[store.ArtifactKind]map[string]any{
		store.ArtifactBrief:        testutil.BriefPayload(),
		store.ArtifactResearchPack: testutil.ResearchPackPayload(),
		store.ArtifactOutline:      testutil.StructurePayload(),
		store.ArtifactDraft:        testutil.DraftPayload(),
	}
	for _, k := range kinds {
		_, err := e.store.SaveArtifact(ctx, projectID, k, fixtures[k])
		require.NoError(t, err)
	}
}

func (e *testEnv) stage(t *testing.T, projectID string) session.Stage {
	t.Helper()
	s, err := e.svc.Machine.Get(context.Background(), projectID)
	require.NoError(t, err)
	return s.CurrentStage
}

func decode[T any](t *testing.T, c *schema.Contract[T], payload map[string]any) T {
	t.Helper()
	v, err := c.Validate(payload)
	require.NoError(t, err)
	return v
}

func fixtureSources(t *testing.T) []schema.ResearchSource {
	return decode(t, schema.ResearchPackContract, testutil.ResearchPackPayload()).Sources
}

func requireKind(t *testing.T, err error, kind failures.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, failures.KindOf(err), "error: %v", err)
}

// =============================================================================
// FULL FLOW
// =============================================================================

func TestPipeline_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	const p = "proj-1"

	env.script(
		schema.NameBrief, testutil.BriefPayload(),
		schema.NameResearchRetrieval, testutil.RetrievalPlanPayload(),
		schema.NameResearchSynthesis, testutil.SynthesisPayload(),
		schema.NameStructure, testutil.StructurePayload(),
		schema.NameDraft, testutil.DraftPayload(),
		schema.NameDraftAnalysis, testutil.AnalysisPayload(),
		schema.NameReview, testutil.ReviewPayload(),
		schema.NameRefineParagraph, testutil.RefinePayload(),
	)

	brief, err := env.svc.Brief(ctx, BriefRequest{ProjectID: p, Topic: "AI 教育", UserInput: "探讨 AI 对教育的影响"})
	require.NoError(t, err)
	assert.Equal(t, "AI 教育", brief.Topic)
	assert.Equal(t, session.StageResearch, env.stage(t, p))

	research, err := env.svc.Research(ctx, ResearchRequest{ProjectID: p, Sources: fixtureSources(t)})
	require.NoError(t, err)
	assert.Len(t, research.Plan.SearchQueries, 2)
	assert.Len(t, research.Pack.Insights, 3)
	assert.Equal(t, 2, research.Pack.Summary.TotalSources)
	assert.InDelta(t, 0.6, research.Pack.Summary.CoverageScore, 1e-9)
	assert.Equal(t, session.StageBrief, env.stage(t, p))

	structure, err := env.svc.Structure(ctx, p)
	require.NoError(t, err)
	assert.Len(t, structure.Outline.ArgumentBlocks, 3)
	assert.InDelta(t, 1.0, structure.Coverage.Percentage, 1e-9)
	assert.Empty(t, structure.Coverage.Unused)
	assert.Equal(t, session.StageStructure, env.stage(t, p))

	draft, err := env.svc.Draft(ctx, p)
	require.NoError(t, err)
	assert.Len(t, draft.Draft.DraftBlocks, 2)
	assert.Equal(t, []string{"block_3"}, draft.Completeness.Missing)
	assert.Equal(t, []string{"block_2"}, draft.Completeness.Uncited)
	assert.Equal(t, session.StageDraft, env.stage(t, p))

	analysis, err := env.svc.AnalyzeDraft(ctx, p)
	require.NoError(t, err)
	assert.Len(t, analysis.Annotations, 2)
	assert.Equal(t, session.StageDraft, env.stage(t, p))

	review, err := env.svc.Review(ctx, p)
	require.NoError(t, err)
	assert.True(t, review.Pass)
	assert.Equal(t, "2025-03-02T09:30:00Z", review.CreatedAt)
	assert.Equal(t, session.StageCompleted, env.stage(t, p))

	refined, err := env.svc.RefineParagraph(ctx, RefineRequest{ProjectID: p, ParagraphID: "p_1", Instruction: "更精确"})
	require.NoError(t, err)
	assert.False(t, refined.Fallback)
	assert.Equal(t, "量化表述更精确", refined.Result.Explanation)
	call, ok := env.client.LastCall()
	require.True(t, ok)
	assert.Contains(t, call.Prompt, "自适应学习系统让学生的掌握时间缩短了三成。")

	assert.Equal(t, []string{"brief", "structure", "draft", "review", "completed"}, env.stages(p))
	for _, r := range env.runs() {
		assert.Equal(t, StatusSuccess, r.Status, r.Operation)
	}

	logs, err := env.store.AgentLogs(ctx, p)
	require.NoError(t, err)
	assert.Len(t, logs, 8)
}

func TestPipeline_StoresArtifactVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.script(schema.NameBrief, testutil.BriefPayload(), schema.NameBrief, testutil.BriefPayload())

	for i := 0; i < 2; i++ {
		_, err := env.svc.Brief(ctx, BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
		require.NoError(t, err)
	}
	versions, err := env.store.ArtifactVersions(ctx, "p1", store.ArtifactBrief)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[1].Version)
}

// =============================================================================
// STAGE GATES
// =============================================================================

func TestPipeline_StageGates(t *testing.T) {
	tests := []struct {
		name  string
		stage session.Stage
		run   func(ctx context.Context, s *Service) error
	}{
		{"structure before research", session.StageResearch, func(ctx context.Context, s *Service) error {
			_, err := s.Structure(ctx, "p1")
			return err
		}},
		{"adjust outside structure", session.StageDraft, func(ctx context.Context, s *Service) error {
			_, err := s.AdjustStructure(ctx, AdjustRequest{ProjectID: "p1", Operation: schema.OpCheck})
			return err
		}},
		{"draft before structure", session.StageBrief, func(ctx context.Context, s *Service) error {
			_, err := s.Draft(ctx, "p1")
			return err
		}},
		{"review before draft", session.StageStructure, func(ctx context.Context, s *Service) error {
			_, err := s.Review(ctx, "p1")
			return err
		}},
		{"analysis after completion", session.StageCompleted, func(ctx context.Context, s *Service) error {
			_, err := s.AnalyzeDraft(ctx, "p1")
			return err
		}},
		{"brief after research", session.StageStructure, func(ctx context.Context, s *Service) error {
			_, err := s.Brief(ctx, BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
			return err
		}},
		{"refine before draft", session.StageStructure, func(ctx context.Context, s *Service) error {
			_, err := s.RefineParagraph(ctx, RefineRequest{ProjectID: "p1", Paragraph: "x", Instruction: "y"})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seed(t, "p1", tt.stage, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline, store.ArtifactDraft)

			err := tt.run(context.Background(), env.svc)
			requireKind(t, err, failures.KindStageViolation)
			assert.Equal(t, 0, env.client.CallCount())
			assert.Equal(t, tt.stage, env.stage(t, "p1"))
			assert.Equal(t, string(failures.KindStageViolation), env.lastRun(t).ErrorKind)
		})
	}
}

func TestPipeline_RerunDoesNotMoveBackwards(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "p1", session.StageDraft, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline)
	env.script(schema.NameDraft, testutil.DraftPayload())

	_, err := env.svc.Draft(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, session.StageDraft, env.stage(t, "p1"))
	assert.Empty(t, env.stages("p1"))
}

func TestPipeline_MissingPrerequisite(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Research(context.Background(), ResearchRequest{ProjectID: "p1", Sources: fixtureSources(t)})
	requireKind(t, err, failures.KindInvalidInput)
	assert.Contains(t, err.Error(), "brief")
	assert.Equal(t, 0, env.client.CallCount())
}

func TestPipeline_ReviewFailKeepsReviewStage(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "p1", session.StageDraft, store.ArtifactBrief, store.ArtifactDraft)
	failing := testutil.ReviewPayload()
	failing["pass"] = false
	env.script(schema.NameReview, failing)

	review, err := env.svc.Review(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, review.Pass)
	assert.Equal(t, session.StageReview, env.stage(t, "p1"))
}

// =============================================================================
// LOCKS
// =============================================================================

func TestPipeline_LockedStructureRejectsRegeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "p1", session.StageStructure, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline)

	sess, err := env.svc.LockStructure(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, sess.LockedStructure)

	_, err = env.svc.Structure(ctx, "p1")
	requireKind(t, err, failures.KindLockViolation)
	_, err = env.svc.AdjustStructure(ctx, AdjustRequest{ProjectID: "p1", Operation: schema.OpCheck})
	requireKind(t, err, failures.KindLockViolation)
	assert.Equal(t, 0, env.client.CallCount())

	versions, err := env.store.ArtifactVersions(ctx, "p1", store.ArtifactOutline)
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	_, err = env.svc.Unlock(ctx, "p1", session.ArtifactStructure, "")
	requireKind(t, err, failures.KindInvalidInput)

	sess, err = env.svc.Unlock(ctx, "p1", session.ArtifactStructure, "user wants a new outline")
	require.NoError(t, err)
	assert.False(t, sess.LockedStructure)

	env.script(schema.NameStructure, testutil.StructurePayload())
	_, err = env.svc.Structure(ctx, "p1")
	require.NoError(t, err)
}

func TestPipeline_LockedThesis(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.LockThesis(ctx, "p1")
	requireKind(t, err, failures.KindInvalidInput)

	env.seed(t, "p1", session.StageBrief, store.ArtifactBrief, store.ArtifactResearchPack)
	_, err = env.svc.LockThesis(ctx, "p1")
	require.NoError(t, err)
	_, err = env.svc.LockThesis(ctx, "p1")
	require.NoError(t, err)

	_, err = env.svc.Brief(ctx, BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
	requireKind(t, err, failures.KindLockViolation)

	drifted := testutil.StructurePayload()
	drifted["core_thesis"] = "AI 会取代教师"
	env.script(schema.NameStructure, drifted)
	out, err := env.svc.Structure(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "AI 正在重塑教育的公平与效率", out.Outline.CoreThesis)

	env.mu.Lock()
	defer env.mu.Unlock()
	var locked []*commbus.ArtifactLocked
	for _, m := range env.events {
		if l, ok := m.(*commbus.ArtifactLocked); ok {
			locked = append(locked, l)
		}
	}
	require.Len(t, locked, 1)
	assert.Equal(t, "thesis", locked[0].Artifact)
}

// =============================================================================
// ADJUSTMENT
// =============================================================================

func TestPipeline_AdjustStructureDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "p1", session.StageStructure, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline)

	env.script(schema.NameStructureAdjustment, map[string]any{
		"core_thesis": "AI 正在重塑教育的公平与效率",
		"argument_blocks": []any{
			map[string]any{"id": "block_1", "title": "效率的提升", "main_argument": "自适应系统让学习更快", "order": 1, "relation": "并列"},
			map[string]any{"id": "block_3", "title": "总结与展望", "main_argument": "综上，教师角色转变决定结果", "order": 2, "relation": "总结"},
		},
	})

	out, err := env.svc.AdjustStructure(ctx, AdjustRequest{ProjectID: "p1", Operation: schema.OpDelete, BlockIndex: 1})
	require.NoError(t, err)

	require.Len(t, out.Outline.ArgumentBlocks, 2)
	assert.Equal(t, "block_1", out.Outline.ArgumentBlocks[0].BlockID)
	assert.Equal(t, "block_3", out.Outline.ArgumentBlocks[1].BlockID)
	assert.Equal(t, []string{"ins_3"}, out.Outline.ArgumentBlocks[1].DerivedFrom)
	assert.Equal(t, 2, out.Outline.ArgumentBlocks[1].Order)
	assert.Equal(t, []string{"ins_2"}, out.Coverage.Unused)
	assert.Equal(t, 1400, out.Outline.TotalEstimatedWords)

	latest, err := env.store.LatestArtifact(ctx, "p1", store.ArtifactOutline)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, session.StageStructure, env.stage(t, "p1"))
}

func TestPipeline_AdjustStructureRejectsBadIndex(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "p1", session.StageStructure, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline)

	_, err := env.svc.AdjustStructure(context.Background(), AdjustRequest{ProjectID: "p1", Operation: schema.OpDelete, BlockIndex: 7})
	requireKind(t, err, failures.KindInvalidInput)
	assert.Equal(t, 0, env.client.CallCount())
}

func TestPipeline_AdjustStructureAddTracesNewBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "p1", session.StageStructure, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline)

	env.script(schema.NameStructureAdjustment, map[string]any{
		"core_thesis": "AI 正在重塑教育的公平与效率",
		"argument_blocks": []any{
			map[string]any{"id": "block_1", "title": "效率的提升", "main_argument": "自适应系统让学习更快", "order": 1, "relation": "并列"},
			map[string]any{"id": schema.NewBlockID, "title": "城乡差距", "main_argument": "设备覆盖不足", "order": 2, "relation": "递进",
				"derived_from": []any{"ins_2"}, "citation_ids": []any{"src_2"}},
			map[string]any{"id": "block_2", "title": "公平的隐忧", "main_argument": "设备差距放大不平等", "order": 3, "relation": "递进"},
			map[string]any{"id": "block_3", "title": "总结与展望", "main_argument": "综上，教师角色转变决定结果", "order": 4, "relation": "总结"},
		},
	})

	out, err := env.svc.AdjustStructure(ctx, AdjustRequest{ProjectID: "p1", Operation: schema.OpAdd, BlockIndex: 1})
	require.NoError(t, err)

	require.Len(t, out.Outline.ArgumentBlocks, 4)
	added := out.Outline.ArgumentBlocks[1]
	assert.Equal(t, "block_4", added.BlockID)
	assert.Equal(t, []string{"ins_2"}, added.DerivedFrom)
	assert.Equal(t, []string{"src_2"}, added.CitationIDs)

	latest, err := env.store.LatestArtifact(ctx, "p1", store.ArtifactOutline)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	var stored map[string]any
	require.NoError(t, latest.Decode(&stored))
	pack := decode(t, schema.ResearchPackContract, testutil.ResearchPackPayload())
	assert.NoError(t, agents.OutlineContract(pack).Explain(stored))
}

func TestPipeline_AdjustStructureRejectsUntracedAddition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "p1", session.StageStructure, store.ArtifactBrief, store.ArtifactResearchPack, store.ArtifactOutline)

	untraced := map[string]any{
		"core_thesis": "AI 正在重塑教育的公平与效率",
		"argument_blocks": []any{
			map[string]any{"id": "block_1", "title": "效率的提升", "main_argument": "自适应系统让学习更快", "order": 1},
			map[string]any{"id": schema.NewBlockID, "title": "城乡差距", "main_argument": "设备覆盖不足", "order": 2},
			map[string]any{"id": "block_2", "title": "公平的隐忧", "main_argument": "设备差距放大不平等", "order": 3},
			map[string]any{"id": "block_3", "title": "总结与展望", "main_argument": "综上", "order": 4, "relation": "总结"},
		},
	}
	env.script(schema.NameStructureAdjustment, untraced, schema.NameStructureAdjustment, untraced, schema.NameStructureAdjustment, untraced)

	_, err := env.svc.AdjustStructure(ctx, AdjustRequest{ProjectID: "p1", Operation: schema.OpAdd, BlockIndex: 1})
	requireKind(t, err, failures.KindSchemaValidation)
	assert.Contains(t, err.Error(), "no derived_from")

	latest, err := env.store.LatestArtifact(ctx, "p1", store.ArtifactOutline)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestPipeline_AdjustStructureFailsClosedOnInvalidMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "p1", session.StageStructure, store.ArtifactBrief, store.ArtifactResearchPack)

	// A stored outline whose second block lost its citations.
	outline := testutil.StructurePayload()
	outline["argument_blocks"].([]any)[1].(map[string]any)["citation_ids"] = []any{}
	_, err := env.store.SaveArtifact(ctx, "p1", store.ArtifactOutline, outline)
	require.NoError(t, err)

	env.script(schema.NameStructureAdjustment, map[string]any{
		"core_thesis": "AI 正在重塑教育的公平与效率",
		"argument_blocks": []any{
			map[string]any{"id": "block_1", "title": "效率的提升", "main_argument": "自适应系统让学习更快", "order": 1},
			map[string]any{"id": "block_2", "title": "公平的隐忧", "main_argument": "设备差距放大不平等", "order": 2},
			map[string]any{"id": "block_3", "title": "总结与展望", "main_argument": "综上", "order": 3, "relation": "总结"},
		},
	})

	_, err = env.svc.AdjustStructure(ctx, AdjustRequest{ProjectID: "p1", Operation: schema.OpCheck})
	requireKind(t, err, failures.KindSchemaValidation)
	assert.Contains(t, err.Error(), "block_2 has no citation_ids")
	assert.Equal(t, 1, env.client.CallCount())

	latest, err := env.store.LatestArtifact(ctx, "p1", store.ArtifactOutline)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestMergeAdjusted_AddsNewBlock(t *testing.T) {
	outline := decode(t, schema.StructureContract, testutil.StructurePayload())
	adjusted := schema.AdjustedOutline{
		CoreThesis: outline.CoreThesis,
		ArgumentBlocks: []schema.AdjustedBlock{
			{ID: "block_1", Title: "效率的提升", MainArgument: "更快", Order: 1},
			{ID: schema.NewBlockID, Title: "教师的新角色", MainArgument: "从讲授到引导", Order: 2,
				DerivedFrom: []string{"ins_3"}, CitationIDs: []string{"src_1"}},
			{ID: "block_3", Title: "总结与展望", MainArgument: "综上", Order: 4, Relation: schema.RelationSummary},
			{ID: "block_2", Title: "公平的隐忧", MainArgument: "差距", Order: 3},
		},
	}

	merged := MergeAdjusted(outline, adjusted)
	require.Len(t, merged.ArgumentBlocks, 4)
	added := merged.ArgumentBlocks[1]
	assert.Equal(t, "block_4", added.BlockID)
	assert.Equal(t, "教师的新角色", added.Title)
	assert.Equal(t, []string{"ins_3"}, added.DerivedFrom)
	assert.Equal(t, []string{"src_1"}, added.CitationIDs)
	assert.Equal(t, []string{"src_2"}, merged.ArgumentBlocks[2].CitationIDs)
	assert.Equal(t, "block_3", merged.ArgumentBlocks[3].BlockID)
	for i, b := range merged.ArgumentBlocks {
		assert.Equal(t, i+1, b.Order)
	}
	assert.InDelta(t, 800.0/2200.0, merged.EstimatedWordDistribution["block_1"], 1e-9)
	assert.Equal(t, 0.0, merged.EstimatedWordDistribution["block_4"])

	pack := decode(t, schema.ResearchPackContract, testutil.ResearchPackPayload())
	coverage := stampCoverage(&merged, pack)
	assert.Equal(t, []string{"ins_1", "ins_2", "ins_3"}, merged.CoverageCheck.CoveredInsights)
	assert.Equal(t, 1.0, coverage.Percentage)
	require.NoError(t, checkOutline(merged, pack))
}

// =============================================================================
// REPAIR AND FALLBACK
// =============================================================================

func TestPipeline_RepairOnParseFailure(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.CoreConfig) { cfg.RepairOnParseFailure = true })
	env.client.WithScript("抱歉，我无法给出 JSON", "抱歉，我无法给出 JSON", "抱歉，我无法给出 JSON")
	env.client.WithScript(testutil.Envelope(schema.NameBrief, testutil.BriefPayload()))

	brief, err := env.svc.Brief(context.Background(), BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
	require.NoError(t, err)
	assert.Equal(t, "AI 教育", brief.Topic)
	assert.Equal(t, 4, env.client.CallCount())

	run := env.lastRun(t)
	assert.True(t, run.Repaired)
	assert.Equal(t, 4, run.Attempts)
}

func TestPipeline_RepairDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.client.WithScript("no json", "no json", "no json", testutil.Envelope(schema.NameBrief, testutil.BriefPayload()))

	_, err := env.svc.Brief(context.Background(), BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
	requireKind(t, err, failures.KindNoJSONFound)
	assert.Equal(t, 3, env.client.CallCount())

	run := env.lastRun(t)
	assert.Equal(t, StatusError, run.Status)
	assert.Equal(t, 3, run.Attempts)

	_, err = env.store.LatestArtifact(context.Background(), "p1", store.ArtifactBrief)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPipeline_SchemaFailureIsNotRepaired(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.CoreConfig) { cfg.RepairOnParseFailure = true })
	bad := testutil.BriefPayload()
	delete(bad, "topic")
	env.script(schema.NameBrief, bad, schema.NameBrief, bad, schema.NameBrief, bad)

	_, err := env.svc.Brief(context.Background(), BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
	requireKind(t, err, failures.KindSchemaValidation)
	assert.Equal(t, 3, env.client.CallCount())
}

func TestPipeline_RefineFallsBack(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "p1", session.StageReview, store.ArtifactDraft)
	env.client.WithError(errors.New("provider unavailable"))

	out, err := env.svc.RefineParagraph(context.Background(), RefineRequest{ProjectID: "p1", Paragraph: "原段落", Instruction: "更简洁"})
	require.NoError(t, err)
	assert.True(t, out.Fallback)
	assert.Equal(t, "原段落", out.Result.RefinedContent)
	assert.Equal(t, agents.RefineFallbackNote, out.Result.Explanation)
	assert.Equal(t, StatusFallback, env.lastRun(t).Status)
}

func TestPipeline_RefineRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "p1", session.StageDraft, store.ArtifactDraft)
	ctx := context.Background()

	_, err := env.svc.RefineParagraph(ctx, RefineRequest{ProjectID: "p1", Paragraph: "原段落"})
	requireKind(t, err, failures.KindInvalidInput)

	_, err = env.svc.RefineParagraph(ctx, RefineRequest{ProjectID: "p1", ParagraphID: "p_9", Instruction: "更简洁"})
	requireKind(t, err, failures.KindInvalidInput)
	assert.Equal(t, 0, env.client.CallCount())
}

// =============================================================================
// SESSION VIEW AND CONCURRENCY
// =============================================================================

func TestPipeline_SessionView(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.svc.Session(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, session.StageResearch, view.Session.CurrentStage)
	assert.Nil(t, view.Coverage)

	env.seed(t, "p1", session.StageDraft, store.ArtifactResearchPack, store.ArtifactOutline, store.ArtifactDraft)
	view, err = env.svc.Session(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, view.Coverage)
	require.NotNil(t, view.Completeness)
	assert.InDelta(t, 1.0, view.Coverage.Percentage, 1e-9)
	assert.InDelta(t, 2.0/3.0, view.Completeness.Ratio, 1e-9)
}

func TestPipeline_SessionQuery(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.RegisterQueries(env.bus))

	got, err := env.bus.QuerySync(context.Background(), &commbus.GetSession{ProjectID: "p1"})
	require.NoError(t, err)
	view, ok := got.(SessionView)
	require.True(t, ok)
	assert.Equal(t, "p1", view.Session.ProjectID)
}

func TestPipeline_ConcurrentOperationsSerialize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.client.DefaultResponse = testutil.Envelope(schema.NameBrief, testutil.BriefPayload())

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Brief(ctx, BriefRequest{ProjectID: "p1", Topic: "AI 教育"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	versions, err := env.store.ArtifactVersions(ctx, "p1", store.ArtifactBrief)
	require.NoError(t, err)
	assert.Len(t, versions, n)
}
