// Package pipeline sequences the writing agents over a project's session.
//
// Every operation runs under the project's mutex: it loads or creates the
// session, checks that the current stage allows the operation and that no
// locked artifact would be regenerated, runs the agent, stores the result
// as a new artifact version, advances the stage and publishes events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/commbus"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/agents"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/config"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/runtime"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cowrite/pipeline")

// Operation names.
const (
	OpBrief           = "brief"
	OpResearch        = "research"
	OpStructure       = "structure"
	OpAdjustStructure = "adjust_structure"
	OpDraft           = "draft"
	OpAnalyzeDraft    = "analyze_draft"
	OpReview          = "review"
	OpRefine          = "refine_paragraph"
	OpLock            = "lock"
	OpUnlock          = "unlock"
)

// Operation statuses reported in metrics and events.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusFallback = "fallback"
)

// allowedStages lists the stages each agent operation may run in.
var allowedStages = map[string][]session.Stage{
	OpBrief:           {session.StageResearch, session.StageBrief},
	OpResearch:        {session.StageResearch, session.StageBrief},
	OpStructure:       {session.StageBrief, session.StageStructure},
	OpAdjustStructure: {session.StageStructure},
	OpDraft:           {session.StageStructure, session.StageDraft},
	OpAnalyzeDraft:    {session.StageDraft, session.StageReview},
	OpReview:          {session.StageDraft, session.StageReview},
	OpRefine:          {session.StageDraft, session.StageReview, session.StageCompleted},
}

// AllowedStages returns the stages op may run in, or nil for operations
// that are not stage gated.
func AllowedStages(op string) []session.Stage {
	return append([]session.Stage(nil), allowedStages[op]...)
}

// Artifacts persists versioned pipeline outputs.
type Artifacts interface {
	SaveArtifact(ctx context.Context, projectID string, kind store.ArtifactKind, value any) (*store.Artifact, error)
	LatestArtifact(ctx context.Context, projectID string, kind store.ArtifactKind) (*store.Artifact, error)
}

// Service runs pipeline operations.
type Service struct {
	Agents    *agents.Set
	Machine   *session.Machine
	Artifacts Artifacts
	Bus       commbus.CommBus
	Config    *config.CoreConfig
	Logger    logging.Logger

	now func() time.Time
}

// New creates a Service. bus may be nil.
func New(set *agents.Set, machine *session.Machine, artifacts Artifacts, bus commbus.CommBus, cfg *config.CoreConfig, logger logging.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultCoreConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		Agents:    set,
		Machine:   machine,
		Artifacts: artifacts,
		Bus:       bus,
		Config:    cfg,
		Logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// opRun collects what an operation reports once it finishes.
type opRun struct {
	attempts int
	repaired bool
	fallback bool
}

func (r *opRun) record(attempts int, err error) {
	if err != nil {
		var fe *failures.Error
		if errors.As(err, &fe) && fe.Attempts > 0 {
			attempts = fe.Attempts
		}
	}
	r.attempts += attempts
}

// exec runs fn for op under the project mutex with the session loaded and
// the stage gate checked.
func (s *Service) exec(ctx context.Context, op, projectID string, fn func(ctx context.Context, sess *session.Session, run *opRun) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+op, trace.WithAttributes(
		attribute.String("cowrite.operation", op),
		attribute.String("cowrite.project_id", projectID),
	))
	defer span.End()

	start := s.clock()
	run := &opRun{}
	err := s.Machine.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		sess, err := s.Machine.GetOrCreate(ctx, projectID)
		if err != nil {
			return err
		}
		if err := checkStage(op, sess); err != nil {
			return err
		}
		return fn(ctx, sess, run)
	})
	ms := int(s.clock().Sub(start) / time.Millisecond)

	status := StatusSuccess
	switch {
	case err != nil:
		status = StatusError
	case run.fallback:
		status = StatusFallback
	}
	observability.RecordPipelineOperation(op, status, ms)
	span.SetAttributes(attribute.Int("duration_ms", ms), attribute.Int("cowrite.attempts", run.attempts))

	event := &commbus.AgentRunCompleted{
		ProjectID:  projectID,
		Operation:  op,
		Status:     status,
		Attempts:   run.attempts,
		DurationMS: ms,
		Repaired:   run.repaired,
	}
	if err != nil {
		event.ErrorKind = string(failures.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, event.ErrorKind)
		s.Logger.Warn("pipeline_operation_failed",
			"operation", op,
			"project_id", projectID,
			"error_kind", event.ErrorKind,
			"error", err.Error(),
		)
	} else {
		span.SetStatus(codes.Ok, status)
		s.Logger.Info("pipeline_operation_completed",
			"operation", op,
			"project_id", projectID,
			"status", status,
			"duration_ms", ms,
		)
	}
	s.publish(ctx, event)
	return err
}

func checkStage(op string, sess *session.Session) error {
	allowed, gated := allowedStages[op]
	if !gated {
		return nil
	}
	for _, st := range allowed {
		if sess.CurrentStage == st {
			return nil
		}
	}
	return failures.StageViolation(op, string(sess.CurrentStage))
}

// advance moves the session to stage when stage is further along the flow.
// Re-running an earlier operation never moves the session backwards.
func (s *Service) advance(ctx context.Context, sess *session.Session, stage session.Stage) (*session.Session, error) {
	if stage.Index() <= sess.CurrentStage.Index() {
		return sess, nil
	}
	from := sess.CurrentStage
	next, err := s.Machine.Advance(ctx, sess.ProjectID, stage)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, &commbus.StageAdvanced{
		ProjectID: sess.ProjectID,
		From:      string(from),
		To:        string(stage),
		At:        next.UpdatedAt,
	})
	return next, nil
}

func (s *Service) guard(sess *session.Session, artifact session.Artifact) error {
	return s.Machine.GuardRegenerate(sess, artifact)
}

func (s *Service) publish(ctx context.Context, msg commbus.Message) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Publish(ctx, msg); err != nil {
		s.Logger.Warn("pipeline_event_publish_failed", "type", commbus.GetMessageType(msg), "error", err.Error())
	}
}

// =============================================================================
// ARTIFACTS
// =============================================================================

func (s *Service) save(ctx context.Context, projectID string, kind store.ArtifactKind, value any) (*store.Artifact, error) {
	a, err := s.Artifacts.SaveArtifact(ctx, projectID, kind, value)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", kind, err)
	}
	s.publish(ctx, &commbus.ArtifactStored{ProjectID: projectID, Kind: string(kind), Version: a.Version})
	return a, nil
}

// load decodes the latest artifact of kind. A missing artifact is a caller
// error: the operation that produces it has not run yet.
func load[T any](ctx context.Context, s *Service, projectID string, kind store.ArtifactKind) (T, error) {
	var v T
	a, err := s.Artifacts.LatestArtifact(ctx, projectID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return v, failures.InvalidInput(fmt.Sprintf("no %s has been generated for this project", kind))
	}
	if err != nil {
		return v, fmt.Errorf("load %s: %w", kind, err)
	}
	if err := a.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

// =============================================================================
// REPAIR
// =============================================================================

func repairable(err error) bool {
	switch failures.KindOf(err) {
	case failures.KindNoJSONFound, failures.KindEnvelopeStructure, failures.KindPayloadParse:
		return true
	}
	return false
}

// repair gives a failed run one JSON repair pass over its last raw
// response when repair_on_parse_failure is on. When repair fails the
// original error is returned.
func repair[T any](ctx context.Context, s *Service, run *opRun, agent string, contract *schema.Contract[T], res runtime.Result[T], err error) (runtime.Result[T], error) {
	if err == nil || !s.Config.RepairOnParseFailure || !repairable(err) {
		return res, err
	}
	raw := failures.RawOf(err)
	if raw == "" {
		return res, err
	}
	fixed, rerr := agents.Recover(ctx, s.Agents, agent, raw, contract)
	if rerr != nil {
		s.Logger.Warn("agent_repair_failed",
			"agent", agent,
			"error_kind", string(failures.KindOf(rerr)),
		)
		return res, err
	}
	run.repaired = true
	run.attempts++
	return fixed, nil
}

// invoke runs one agent call, applies the repair policy and records the
// attempts spent.
func invoke[T any](ctx context.Context, s *Service, run *opRun, agent string, contract *schema.Contract[T], call func(ctx context.Context) (runtime.Result[T], error)) (runtime.Result[T], error) {
	res, err := call(ctx)
	run.record(res.Attempts, err)
	return repair(ctx, s, run, agent, contract, res, err)
}
