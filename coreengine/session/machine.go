package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
)

// maxUpdateRetries bounds read-modify-write retries on version conflicts.
const maxUpdateRetries = 3

// Machine reads and writes sessions.
type Machine struct {
	store  Store
	logger logging.Logger
	locks  *projectLocks
	now    func() time.Time
}

// NewMachine creates a Machine over store.
func NewMachine(store Store, logger logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Machine{
		store:  store,
		logger: logger,
		locks:  newProjectLocks(),
		now:    time.Now,
	}
}

// GetOrCreate returns the project's session, creating it at StageResearch
// when none exists. Losing a creation race to another caller re-fetches the
// winner's session.
func (m *Machine) GetOrCreate(ctx context.Context, projectID string) (*Session, error) {
	if projectID == "" {
		return nil, failures.InvalidInput("project id is required")
	}
	s, err := m.store.GetSessionByProject(ctx, projectID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	now := m.now().UTC()
	s = &Session{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		CurrentStage: StageResearch,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = m.store.CreateSession(ctx, s)
	switch {
	case err == nil:
		m.logger.Info("session_created", "project_id", projectID, "session_id", s.ID)
		observability.RecordSessionTransition(string(s.CurrentStage))
		return s, nil
	case errors.Is(err, ErrDuplicate):
		m.logger.Debug("session_create_race", "project_id", projectID)
		existing, getErr := m.store.GetSessionByProject(ctx, projectID)
		if getErr != nil {
			return nil, fmt.Errorf("refetch session: %w", getErr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("create session: %w", err)
	}
}

// Get returns the project's session or ErrNotFound.
func (m *Machine) Get(ctx context.Context, projectID string) (*Session, error) {
	return m.store.GetSessionByProject(ctx, projectID)
}

// Advance writes stage as the current stage and refreshes UpdatedAt. Writing
// the current stage again is allowed; the machine does not judge direction.
func (m *Machine) Advance(ctx context.Context, projectID string, stage Stage) (*Session, error) {
	if !stage.Valid() {
		return nil, failures.InvalidInput(fmt.Sprintf("unknown stage %q", stage))
	}
	var from Stage
	s, err := m.update(ctx, projectID, func(s *Session) {
		from = s.CurrentStage
		s.CurrentStage = stage
	})
	if err != nil {
		return nil, err
	}
	observability.RecordSessionTransition(string(stage))
	m.logger.Info("session_stage_advanced",
		"project_id", projectID,
		"from", string(from),
		"to", string(stage),
	)
	return s, nil
}

// Lock locks artifact. Locking twice is a no-op.
func (m *Machine) Lock(ctx context.Context, projectID string, artifact Artifact) (*Session, error) {
	if !artifact.Valid() {
		return nil, failures.InvalidInput(fmt.Sprintf("unknown artifact %q", artifact))
	}
	s, err := m.update(ctx, projectID, func(s *Session) { s.setLock(artifact, true) })
	if err != nil {
		return nil, err
	}
	m.logger.Info("session_artifact_locked", "project_id", projectID, "artifact", string(artifact))
	return s, nil
}

// Override explicitly unlocks artifact. It is the only way a lock is
// cleared.
func (m *Machine) Override(ctx context.Context, projectID string, artifact Artifact, reason string) (*Session, error) {
	if !artifact.Valid() {
		return nil, failures.InvalidInput(fmt.Sprintf("unknown artifact %q", artifact))
	}
	s, err := m.update(ctx, projectID, func(s *Session) { s.setLock(artifact, false) })
	if err != nil {
		return nil, err
	}
	m.logger.Warn("session_lock_overridden",
		"project_id", projectID,
		"artifact", string(artifact),
		"reason", reason,
	)
	return s, nil
}

// GuardRegenerate fails with a lock_violation when artifact is locked.
func (m *Machine) GuardRegenerate(s *Session, artifact Artifact) error {
	if s == nil || !s.Locked(artifact) {
		return nil
	}
	observability.RecordLockViolation(string(artifact))
	m.logger.Warn("session_lock_violation", "project_id", s.ProjectID, "artifact", string(artifact))
	return failures.LockViolation(string(artifact))
}

// WithProjectLock runs fn while holding the project's mutex. Waiting for the
// mutex honors ctx.
func (m *Machine) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	unlock, err := m.locks.acquire(ctx, projectID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (m *Machine) update(ctx context.Context, projectID string, mutate func(s *Session)) (*Session, error) {
	for i := 0; i < maxUpdateRetries; i++ {
		s, err := m.store.GetSessionByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		mutate(s)
		s.UpdatedAt = m.now().UTC()
		err = m.store.UpdateSession(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update session: %w", err)
		}
		m.logger.Debug("session_version_conflict", "project_id", projectID, "attempt", i+1)
	}
	return nil, ErrVersionConflict
}
