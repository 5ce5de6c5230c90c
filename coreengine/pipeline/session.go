package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/cowrite/commbus"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/store"
)

// SessionView is a session with its progress bookkeeping.
type SessionView struct {
	Session      *session.Session      `json:"session"`
	Coverage     *session.Coverage     `json:"coverage,omitempty"`
	Completeness *session.Completeness `json:"completeness,omitempty"`
}

// Session returns the project's session, creating it on first access, with
// coverage and completeness when the artifacts behind them exist.
func (s *Service) Session(ctx context.Context, projectID string) (SessionView, error) {
	sess, err := s.Machine.GetOrCreate(ctx, projectID)
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{Session: sess}

	outline, err := s.optional(ctx, projectID, store.ArtifactOutline)
	if err != nil || outline == nil {
		return view, err
	}
	var o schema.ArgumentOutline
	if err := outline.Decode(&o); err != nil {
		return view, err
	}
	if a, err := s.optional(ctx, projectID, store.ArtifactResearchPack); err != nil {
		return view, err
	} else if a != nil {
		var pack schema.ResearchPack
		if err := a.Decode(&pack); err != nil {
			return view, err
		}
		c := session.ComputeCoverage(o, pack)
		view.Coverage = &c
	}
	if a, err := s.optional(ctx, projectID, store.ArtifactDraft); err != nil {
		return view, err
	} else if a != nil {
		var draft schema.DraftPayload
		if err := a.Decode(&draft); err != nil {
			return view, err
		}
		c := session.DraftCompleteness(draft, o)
		view.Completeness = &c
	}
	return view, nil
}

func (s *Service) optional(ctx context.Context, projectID string, kind store.ArtifactKind) (*store.Artifact, error) {
	a, err := s.Artifacts.LatestArtifact(ctx, projectID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", kind, err)
	}
	return a, nil
}

// LockThesis locks the core thesis. A brief must exist.
func (s *Service) LockThesis(ctx context.Context, projectID string) (*session.Session, error) {
	return s.lock(ctx, projectID, session.ArtifactThesis, store.ArtifactBrief)
}

// LockStructure locks the outline. An outline must exist.
func (s *Service) LockStructure(ctx context.Context, projectID string) (*session.Session, error) {
	return s.lock(ctx, projectID, session.ArtifactStructure, store.ArtifactOutline)
}

func (s *Service) lock(ctx context.Context, projectID string, artifact session.Artifact, requires store.ArtifactKind) (*session.Session, error) {
	var out *session.Session
	err := s.exec(ctx, OpLock, projectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		a, err := s.optional(ctx, projectID, requires)
		if err != nil {
			return err
		}
		if a == nil {
			return failures.InvalidInput(fmt.Sprintf("cannot lock %s before a %s exists", artifact, requires))
		}
		if sess.Locked(artifact) {
			out = sess
			return nil
		}
		out, err = s.Machine.Lock(ctx, projectID, artifact)
		if err != nil {
			return err
		}
		s.publish(ctx, &commbus.ArtifactLocked{ProjectID: projectID, Artifact: string(artifact), Locked: true})
		return nil
	})
	return out, err
}

// Unlock is the explicit user override that clears a lock. A reason is
// required and logged.
func (s *Service) Unlock(ctx context.Context, projectID string, artifact session.Artifact, reason string) (*session.Session, error) {
	if !artifact.Valid() {
		return nil, failures.InvalidInput(fmt.Sprintf("unknown artifact %q", artifact))
	}
	if reason == "" {
		return nil, failures.InvalidInput("an unlock reason is required")
	}
	var out *session.Session
	err := s.exec(ctx, OpUnlock, projectID, func(ctx context.Context, sess *session.Session, run *opRun) error {
		if !sess.Locked(artifact) {
			out = sess
			return nil
		}
		var err error
		out, err = s.Machine.Override(ctx, projectID, artifact, reason)
		if err != nil {
			return err
		}
		s.publish(ctx, &commbus.ArtifactLocked{ProjectID: projectID, Artifact: string(artifact), Locked: false, Reason: reason})
		return nil
	})
	return out, err
}

// RegisterQueries answers commbus GetSession queries from this service.
func (s *Service) RegisterQueries(bus commbus.CommBus) error {
	return bus.RegisterHandler(commbus.TypeGetSession, func(ctx context.Context, msg commbus.Message) (any, error) {
		q, ok := msg.(*commbus.GetSession)
		if !ok {
			return nil, failures.InvalidInput("unexpected query type")
		}
		return s.Session(ctx, q.ProjectID)
	})
}
