// Package session tracks where a writing project stands: its current stage
// and which upstream artifacts the user has locked.
//
// Stage writes are explicit and idempotent. The machine does not decide
// whether a transition is legal; the pipeline checks the current stage
// before running a stage's agent. Locks only move from false to true unless
// the caller asks for an explicit override.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Stage is a session's position in the writing flow.
type Stage string

const (
	StageResearch  Stage = "research"
	StageBrief     Stage = "brief"
	StageStructure Stage = "structure"
	StageDraft     Stage = "draft"
	StageReview    Stage = "review"
	StageCompleted Stage = "completed"
)

var stages = []Stage{StageResearch, StageBrief, StageStructure, StageDraft, StageReview, StageCompleted}

// Stages returns every stage in flow order.
func Stages() []Stage {
	return append([]Stage(nil), stages...)
}

// ParseStage parses a stored stage value.
func ParseStage(s string) (Stage, error) {
	for _, st := range stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Index returns the stage's position in flow order, or -1.
func (s Stage) Index() int {
	for i, st := range stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Index() >= 0 }

// Next returns the stage after s. Completed is its own successor.
func (s Stage) Next() Stage {
	i := s.Index()
	if i < 0 || i == len(stages)-1 {
		return s
	}
	return stages[i+1]
}

// Artifact is an upstream result a user can lock.
type Artifact string

const (
	ArtifactThesis    Artifact = "thesis"
	ArtifactStructure Artifact = "structure"
)

// Valid reports whether a is a lockable artifact.
func (a Artifact) Valid() bool {
	return a == ArtifactThesis || a == ArtifactStructure
}

// Session is the persisted state of one project.
type Session struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	CurrentStage     Stage     `json:"current_stage"`
	LockedCoreThesis bool      `json:"locked_core_thesis"`
	LockedStructure  bool      `json:"locked_structure"`
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Locked reports whether a is locked.
func (s *Session) Locked(a Artifact) bool {
	switch a {
	case ArtifactThesis:
		return s.LockedCoreThesis
	case ArtifactStructure:
		return s.LockedStructure
	}
	return false
}

func (s *Session) setLock(a Artifact, locked bool) {
	switch a {
	case ArtifactThesis:
		s.LockedCoreThesis = locked
	case ArtifactStructure:
		s.LockedStructure = locked
	}
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Store errors.
var (
	ErrNotFound        = errors.New("session not found")
	ErrDuplicate       = errors.New("session already exists")
	ErrVersionConflict = errors.New("session was modified concurrently")
)
