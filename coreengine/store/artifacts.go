package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactKind names a persisted pipeline output.
type ArtifactKind string

const (
	ArtifactBrief         ArtifactKind = "brief"
	ArtifactRetrievalPlan ArtifactKind = "retrieval_plan"
	ArtifactResearchPack  ArtifactKind = "research_pack"
	ArtifactOutline       ArtifactKind = "outline"
	ArtifactDraft         ArtifactKind = "draft"
	ArtifactAnalysis      ArtifactKind = "analysis"
	ArtifactReview        ArtifactKind = "review"
)

// Artifact is one stored version of a pipeline output.
type Artifact struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Kind      ArtifactKind    `json:"kind"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (a *Artifact) Decode(v any) error {
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return fmt.Errorf("decode %s artifact: %w", a.Kind, err)
	}
	return nil
}

// SaveArtifact stores value as the next version of kind for the project and
// returns the stored row. Versions start at 1 and never repeat.
func (s *Store) SaveArtifact(ctx context.Context, projectID string, kind ArtifactKind, value any) (*Artifact, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s artifact: %w", kind, err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const next = `SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE project_id = ? AND kind = ?`
	var version int
	if err := tx.QueryRowContext(ctx, next, projectID, string(kind)).Scan(&version); err != nil {
		return nil, fmt.Errorf("next artifact version: %w", err)
	}

	a := &Artifact{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		Version:   version,
		Payload:   payload,
		CreatedAt: s.clock().UTC(),
	}
	const ins = `INSERT INTO artifacts (id, project_id, kind, version, payload_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins, a.ID, a.ProjectID, string(a.Kind), a.Version, string(a.Payload), toUnix(a.CreatedAt)); err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit artifact: %w", err)
	}
	return a, nil
}

// LatestArtifact returns the highest version of kind for the project, or
// ErrNotFound.
func (s *Store) LatestArtifact(ctx context.Context, projectID string, kind ArtifactKind) (*Artifact, error) {
	const q = `SELECT id, project_id, kind, version, payload_json, created_at
FROM artifacts WHERE project_id = ? AND kind = ? ORDER BY version DESC LIMIT 1`

	a, err := scanArtifact(s.DB.QueryRowContext(ctx, q, projectID, string(kind)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest artifact: %w", err)
	}
	return a, nil
}

// ArtifactVersions lists every stored version of kind, oldest first.
func (s *Store) ArtifactVersions(ctx context.Context, projectID string, kind ArtifactKind) ([]*Artifact, error) {
	const q = `SELECT id, project_id, kind, version, payload_json, created_at
FROM artifacts WHERE project_id = ? AND kind = ? ORDER BY version ASC`

	rows, err := s.DB.QueryContext(ctx, q, projectID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row scanner) (*Artifact, error) {
	var (
		a         Artifact
		kind      string
		payload   string
		createdAt int64
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &kind, &a.Version, &payload, &createdAt); err != nil {
		return nil, err
	}
	a.Kind = ArtifactKind(kind)
	a.Payload = json.RawMessage(payload)
	a.CreatedAt = fromUnix(createdAt)
	return &a, nil
}
