package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/session"
)

// GetSessionByProject implements session.Store.
func (s *Store) GetSessionByProject(ctx context.Context, projectID string) (*session.Session, error) {
	const q = `SELECT id, project_id, current_stage, locked_core_thesis, locked_structure, version, created_at, updated_at
FROM writing_sessions WHERE project_id = ?`

	var (
		out                  session.Session
		stage                string
		thesis, structure    int
		createdAt, updatedAt int64
	)
	err := s.DB.QueryRowContext(ctx, q, projectID).Scan(
		&out.ID, &out.ProjectID, &stage, &thesis, &structure, &out.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	st, err := session.ParseStage(stage)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	out.CurrentStage = st
	out.LockedCoreThesis = thesis != 0
	out.LockedStructure = structure != 0
	out.CreatedAt = fromUnix(createdAt)
	out.UpdatedAt = fromUnix(updatedAt)
	return &out, nil
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	const q = `INSERT INTO writing_sessions (id, project_id, current_stage, locked_core_thesis, locked_structure, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_id) DO NOTHING`

	res, err := s.DB.ExecContext(ctx, q,
		sess.ID,
		sess.ProjectID,
		string(sess.CurrentStage),
		boolInt(sess.LockedCoreThesis),
		boolInt(sess.LockedStructure),
		sess.Version,
		toUnix(sess.CreatedAt),
		toUnix(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// UpdateSession implements session.Store using optimistic locking on
// version.
func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	const q = `UPDATE writing_sessions SET
		current_stage = ?,
		locked_core_thesis = ?,
		locked_structure = ?,
		version = version + 1,
		updated_at = ?
	WHERE project_id = ? AND version = ?`

	res, err := s.DB.ExecContext(ctx, q,
		string(sess.CurrentStage),
		boolInt(sess.LockedCoreThesis),
		boolInt(sess.LockedStructure),
		toUnix(sess.UpdatedAt),
		sess.ProjectID,
		sess.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetSessionByProject(ctx, sess.ProjectID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	sess.Version++
	return nil
}

var _ session.Store = (*Store)(nil)
