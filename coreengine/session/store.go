package session

import (
	"context"
	"sync"
)

// Store persists sessions. One session exists per project.
type Store interface {
	// GetSessionByProject returns ErrNotFound when the project has none.
	GetSessionByProject(ctx context.Context, projectID string) (*Session, error)
	// CreateSession returns ErrDuplicate when the project already has one.
	CreateSession(ctx context.Context, s *Session) error
	// UpdateSession writes s if the stored version equals s.Version, then
	// increments s.Version. A mismatch returns ErrVersionConflict.
	UpdateSession(ctx context.Context, s *Session) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// GetSessionByProject implements Store.
func (m *MemoryStore) GetSessionByProject(ctx context.Context, projectID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// CreateSession implements Store.
func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ProjectID]; ok {
		return ErrDuplicate
	}
	m.sessions[s.ProjectID] = s.Clone()
	return nil
}

// UpdateSession implements Store.
func (m *MemoryStore) UpdateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ProjectID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.sessions[s.ProjectID] = s.Clone()
	return nil
}

var _ Store = (*MemoryStore)(nil)
