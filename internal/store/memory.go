package store

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/domain"
)

// MemorySessionStore is an in-memory SessionStore implementation, used by
// tests and by the `store: memory` configuration.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) Create(_ context.Context, id, ownerID string, initial []domain.Message) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:        id,
		OwnerID:   ownerID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  append([]domain.Message(nil), initial...),
	}
	s.sessions[id] = sess
	return copySession(sess), nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *MemorySessionStore) Append(_ context.Context, sessionID string, expectedVersion int64, msgs []domain.Message) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if sess.Version != expectedVersion {
		return nil, domain.ErrVersionConflict
	}
	sess.Messages = append(sess.Messages, msgs...)
	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	return copySession(sess), nil
}

func (s *MemorySessionStore) ListIDsByOwner(_ context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func copySession(sess *domain.Session) *domain.Session {
	out := *sess
	out.Messages = append([]domain.Message(nil), sess.Messages...)
	return &out
}
