package store

import (
	"context"
	"sync"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

// MemoryStore keeps sessions and turns in process memory. Suitable for tests
// and single-instance development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions []chat.Session
	turns    []chat.Turn
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make([]chat.Session, 0, 16),
		turns:    make([]chat.Turn, 0, 64),
	}
}

// FindSessions implements Store.
func (s *MemoryStore) FindSessions(_ context.Context, q Query) ([]chat.Session, error) {
	if err := sessionColumns.check(TableSessions, q.Filters, q.OrderBy); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectRows(s.sessions, sessionColumns, q), nil
}

// InsertSession implements Store.
func (s *MemoryStore) InsertSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.IsActive {
		for _, existing := range s.sessions {
			if existing.IsActive && existing.UserID == session.UserID {
				return ErrActiveSessionExists
			}
		}
	}

	s.sessions = append(s.sessions, session)
	return nil
}

// UpdateSessions implements Store.
func (s *MemoryStore) UpdateSessions(_ context.Context, patch SessionPatch, filters []Filter) (int64, error) {
	if err := sessionColumns.check(TableSessions, filters, ""); err != nil {
		return 0, err
	}
	if patch.empty() {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for i := range s.sessions {
		if !sessionColumns.matches(s.sessions[i], filters) {
			continue
		}
		if patch.LastActive != nil {
			s.sessions[i].LastActive = *patch.LastActive
		}
		if patch.IsActive != nil {
			s.sessions[i].IsActive = *patch.IsActive
		}
		updated++
	}
	return updated, nil
}

// FindTurns implements Store.
func (s *MemoryStore) FindTurns(_ context.Context, q Query) ([]chat.Turn, error) {
	if err := turnColumns.check(TableTurns, q.Filters, q.OrderBy); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectRows(s.turns, turnColumns, q), nil
}

// InsertTurn implements Store.
func (s *MemoryStore) InsertTurn(_ context.Context, turn chat.Turn) error {
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
