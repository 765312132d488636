// Package session owns chat session identity, validity and expiry, and
// rebuilds ordered conversation history for the completion provider.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
	"github.com/zhouzirui/session-chat/backend/internal/store"
)

// DefaultTimeout is the idle time after which a session expires.
const DefaultTimeout = 30 * time.Minute

// StoreError reports a failure talking to the persistent store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator replaces uuid.NewString as the session id source.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// Manager guarantees each chat request runs against exactly one valid
// session, expiring and replacing stale ones lazily on access.
type Manager struct {
	store   store.Store
	timeout time.Duration
	now     func() time.Time
	newID   func() string
	locks   *userLocks
}

// NewManager builds a Manager on top of st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:   st,
		timeout: DefaultTimeout,
		now:     time.Now,
		newID:   uuid.NewString,
		locks:   newUserLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the configured idle timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// GetOrCreateSession returns the user's active session id, creating a new
// session when none exists or the latest one has been idle longer than the
// timeout. The read path never mutates the returned session.
func (m *Manager) GetOrCreateSession(ctx context.Context, userID string) (string, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	// A conflict means another process created the session between our read
	// and insert; the second read returns it.
	for attempt := 0; attempt < 2; attempt++ {
		sessionID, err := m.getOrCreate(ctx, userID)
		if errors.Is(err, store.ErrActiveSessionExists) {
			log.Printf("[session] concurrent session creation for user=%s, re-reading", userID)
			continue
		}
		return sessionID, err
	}
	return "", &StoreError{Op: "create session", Err: store.ErrActiveSessionExists}
}

func (m *Manager) getOrCreate(ctx context.Context, userID string) (string, error) {
	now := m.now().UTC()

	found, err := m.store.FindSessions(ctx, store.Query{
		Filters: []store.Filter{store.Eq("user_id", userID), store.Eq("is_active", true)},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   1,
	})
	if err != nil {
		return "", &StoreError{Op: "find active session", Err: err}
	}

	if len(found) > 0 {
		current := found[0]
		if current.IdleFor(now) <= m.timeout {
			return current.SessionID, nil
		}

		inactive := false
		_, err := m.store.UpdateSessions(ctx, store.SessionPatch{IsActive: &inactive}, []store.Filter{store.Eq("session_id", current.SessionID)})
		if err != nil {
			return "", &StoreError{Op: "expire session", Err: err}
		}
		log.Printf("[session] expired session=%s user=%s idle=%s", current.SessionID, userID, current.IdleFor(now).Round(time.Second))
	}

	created := chat.Session{
		UserID:     userID,
		SessionID:  m.newID(),
		CreatedAt:  now,
		LastActive: now,
		IsActive:   true,
	}
	if err := m.store.InsertSession(ctx, created); err != nil {
		if errors.Is(err, store.ErrActiveSessionExists) {
			return "", err
		}
		return "", &StoreError{Op: "create session", Err: err}
	}

	log.Printf("[session] created session=%s user=%s", created.SessionID, userID)
	return created.SessionID, nil
}

// AppendTurn records a prompt/response pair and refreshes the session's
// last activity to ts.
func (m *Manager) AppendTurn(ctx context.Context, userID, sessionID, prompt, response string, ts time.Time) error {
	ts = ts.UTC()

	turn := chat.Turn{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Prompt:    prompt,
		Response:  response,
		CreatedAt: ts,
	}
	if err := m.store.InsertTurn(ctx, turn); err != nil {
		return &StoreError{Op: "insert turn", Err: err}
	}

	if _, err := m.store.UpdateSessions(ctx, store.SessionPatch{LastActive: &ts}, []store.Filter{store.Eq("session_id", sessionID)}); err != nil {
		return &StoreError{Op: "touch session", Err: err}
	}
	return nil
}

// LoadHistory yields the session's turns oldest first. Every range over the
// returned sequence queries the store afresh; a store failure is yielded once
// as the error of a zero Turn and ends the sequence.
func (m *Manager) LoadHistory(ctx context.Context, userID, sessionID string) iter.Seq2[chat.Turn, error] {
	return func(yield func(chat.Turn, error) bool) {
		turns, err := m.store.FindTurns(ctx, store.Query{
			Filters: []store.Filter{store.Eq("user_id", userID), store.Eq("session_id", sessionID)},
			OrderBy: "created_at",
		})
		if err != nil {
			yield(chat.Turn{}, &StoreError{Op: "load history", Err: err})
			return
		}
		for _, turn := range turns {
			if !yield(turn, nil) {
				return
			}
		}
	}
}
