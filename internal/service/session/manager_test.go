package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
	"github.com/zhouzirui/session-chat/backend/internal/service/session"
	"github.com/zhouzirui/session-chat/backend/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func findSession(t *testing.T, st store.Store, sessionID string) chat.Session {
	t.Helper()
	rows, err := st.FindSessions(context.Background(), store.Query{Filters: []store.Filter{store.Eq("session_id", sessionID)}})
	if err != nil {
		t.Fatalf("FindSessions err: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 session %s, got %d", sessionID, len(rows))
	}
	return rows[0]
}

func TestGetOrCreateSessionCreatesFreshSession(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now))

	id, err := mgr.GetOrCreateSession(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty session id")
	}

	got := findSession(t, st, id)
	if !got.IsActive {
		t.Fatal("expected new session to be active")
	}
	if got.UserID != "alice" {
		t.Fatalf("unexpected user: %s", got.UserID)
	}
	if !got.CreatedAt.Equal(got.LastActive) || !got.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("expected created_at = last_active = now, got %s / %s", got.CreatedAt, got.LastActive)
	}
}

func TestGetOrCreateSessionReusesWithinTimeout(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now))
	ctx := context.Background()

	first, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}

	// Exactly at the timeout the session is still valid.
	clock.Advance(session.DefaultTimeout)

	second, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	if first != second {
		t.Fatalf("expected same session, got %s and %s", first, second)
	}

	before := findSession(t, st, first)
	if !before.LastActive.Equal(before.CreatedAt) {
		t.Fatal("read path must not refresh last_active")
	}
}

func TestGetOrCreateSessionExpiresIdleSession(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now))
	ctx := context.Background()

	old, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}

	clock.Advance(31 * time.Minute)

	fresh, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	if fresh == old {
		t.Fatal("expected a new session after expiry")
	}

	if findSession(t, st, old).IsActive {
		t.Fatal("expected expired session to be inactive")
	}
	if !findSession(t, st, fresh).IsActive {
		t.Fatal("expected replacement session to be active")
	}
}

func TestAppendTurnRefreshesLastActive(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now))
	ctx := context.Background()

	id, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}

	// Keep the session alive with a turn every 20 minutes.
	for i := 0; i < 3; i++ {
		clock.Advance(20 * time.Minute)
		if err := mgr.AppendTurn(ctx, "alice", id, "ping", "pong", clock.Now()); err != nil {
			t.Fatalf("AppendTurn err: %v", err)
		}
	}

	if got := findSession(t, st, id); !got.LastActive.Equal(clock.Now()) {
		t.Fatalf("expected last_active %s, got %s", clock.Now(), got.LastActive)
	}

	clock.Advance(20 * time.Minute)
	again, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	if again != id {
		t.Fatalf("expected session kept alive by turns, got new %s", again)
	}
}

func TestWithTimeoutOverridesDefault(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now), session.WithTimeout(time.Minute))
	ctx := context.Background()

	if mgr.Timeout() != time.Minute {
		t.Fatalf("unexpected timeout: %s", mgr.Timeout())
	}

	first, _ := mgr.GetOrCreateSession(ctx, "alice")
	clock.Advance(61 * time.Second)
	second, _ := mgr.GetOrCreateSession(ctx, "alice")
	if first == second {
		t.Fatal("expected expiry with one minute timeout")
	}
}

func TestSessionsAreIsolatedPerUser(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now))
	ctx := context.Background()

	alice, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	bob, err := mgr.GetOrCreateSession(ctx, "bob")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	if alice == bob {
		t.Fatal("users must never share a session id")
	}
}

func TestConcurrentRequestsShareOneSession(t *testing.T) {
	st := store.NewMemoryStore()
	mgr := session.NewManager(st)
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := mgr.GetOrCreateSession(ctx, "alice")
			if err != nil {
				t.Errorf("GetOrCreateSession err: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one shared session, got %s and %s", ids[0], id)
		}
	}

	active, err := st.FindSessions(ctx, store.Query{Filters: []store.Filter{store.Eq("user_id", "alice"), store.Eq("is_active", true)}})
	if err != nil {
		t.Fatalf("FindSessions err: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active session, got %d", len(active))
	}
}

// racingStore simulates another process winning the insert race once.
type racingStore struct {
	*store.MemoryStore
	raced bool
}

func (s *racingStore) InsertSession(ctx context.Context, sess chat.Session) error {
	if !s.raced {
		s.raced = true
		winner := sess
		winner.SessionID = "winner"
		if err := s.MemoryStore.InsertSession(ctx, winner); err != nil {
			return err
		}
	}
	return s.MemoryStore.InsertSession(ctx, sess)
}

func TestGetOrCreateSessionRereadsAfterConflict(t *testing.T) {
	st := &racingStore{MemoryStore: store.NewMemoryStore()}
	mgr := session.NewManager(st)

	id, err := mgr.GetOrCreateSession(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}
	if id != "winner" {
		t.Fatalf("expected the concurrently created session, got %s", id)
	}
}

type failingStore struct {
	*store.MemoryStore
}

var errUnavailable = errors.New("connection refused")

func (failingStore) FindSessions(context.Context, store.Query) ([]chat.Session, error) {
	return nil, errUnavailable
}

func (failingStore) FindTurns(context.Context, store.Query) ([]chat.Turn, error) {
	return nil, errUnavailable
}

func TestStoreFailuresSurfaceAsStoreError(t *testing.T) {
	mgr := session.NewManager(failingStore{MemoryStore: store.NewMemoryStore()})
	ctx := context.Background()

	_, err := mgr.GetOrCreateSession(ctx, "alice")
	var storeErr *session.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}

	for _, err := range mgr.LoadHistory(ctx, "alice", "s1") {
		if !errors.As(err, &storeErr) {
			t.Fatalf("expected StoreError from history, got %v", err)
		}
	}
}

func TestLoadHistoryIsOrderedAndRestartable(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newFakeClock()
	mgr := session.NewManager(st, session.WithClock(clock.Now))
	ctx := context.Background()

	id, err := mgr.GetOrCreateSession(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateSession err: %v", err)
	}

	t1 := clock.Now().Add(time.Second)
	t2 := t1.Add(time.Second)
	t3 := t2.Add(time.Second)
	// Inserted out of order; history must follow created_at.
	for _, tc := range []struct {
		prompt string
		at     time.Time
	}{{"second", t2}, {"first", t1}, {"third", t3}} {
		if err := mgr.AppendTurn(ctx, "alice", id, tc.prompt, "re: "+tc.prompt, tc.at); err != nil {
			t.Fatalf("AppendTurn err: %v", err)
		}
	}

	history := mgr.LoadHistory(ctx, "alice", id)
	for pass := 0; pass < 2; pass++ {
		var prompts []string
		for turn, err := range history {
			if err != nil {
				t.Fatalf("history err: %v", err)
			}
			prompts = append(prompts, turn.Prompt)
		}
		if len(prompts) != 3 || prompts[0] != "first" || prompts[1] != "second" || prompts[2] != "third" {
			t.Fatalf("pass %d: unexpected order %v", pass, prompts)
		}
	}

	// A fresh range observes turns appended after the sequence was created.
	if err := mgr.AppendTurn(ctx, "alice", id, "fourth", "re: fourth", t3.Add(time.Second)); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}
	count := 0
	for range history {
		count++
	}
	if count != 4 {
		t.Fatalf("expected 4 turns on restart, got %d", count)
	}
}

func TestLoadHistoryScopedToSession(t *testing.T) {
	st := store.NewMemoryStore()
	mgr := session.NewManager(st)
	ctx := context.Background()
	now := time.Now()

	if err := mgr.AppendTurn(ctx, "alice", "s1", "mine", "ok", now); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}
	if err := mgr.AppendTurn(ctx, "alice", "s2", "other", "ok", now); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}
	if err := mgr.AppendTurn(ctx, "bob", "s1", "not alice", "ok", now); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}

	var prompts []string
	for turn, err := range mgr.LoadHistory(ctx, "alice", "s1") {
		if err != nil {
			t.Fatalf("history err: %v", err)
		}
		prompts = append(prompts, turn.Prompt)
	}
	if len(prompts) != 1 || prompts[0] != "mine" {
		t.Fatalf("unexpected history: %v", prompts)
	}
}
