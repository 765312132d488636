package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	sessionSelect = "SELECT session_id, user_id, created_at, last_active, is_active FROM sessions"
	turnSelect    = "SELECT id, user_id, session_id, prompt, response, created_at FROM conversations"

	sessionInsert = `INSERT INTO sessions (session_id, user_id, created_at, last_active, is_active)
		VALUES (:session_id, :user_id, :created_at, :last_active, :is_active)`
	turnInsert = `INSERT INTO conversations (id, user_id, session_id, prompt, response, created_at)
		VALUES (:id, :user_id, :session_id, :prompt, :response, :created_at)`
)

// SQLiteStore persists sessions and turns in a SQLite database file.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded schema migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sqlx.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db.DB, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// FindSessions implements Store.
func (s *SQLiteStore) FindSessions(ctx context.Context, q Query) ([]chat.Session, error) {
	if err := sessionColumns.check(TableSessions, q.Filters, q.OrderBy); err != nil {
		return nil, err
	}

	query, args := buildSelect(sessionSelect, q)
	sessions := make([]chat.Session, 0)
	if err := s.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	return sessions, nil
}

// InsertSession implements Store.
func (s *SQLiteStore) InsertSession(ctx context.Context, session chat.Session) error {
	session.CreatedAt = session.CreatedAt.UTC()
	session.LastActive = session.LastActive.UTC()

	if _, err := s.db.NamedExecContext(ctx, sessionInsert, session); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSessions implements Store.
func (s *SQLiteStore) UpdateSessions(ctx context.Context, patch SessionPatch, filters []Filter) (int64, error) {
	if err := sessionColumns.check(TableSessions, filters, ""); err != nil {
		return 0, err
	}
	if patch.empty() {
		return 0, nil
	}

	sets := make([]string, 0, 2)
	args := make([]any, 0, 2+len(filters))
	if patch.LastActive != nil {
		sets = append(sets, "last_active = ?")
		args = append(args, patch.LastActive.UTC())
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *patch.IsActive)
	}

	where, whereArgs := buildWhere(filters)
	query := "UPDATE sessions SET " + strings.Join(sets, ", ") + where
	args = append(args, whereArgs...)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update sessions: %w", err)
	}
	return n, nil
}

// FindTurns implements Store.
func (s *SQLiteStore) FindTurns(ctx context.Context, q Query) ([]chat.Turn, error) {
	if err := turnColumns.check(TableTurns, q.Filters, q.OrderBy); err != nil {
		return nil, err
	}

	query, args := buildSelect(turnSelect, q)
	turns := make([]chat.Turn, 0)
	if err := s.db.SelectContext(ctx, &turns, query, args...); err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	return turns, nil
}

// InsertTurn implements Store.
func (s *SQLiteStore) InsertTurn(ctx context.Context, turn chat.Turn) error {
	turn.CreatedAt = turn.CreatedAt.UTC()
	if _, err := s.db.NamedExecContext(ctx, turnInsert, turn); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// buildSelect appends WHERE, ORDER BY and LIMIT clauses for q. Column names
// must be checked against the table's column set before calling.
func buildSelect(base string, q Query) (string, []any) {
	var b strings.Builder
	b.WriteString(base)

	where, args := buildWhere(q.Filters)
	b.WriteString(where)

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
		// rowid breaks ties by insertion order
		if q.Desc {
			b.WriteString(" DESC, rowid DESC")
		} else {
			b.WriteString(" ASC, rowid ASC")
		}
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args
}

func buildWhere(filters []Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		clauses = append(clauses, f.Column+" = ?")
		args = append(args, bindValue(f.Value))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}
