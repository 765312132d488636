// Package store persists sessions and conversation turns behind a small
// table-oriented interface: find with equality filters and ordering, insert,
// and update by filter.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/session-chat/backend/internal/config"
	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

// Table names.
const (
	TableSessions = "sessions"
	TableTurns    = "conversations"
)

var (
	// ErrActiveSessionExists is returned by InsertSession when the user
	// already owns an active session.
	ErrActiveSessionExists = errors.New("active session already exists for user")
	ErrUnknownColumn       = errors.New("unknown column")
)

// Filter is a column equality predicate.
type Filter struct {
	Column string
	Value  any
}

// Eq builds a Filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Query describes a find against one table. A zero Limit means no limit.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// SessionPatch lists the session columns an update may change. Nil fields
// are left untouched.
type SessionPatch struct {
	LastActive *time.Time
	IsActive   *bool
}

func (p SessionPatch) empty() bool {
	return p.LastActive == nil && p.IsActive == nil
}

// Store is the persistence boundary used by the session manager.
type Store interface {
	FindSessions(ctx context.Context, q Query) ([]chat.Session, error)
	InsertSession(ctx context.Context, s chat.Session) error
	UpdateSessions(ctx context.Context, patch SessionPatch, filters []Filter) (int64, error)

	FindTurns(ctx context.Context, q Query) ([]chat.Turn, error)
	InsertTurn(ctx context.Context, t chat.Turn) error

	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case config.StoreBolt:
		return OpenBolt(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
