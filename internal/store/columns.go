package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

type columnSet[T any] map[string]func(T) any

var sessionColumns = columnSet[chat.Session]{
	"user_id":     func(s chat.Session) any { return s.UserID },
	"session_id":  func(s chat.Session) any { return s.SessionID },
	"created_at":  func(s chat.Session) any { return s.CreatedAt },
	"last_active": func(s chat.Session) any { return s.LastActive },
	"is_active":   func(s chat.Session) any { return s.IsActive },
}

var turnColumns = columnSet[chat.Turn]{
	"id":         func(t chat.Turn) any { return t.ID },
	"user_id":    func(t chat.Turn) any { return t.UserID },
	"session_id": func(t chat.Turn) any { return t.SessionID },
	"prompt":     func(t chat.Turn) any { return t.Prompt },
	"response":   func(t chat.Turn) any { return t.Response },
	"created_at": func(t chat.Turn) any { return t.CreatedAt },
}

func (c columnSet[T]) check(table string, filters []Filter, orderBy string) error {
	for _, f := range filters {
		if _, ok := c[f.Column]; !ok {
			return fmt.Errorf("%w %q on table %s", ErrUnknownColumn, f.Column, table)
		}
	}
	if orderBy != "" {
		if _, ok := c[orderBy]; !ok {
			return fmt.Errorf("%w %q on table %s", ErrUnknownColumn, orderBy, table)
		}
	}
	return nil
}

func (c columnSet[T]) matches(row T, filters []Filter) bool {
	for _, f := range filters {
		if !equalValues(c[f.Column](row), f.Value) {
			return false
		}
	}
	return true
}

// selectRows applies q to rows, which must be in insertion order. Ties on the
// order column keep insertion order, reversed for descending queries. Columns
// in q are expected to be checked already.
func selectRows[T any](rows []T, cols columnSet[T], q Query) []T {
	out := make([]T, 0, len(rows))
	for i := range rows {
		row := rows[i]
		if q.Desc {
			row = rows[len(rows)-1-i]
		}
		if cols.matches(row, q.Filters) {
			out = append(out, row)
		}
	}

	if q.OrderBy != "" {
		key := cols[q.OrderBy]
		sort.SliceStable(out, func(i, j int) bool {
			if q.Desc {
				return lessValues(key(out[j]), key(out[i]))
			}
			return lessValues(key(out[i]), key(out[j]))
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func equalValues(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func lessValues(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		return av.Before(b.(time.Time))
	case string:
		return av < b.(string)
	case bool:
		return !av && b.(bool)
	default:
		return false
	}
}
