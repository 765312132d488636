package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zhouzirui/session-chat/backend/internal/model/chat"
)

var (
	sessionsBucket = []byte(TableSessions)
	turnsBucket    = []byte(TableTurns)
)

// BoltStore keeps sessions and turns as JSON rows in a single bbolt file.
// Rows are keyed by bucket sequence so iteration follows insertion order.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, turnsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// FindSessions implements Store.
func (s *BoltStore) FindSessions(_ context.Context, q Query) ([]chat.Session, error) {
	if err := sessionColumns.check(TableSessions, q.Filters, q.OrderBy); err != nil {
		return nil, err
	}

	var rows []chat.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rows, err = readRows[chat.Session](tx.Bucket(sessionsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	return selectRows(rows, sessionColumns, q), nil
}

// InsertSession implements Store.
func (s *BoltStore) InsertSession(_ context.Context, session chat.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if session.IsActive {
			rows, err := readRows[chat.Session](b)
			if err != nil {
				return fmt.Errorf("read sessions: %w", err)
			}
			for _, existing := range rows {
				if existing.IsActive && existing.UserID == session.UserID {
					return ErrActiveSessionExists
				}
			}
		}
		return appendRow(b, session)
	})
}

// UpdateSessions implements Store.
func (s *BoltStore) UpdateSessions(_ context.Context, patch SessionPatch, filters []Filter) (int64, error) {
	if err := sessionColumns.check(TableSessions, filters, ""); err != nil {
		return 0, err
	}
	if patch.empty() {
		return 0, nil
	}

	var updated int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)

		type pending struct {
			key []byte
			row chat.Session
		}
		var matched []pending
		err := b.ForEach(func(k, v []byte) error {
			var row chat.Session
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if sessionColumns.matches(row, filters) {
				matched = append(matched, pending{key: append([]byte(nil), k...), row: row})
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, p := range matched {
			if patch.LastActive != nil {
				p.row.LastActive = *patch.LastActive
			}
			if patch.IsActive != nil {
				p.row.IsActive = *patch.IsActive
			}
			data, err := json.Marshal(p.row)
			if err != nil {
				return err
			}
			if err := b.Put(p.key, data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update sessions: %w", err)
	}
	return updated, nil
}

// FindTurns implements Store.
func (s *BoltStore) FindTurns(_ context.Context, q Query) ([]chat.Turn, error) {
	if err := turnColumns.check(TableTurns, q.Filters, q.OrderBy); err != nil {
		return nil, err
	}

	var rows []chat.Turn
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rows, err = readRows[chat.Turn](tx.Bucket(turnsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	return selectRows(rows, turnColumns, q), nil
}

// InsertTurn implements Store.
func (s *BoltStore) InsertTurn(_ context.Context, turn chat.Turn) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return appendRow(tx.Bucket(turnsBucket), turn)
	})
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readRows[T any](b *bolt.Bucket) ([]T, error) {
	rows := make([]T, 0)
	err := b.ForEach(func(_, v []byte) error {
		var row T
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func appendRow(b *bolt.Bucket, row any) error {
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return b.Put(key, data)
}
