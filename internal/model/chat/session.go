package chat

import "time"

// Session is a bounded window of conversation for one user.
// At most one session per user is active at a time.
type Session struct {
	UserID     string    `json:"user_id" db:"user_id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastActive time.Time `json:"last_active" db:"last_active"`
	IsActive   bool      `json:"is_active" db:"is_active"`
}

// IdleFor reports how long the session has gone without a turn at now.
func (s Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActive)
}
