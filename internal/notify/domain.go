package notify

import (
	"errors"
	"time"
)

// Notification is one persisted in-app message. Email delivery is a copy of
// the same payload, fanned out through the job queue.
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Category  string     `json:"category"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Link      string     `json:"link,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

var ErrNotFound = errors.New("notify: not found")
