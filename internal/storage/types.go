package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines audit log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one admitted broadcast after it stopped.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	RunID     string    `json:"run_id"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	ActorID   int64     `json:"actor_id"`
	State     string    `json:"state"`
	Total     int       `json:"total"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	FailedIDs []int64   `json:"failed_ids,omitempty"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}
