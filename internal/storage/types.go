package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound reports that nothing has been persisted yet.
	ErrNotFound = errors.New("store not found")
	// ErrCorrupt reports persisted content that cannot be trusted.
	ErrCorrupt = errors.New("store content is corrupt")
	// ErrUnreadable wraps I/O failures while reading the store.
	ErrUnreadable = errors.New("store unreadable")
	ErrClosed     = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON array at Path
//   - "sqlite": SQLite database at Path
type Config struct {
	Driver      string
	Path        string
	Audit       bool
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a registry mutation.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Action     string    `json:"action"`
	Subscriber string    `json:"subscriber"`
	Reason     string    `json:"reason,omitempty"`
	ActorID    int64     `json:"actor_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
}
