package storage

import (
	"context"
	"errors"
	"strings"

	logx "reportbot/pkg/logx"
)

// Store persists the full subscriber set.
type Store interface {
	// ReadAll returns the persisted identifiers. It returns ErrNotFound when
	// nothing was written yet, and errors wrapping ErrCorrupt or
	// ErrUnreadable otherwise.
	ReadAll(ctx context.Context) ([]string, error)
	// WriteAll atomically replaces the persisted set. A reader never
	// observes a partial write.
	WriteAll(ctx context.Context, ids []string) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
