package storage

import (
	"context"
	"errors"
	"strings"

	logx "castbot/pkg/logx"
)

// Store is the persistence API used by the broadcast coordinator and the
// history command.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries of chatID, newest first.
	RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
