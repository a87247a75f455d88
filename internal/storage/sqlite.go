package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "castbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var failedIDs any
	if len(e.FailedIDs) > 0 {
		b, err := json.Marshal(e.FailedIDs)
		if err != nil {
			return err
		}
		failedIDs = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcast_audit(at, run_id, chat_id, thread_id, actor_id, state, total, sent, failed, failed_ids, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.RunID, e.ChatID, e.ThreadID, e.ActorID, e.State,
		e.Total, e.Sent, e.Failed, failedIDs, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, chatID int64, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run_id, chat_id, thread_id, actor_id, state, total, sent, failed, failed_ids, err, took_ms
		 FROM broadcast_audit WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e         AuditEntry
			at        string
			failedIDs sql.NullString
			errText   sql.NullString
		)
		if err := rows.Scan(&at, &e.RunID, &e.ChatID, &e.ThreadID, &e.ActorID, &e.State,
			&e.Total, &e.Sent, &e.Failed, &failedIDs, &errText, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Error = errText.String
		if failedIDs.Valid && failedIDs.String != "" {
			if err := json.Unmarshal([]byte(failedIDs.String), &e.FailedIDs); err != nil {
				s.log.Debug("bad failed_ids column", logx.String("run_id", e.RunID), logx.Err(err))
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
