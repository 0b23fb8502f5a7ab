//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"triggerd/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fires (
	event_id    TEXT PRIMARY KEY,
	schedule_id TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	fired_at    TEXT NOT NULL,
	fired_ms    INTEGER NOT NULL,
	manual      INTEGER NOT NULL DEFAULT 0,
	params      TEXT
);
CREATE INDEX IF NOT EXISTS idx_fires_schedule ON fires(schedule_id, fired_ms);
CREATE INDEX IF NOT EXISTS idx_fires_ms ON fires(fired_ms);
`

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

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendFire(ctx context.Context, rec FireRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	var params any
	if len(rec.Params) > 0 {
		b, err := json.Marshal(rec.Params)
		if err != nil {
			return err
		}
		params = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fires(event_id, schedule_id, target_id, fired_at, fired_ms, manual, params)
		 VALUES(?,?,?,?,?,?,?)`,
		rec.EventID, rec.ScheduleID, rec.TargetID,
		rec.FiredAt.Format(time.RFC3339Nano), rec.FiredAt.UnixMilli(),
		boolInt(rec.Manual), params,
	)
	return err
}

func (s *sqliteStore) LastFire(ctx context.Context, scheduleID string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT fired_ms FROM fires WHERE schedule_id = ? ORDER BY fired_ms DESC LIMIT 1`,
		scheduleID,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) RecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, schedule_id, target_id, fired_ms, manual, params
		 FROM fires ORDER BY fired_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FireRecord
	for rows.Next() {
		var rec FireRecord
		var ms int64
		var manual int
		var params sql.NullString
		if err := rows.Scan(&rec.EventID, &rec.ScheduleID, &rec.TargetID, &ms, &manual, &params); err != nil {
			return nil, err
		}
		rec.FiredAt = time.UnixMilli(ms)
		rec.Manual = manual != 0
		if params.Valid && params.String != "" {
			_ = json.Unmarshal([]byte(params.String), &rec.Params)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
