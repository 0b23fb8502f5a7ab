package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"triggerd/pkg/logx"
)

// Store is the fire-audit API used by the daemon.
type Store interface {
	AppendFire(ctx context.Context, rec FireRecord) error
	LastFire(ctx context.Context, scheduleID string) (at time.Time, ok bool, err error)
	RecentFires(ctx context.Context, limit int) ([]FireRecord, error)
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
