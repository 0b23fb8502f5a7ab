package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FireRecord is one audited fire. Keep it compact and schema-stable.
type FireRecord struct {
	EventID    string            `json:"event_id"`
	ScheduleID string            `json:"schedule_id"`
	TargetID   string            `json:"target_id"`
	FiredAt    time.Time         `json:"fired_at"`
	Manual     bool              `json:"manual,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}
