package config

import (
	"fmt"
	"strings"
	"time"

	"triggerd/internal/cronexpr"
)

// Config is the daemon configuration. It accepts JSON or YAML on disk;
// unknown fields are rejected so typos fail loudly instead of silently
// disabling a section.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Trigger controls engine-wide defaults (timezone, history bounds).
	Trigger TriggerConfig `json:"trigger"`

	// Storage configures the optional fire-audit store.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Schedules are the declaratively managed trigger definitions. The
	// daemon registers them at start and re-syncs the set on hot reload.
	Schedules []ScheduleConfig `json:"schedules"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file"`
}

// TriggerConfig holds engine defaults.
//
// DefaultTimezone applies to schedules that do not set their own zone;
// empty means UTC.
type TriggerConfig struct {
	DefaultTimezone  string `json:"default_timezone,omitempty"`
	HistorySize      int    `json:"history_size,omitempty"`
	FailureLogPerSec int    `json:"failure_log_per_sec,omitempty"`
}

// StorageConfig controls the fire-audit persistence layer.
//
// Driver values:
//   - "file": dependency-free jsonl backend
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", auditing is disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ScheduleConfig is one declared schedule.
//
// Enabled is a pointer so an omitted field means "enabled" while an
// explicit false keeps the schedule registered but idle.
type ScheduleConfig struct {
	ID         string            `json:"id"`
	Expression string            `json:"expression"`
	Label      string            `json:"label,omitempty"`
	Target     string            `json:"target"`
	Timezone   string            `json:"timezone,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
}

// IsEnabled applies the omitted-means-enabled default.
func (s ScheduleConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Validate checks the parts of the config that must fail at load time
// rather than surface later as runtime errors.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("schedules[%d]: id required", i)
		}
		if seen[id] {
			return fmt.Errorf("schedules[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if strings.TrimSpace(s.Target) == "" {
			return fmt.Errorf("schedules[%d] (%s): target required", i, id)
		}
		if _, err := cronexpr.Parse(s.Expression); err != nil {
			return fmt.Errorf("schedules[%d] (%s): %w", i, id, err)
		}
		tz := s.Timezone
		if tz == "" {
			tz = c.Trigger.DefaultTimezone
		}
		if _, err := cronexpr.LoadZone(tz); err != nil {
			return fmt.Errorf("schedules[%d] (%s): %w", i, id, err)
		}
	}
	if st := c.Storage; st != nil {
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
