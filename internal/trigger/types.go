package trigger

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownSchedule reports an operation referencing an id that is not
// in the registry.
var ErrUnknownSchedule = errors.New("unknown schedule")

// Config controls the trigger service.
type Config struct {
	// DefaultTimezone applies to schedules that do not carry their own
	// IANA zone. Empty means UTC.
	DefaultTimezone string

	// HistorySize bounds the in-memory fire history (default 200).
	HistorySize int

	// FailureLogPerSec rate-limits consumer failure logging so a hot
	// failing consumer cannot flood the log (default 5/s). Failures are
	// always counted and published on the bus regardless.
	FailureLogPerSec int
}

// Schedule is a named trigger definition. All fields except Enabled are
// immutable for a given id; replacing a schedule means registering again
// under the same id.
type Schedule struct {
	ID         string
	Expression string // 5-field cron, see internal/cronexpr
	Label      string
	TargetID   string // downstream action id, opaque to the engine
	Timezone   string // IANA zone; empty means the service default
	Params     map[string]string
	Enabled    bool
}

func (s Schedule) clone() Schedule {
	cp := s
	if s.Params != nil {
		cp.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			cp.Params[k] = v
		}
	}
	return cp
}

// FireEvent is the immutable record produced once per fire. FiredAt is
// wall-clock dispatch time, not the scheduled instant (a timer may fire
// slightly late).
type FireEvent struct {
	EventID    string
	ScheduleID string
	TargetID   string
	FiredAt    time.Time
	Manual     bool
	Params     map[string]string
}

// Consumer receives fire events. A non-nil error is logged and isolated;
// it never affects other consumers or scheduling.
type Consumer func(ctx context.Context, ev FireEvent) error

type consumerReg struct {
	id   uint64
	name string
	fn   Consumer
}

// entry is the per-schedule registry slot. gen identifies the current
// arming epoch: every disarm or re-register bumps it, so an expiry
// callback from a cancelled timer can never act on replaced state.
type entry struct {
	sched  Schedule
	gen    uint64
	timer  *time.Timer
	nextAt time.Time
}

// FireRecord is one entry of the bounded fire history.
type FireRecord struct {
	EventID    string
	ScheduleID string
	Label      string
	Manual     bool
	FiredAt    time.Time
	Duration   time.Duration
	Consumers  int
	Errors     int
}

// ScheduleInfo is the read-only listing shape returned by Snapshot.
type ScheduleInfo struct {
	ID         string
	Expression string
	Label      string
	TargetID   string
	Timezone   string
	Enabled    bool
	Armed      bool
	NextAt     time.Time
}

// Snapshot is a point-in-time copy of the service state.
type Snapshot struct {
	Running         bool
	DefaultTimezone string
	Schedules       []ScheduleInfo
	History         []FireRecord
}

// Bus event types published by the service.
const (
	EventArmed         = "schedule.armed"
	EventDisarmed      = "schedule.disarmed"
	EventComputeFailed = "schedule.compute_failed"
	EventDispatched    = "fire.dispatched"
	EventConsumerError = "fire.consumer_error"
)
