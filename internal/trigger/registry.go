package trigger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"triggerd/internal/cronexpr"
	"triggerd/pkg/logx"
)

// Register upserts a schedule by id. Any prior timer for the same id is
// cancelled before the replacement is stored, so the "one outstanding
// timer per id" invariant holds across re-registration.
//
// Expression and timezone are validated synchronously. When the service
// is running and the schedule is enabled, it is armed immediately; an
// arming failure (unsatisfiable expression) leaves the schedule
// registered but Idle and is returned to the caller.
func (s *Service) Register(sched Schedule) error {
	if strings.TrimSpace(sched.ID) == "" {
		return fmt.Errorf("schedule id required")
	}
	if _, err := cronexpr.Parse(sched.Expression); err != nil {
		return fmt.Errorf("schedule %q: %w", sched.ID, err)
	}
	if _, err := cronexpr.LoadZone(s.timezoneFor(sched)); err != nil {
		return fmt.Errorf("schedule %q: %w", sched.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[sched.ID]; ok {
		s.disarmLocked(prev)
	}
	s.genSeq++
	e := &entry{sched: sched.clone(), gen: s.genSeq}
	s.entries[sched.ID] = e

	s.log.Debug("schedule registered",
		logx.String("schedule", sched.ID),
		logx.String("expr", sched.Expression),
		logx.String("target", sched.TargetID),
		logx.Bool("enabled", sched.Enabled),
	)

	if s.running && sched.Enabled {
		return s.armLocked(e)
	}
	return nil
}

// Unregister cancels the schedule's timer and removes its record. The id
// is free for a fresh Register afterwards; the old registration can
// never fire again.
func (s *Service) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchedule, id)
	}
	s.disarmLocked(e)
	delete(s.entries, id)

	s.log.Debug("schedule unregistered", logx.String("schedule", id))
	s.publish(EventDisarmed, map[string]string{"schedule_id": id, "reason": "unregistered"})
	return nil
}

// SetEnabled toggles a schedule between Armed and Idle. Disabling
// cancels the pending timer; enabling computes a fresh delay from "now".
// The schedule record is retained either way.
func (s *Service) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSchedule, id)
	}
	if e.sched.Enabled == enabled {
		return nil
	}

	if !enabled {
		s.disarmLocked(e)
		e.sched.Enabled = false
		s.log.Debug("schedule disabled", logx.String("schedule", id))
		s.publish(EventDisarmed, map[string]string{"schedule_id": id, "reason": "disabled"})
		return nil
	}

	// Fresh arming epoch: a stale expiry from before the disable must
	// not piggyback on the re-enabled entry.
	s.disarmLocked(e)
	e.sched.Enabled = true
	if !s.running {
		return nil
	}
	return s.armLocked(e)
}

// List returns a point-in-time snapshot of the registered schedules,
// sorted by id. Callers get copies; mutating them cannot touch registry
// state.
func (s *Service) List() []Schedule {
	s.mu.Lock()
	out := make([]Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.sched.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ManualFire dispatches a fire event for the schedule immediately,
// without touching its timer or rescheduling. Intended for on-demand
// testing and triggering.
func (s *Service) ManualFire(ctx context.Context, id string) (FireEvent, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return FireEvent{}, fmt.Errorf("%w: %q", ErrUnknownSchedule, id)
	}
	sched := e.sched.clone()
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	return s.dispatch(ctx, sched, true), nil
}
