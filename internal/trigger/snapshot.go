package trigger

import "sort"

// Snapshot returns a point-in-time copy of the service state for
// inspection and debug logging. The caller owns the result; nothing in
// it aliases live registry state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:         s.running,
		DefaultTimezone: s.cfg.DefaultTimezone,
		Schedules:       make([]ScheduleInfo, 0, len(s.entries)),
	}
	for _, e := range s.entries {
		snap.Schedules = append(snap.Schedules, ScheduleInfo{
			ID:         e.sched.ID,
			Expression: e.sched.Expression,
			Label:      e.sched.Label,
			TargetID:   e.sched.TargetID,
			Timezone:   e.sched.Timezone,
			Enabled:    e.sched.Enabled,
			Armed:      e.timer != nil,
			NextAt:     e.nextAt,
		})
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = make([]FireRecord, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()

	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].ID < snap.Schedules[j].ID })
	return snap
}
