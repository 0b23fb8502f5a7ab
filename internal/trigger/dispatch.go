package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"triggerd/pkg/logx"
)

// OnFire subscribes a consumer under a human-readable name (used in
// failure logs). Consumers are invoked in registration order. The
// returned function unsubscribes; it is safe to call more than once.
func (s *Service) OnFire(name string, fn Consumer) (unsubscribe func()) {
	s.cmu.Lock()
	s.consumerSeq++
	id := s.consumerSeq
	s.consumers = append(s.consumers, consumerReg{id: id, name: name, fn: fn})
	s.cmu.Unlock()

	return func() {
		s.cmu.Lock()
		defer s.cmu.Unlock()
		for i, c := range s.consumers {
			if c.id == id {
				s.consumers = append(s.consumers[:i], s.consumers[i+1:]...)
				return
			}
		}
	}
}

// dispatch builds the immutable FireEvent and delivers it to every
// consumer sequentially. Consumer failures are isolated: they are
// logged (rate-limited) and counted, and never reach other consumers,
// the caller, or the re-arm path.
func (s *Service) dispatch(ctx context.Context, sched Schedule, manual bool) FireEvent {
	start := s.nowFn()
	ev := FireEvent{
		EventID:    uuid.NewString(),
		ScheduleID: sched.ID,
		TargetID:   sched.TargetID,
		FiredAt:    start,
		Manual:     manual,
		Params:     sched.clone().Params,
	}

	s.cmu.Lock()
	consumers := make([]consumerReg, len(s.consumers))
	copy(consumers, s.consumers)
	s.cmu.Unlock()

	errs := 0
	for _, c := range consumers {
		if err := s.invoke(ctx, c, ev); err != nil {
			errs++
			if s.failLog.Allow() {
				s.log.Warn("fire consumer failed",
					logx.String("schedule", sched.ID),
					logx.String("consumer", c.name),
					logx.String("event", ev.EventID),
					logx.Err(err),
				)
			}
			s.publish(EventConsumerError, map[string]string{
				"schedule_id": sched.ID,
				"consumer":    c.name,
				"event_id":    ev.EventID,
				"error":       err.Error(),
			})
		}
	}

	dur := time.Since(start)
	s.log.Debug("fire dispatched",
		logx.String("schedule", sched.ID),
		logx.String("event", ev.EventID),
		logx.Bool("manual", manual),
		logx.Int("consumers", len(consumers)),
		logx.Int("errors", errs),
		logx.Duration("dur", dur),
	)
	s.publish(EventDispatched, map[string]string{
		"schedule_id": sched.ID,
		"target_id":   sched.TargetID,
		"event_id":    ev.EventID,
	})

	s.recordFire(FireRecord{
		EventID:    ev.EventID,
		ScheduleID: sched.ID,
		Label:      sched.Label,
		Manual:     manual,
		FiredAt:    start,
		Duration:   dur,
		Consumers:  len(consumers),
		Errors:     errs,
	})
	return ev
}

// invoke runs one consumer inside its own failure boundary. A panic is
// converted to an error so it cannot take down the timer goroutine.
func (s *Service) invoke(ctx context.Context, c consumerReg, ev FireEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v", r)
			s.log.Error("panic in fire consumer",
				logx.String("schedule", ev.ScheduleID),
				logx.String("consumer", c.name),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 16)),
			)
		}
	}()
	return c.fn(ctx, ev)
}

func (s *Service) recordFire(rec FireRecord) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, rec)
	size := s.cfg.HistorySize
	// A zero/negative history_size would otherwise grow unbounded on a
	// long-running daemon, so default to a sensible cap.
	if size <= 0 {
		size = 200
	}
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}
