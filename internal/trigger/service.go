package trigger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"triggerd/internal/cronexpr"
	"triggerd/internal/eventbus"
	"triggerd/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	entries map[string]*entry
	genSeq  uint64

	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	fireWG    sync.WaitGroup

	cmu         sync.Mutex
	consumers   []consumerReg
	consumerSeq uint64

	hmu     sync.Mutex
	history []FireRecord

	failLog *rate.Limiter

	// Clock and next-delay computation are swappable for tests;
	// production always uses the real clock and cronexpr.
	nowFn  func() time.Time
	nextFn func(sched Schedule, now time.Time) (time.Duration, error)
}

// New creates the trigger service. bus may be nil to disable telemetry.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	perSec := cfg.FailureLogPerSec
	if perSec <= 0 {
		perSec = 5
	}
	s := &Service{
		log:     log,
		cfg:     cfg,
		bus:     bus,
		entries: map[string]*entry{},
		failLog: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
	s.nowFn = time.Now
	s.nextFn = func(sched Schedule, now time.Time) (time.Duration, error) {
		return cronexpr.NextDelay(sched.Expression, s.timezoneFor(sched), now)
	}
	return s
}

func (s *Service) timezoneFor(sched Schedule) string {
	if sched.Timezone != "" {
		return sched.Timezone
	}
	return s.cfg.DefaultTimezone
}

// Start arms every enabled schedule. Safe to call once per run; a second
// call while running is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	armed := 0
	for _, e := range s.entries {
		if !e.sched.Enabled {
			continue
		}
		if err := s.armLocked(e); err == nil {
			armed++
		}
	}
	s.log.Info("trigger engine started",
		logx.Int("schedules", len(s.entries)),
		logx.Int("armed", armed),
	)
}

// Stop cancels every outstanding timer and waits for in-flight fire
// handlers. After Stop returns with ctx still alive, no timer fires:
// cancellation stops timers that have not begun, and the generation
// re-check at expiry makes any already-started callback a no-op.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	for _, e := range s.entries {
		s.disarmLocked(e)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("trigger engine stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("trigger engine stop timed out waiting for in-flight fires")
	}
}

// armLocked computes the next delay and creates the entry's timer.
// Call with s.mu held and e.timer == nil. On failure the entry is left
// Idle and the error is returned (and logged).
func (s *Service) armLocked(e *entry) error {
	now := s.nowFn()
	d, err := s.nextFn(e.sched, now)
	if err != nil {
		e.nextAt = time.Time{}
		s.log.Warn("next fire computation failed; schedule left idle",
			logx.String("schedule", e.sched.ID),
			logx.String("expr", e.sched.Expression),
			logx.Err(err),
		)
		s.publish(EventComputeFailed, map[string]string{
			"schedule_id": e.sched.ID,
			"error":       err.Error(),
		})
		return err
	}

	id := e.sched.ID
	gen := e.gen
	e.nextAt = now.Add(d)
	e.timer = time.AfterFunc(d, func() { s.onExpiry(id, gen) })

	s.log.Debug("schedule armed",
		logx.String("schedule", id),
		logx.String("expr", e.sched.Expression),
		logx.Time("next", e.nextAt),
		logx.Duration("in", d),
	)
	s.publish(EventArmed, map[string]string{
		"schedule_id": id,
		"next":        e.nextAt.Format(time.RFC3339),
	})
	return nil
}

// disarmLocked stops the entry's timer (if any) and bumps its generation
// so a concurrently running expiry callback cannot act on it.
// Call with s.mu held.
func (s *Service) disarmLocked(e *entry) {
	if e.timer != nil {
		_ = e.timer.Stop()
		e.timer = nil
	}
	e.nextAt = time.Time{}
	s.genSeq++
	e.gen = s.genSeq
}

// onExpiry is the timer callback: dispatch, then re-arm from the
// post-fire clock. The generation check closes the race between a
// cancel/disable/re-register and a timer that already began firing.
func (s *Service) onExpiry(id string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen || !e.sched.Enabled || !s.running {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	e.nextAt = time.Time{}
	sched := e.sched.clone()
	ctx := s.runCtx
	s.fireWG.Add(1)
	s.mu.Unlock()

	func() {
		defer s.fireWG.Done()
		s.dispatch(ctx, sched, false)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[id]
	if !ok || e.gen != gen || !e.sched.Enabled || !s.running {
		return
	}
	// Re-arm failure leaves the schedule Idle; armLocked already
	// logged and published the failure.
	_ = s.armLocked(e)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.nowFn(), Data: data})
}
