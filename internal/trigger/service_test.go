package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"triggerd/internal/eventbus"
	"triggerd/pkg/logx"
)

// newTestService returns a service whose next-fire computation is
// replaced by fn, so tests drive millisecond delays instead of waiting
// for real cron minutes.
func newTestService(fn func(Schedule, time.Time) (time.Duration, error)) *Service {
	s := New(Config{}, logx.Nop(), nil)
	if fn != nil {
		s.nextFn = fn
	}
	return s
}

func constantDelay(d time.Duration) func(Schedule, time.Time) (time.Duration, error) {
	return func(Schedule, time.Time) (time.Duration, error) { return d, nil }
}

// fireOnceThen arms the first n computations with short, then parks the
// schedule far in the future so tests observe an exact fire count.
func fireOnceThen(n int32, short time.Duration) func(Schedule, time.Time) (time.Duration, error) {
	var calls atomic.Int32
	return func(Schedule, time.Time) (time.Duration, error) {
		if calls.Add(1) <= n {
			return short, nil
		}
		return 10 * time.Hour, nil
	}
}

func waitCount(t *testing.T, c *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d fires (got %d)", want, c.Load())
}

func testSchedule(id string) Schedule {
	return Schedule{
		ID:         id,
		Expression: "* * * * *",
		Label:      "test " + id,
		TargetID:   "target-" + id,
		Params:     map[string]string{"k": "v"},
		Enabled:    true,
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(nil)

	if err := s.Register(Schedule{Expression: "* * * * *"}); err == nil {
		t.Error("empty id accepted")
	}
	if err := s.Register(Schedule{ID: "a", Expression: "bad"}); err == nil {
		t.Error("malformed expression accepted")
	}
	if err := s.Register(Schedule{ID: "a", Expression: "* * * * *", Timezone: "Not/AZone"}); err == nil {
		t.Error("invalid timezone accepted")
	}
}

func TestRegisterTwiceArmsExactlyOneTimer(t *testing.T) {
	t.Parallel()
	// Two short computations cover both Register calls; anything after
	// is parked. A leaked duplicate timer would produce a second fire.
	s := newTestService(fireOnceThen(2, 20*time.Millisecond))
	var fires atomic.Int64
	s.OnFire("counter", func(ctx context.Context, ev FireEvent) error {
		fires.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop(context.Background())

	sched := testSchedule("dup")
	if err := s.Register(sched); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if err := s.Register(sched); err != nil {
		t.Fatalf("second Register error: %v", err)
	}

	waitCount(t, &fires, 1)
	time.Sleep(100 * time.Millisecond)
	if got := fires.Load(); got != 1 {
		t.Fatalf("fires = %d, want exactly 1", got)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(snap.Schedules))
	}
}

func TestFiresAreSequentialPerSchedule(t *testing.T) {
	t.Parallel()
	s := newTestService(constantDelay(10 * time.Millisecond))
	var fires, inFlight, maxInFlight atomic.Int64
	s.OnFire("slow", func(ctx context.Context, ev FireEvent) error {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		fires.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Register(testSchedule("seq")); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	waitCount(t, &fires, 3)
	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent fires for one schedule = %d, want 1", got)
	}
}

func TestSetEnabledFalseCancelsPendingFire(t *testing.T) {
	t.Parallel()
	s := newTestService(constantDelay(30 * time.Millisecond))
	var fires atomic.Int64
	s.OnFire("counter", func(ctx context.Context, ev FireEvent) error {
		fires.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Register(testSchedule("toggle")); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := s.SetEnabled("toggle", false); err != nil {
		t.Fatalf("SetEnabled error: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Fatalf("fires = %d after disable, want 0", got)
	}
	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Armed {
		t.Fatalf("disabled schedule should remain registered and idle: %+v", snap.Schedules)
	}
}

func TestUnregisterCancelsPendingFire(t *testing.T) {
	t.Parallel()
	s := newTestService(constantDelay(30 * time.Millisecond))
	var fires atomic.Int64
	s.OnFire("counter", func(ctx context.Context, ev FireEvent) error {
		fires.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Register(testSchedule("gone")); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := s.Unregister("gone"); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}

	time.Sleep(120 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Fatalf("fires = %d after unregister, want 0", got)
	}
	if err := s.Unregister("gone"); !errors.Is(err, ErrUnknownSchedule) {
		t.Fatalf("second Unregister err = %v, want ErrUnknownSchedule", err)
	}
}

func TestFailingConsumerDoesNotStarveOthers(t *testing.T) {
	t.Parallel()
	s := newTestService(constantDelay(15 * time.Millisecond))
	var bad, good atomic.Int64
	s.OnFire("always-fails", func(ctx context.Context, ev FireEvent) error {
		n := bad.Add(1)
		if n%2 == 0 {
			panic("boom")
		}
		return errors.New("permanent failure")
	})
	s.OnFire("well-behaved", func(ctx context.Context, ev FireEvent) error {
		good.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop(context.Background())
	if err := s.Register(testSchedule("iso")); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// The failing consumer runs first yet the well-behaved one still
	// receives every fire, and fires keep occurring.
	waitCount(t, &good, 3)
	if bad.Load() < good.Load() {
		t.Fatalf("failing consumer saw %d fires, well-behaved saw %d", bad.Load(), good.Load())
	}
}

func TestStopPreventsFurtherFires(t *testing.T) {
	t.Parallel()
	s := newTestService(constantDelay(30 * time.Millisecond))
	var fires atomic.Int64
	s.OnFire("counter", func(ctx context.Context, ev FireEvent) error {
		fires.Add(1)
		return nil
	})

	s.Start(context.Background())
	if err := s.Register(testSchedule("halt")); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	s.Stop(context.Background())

	time.Sleep(120 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Fatalf("fires = %d after Stop, want 0", got)
	}
}

func TestRegisterWhileStoppedArmsOnStart(t *testing.T) {
	t.Parallel()
	s := newTestService(fireOnceThen(1, 15*time.Millisecond))
	var fires atomic.Int64
	s.OnFire("counter", func(ctx context.Context, ev FireEvent) error {
		fires.Add(1)
		return nil
	})

	if err := s.Register(testSchedule("early")); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := fires.Load(); got != 0 {
		t.Fatalf("fires = %d before Start, want 0", got)
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())
	waitCount(t, &fires, 1)
}

func TestComputeFailureLeavesScheduleIdle(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	s.nextFn = func(Schedule, time.Time) (time.Duration, error) {
		return 0, errors.New("no admissible instant")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Register(testSchedule("broken")); err == nil {
		t.Fatal("Register succeeded despite compute failure")
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Armed {
		t.Fatalf("schedule should be registered and idle: %+v", snap.Schedules)
	}

	select {
	case e := <-events:
		if e.Type != EventComputeFailed {
			t.Fatalf("event = %q, want %q", e.Type, EventComputeFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("no compute_failed event published")
	}
}
