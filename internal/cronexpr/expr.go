package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsatisfiable reports that no admissible instant exists within the
// search horizon. Callers must treat this as a hard failure, not as
// "fires immediately".
var ErrUnsatisfiable = errors.New("no admissible instant within search horizon")

// searchHorizonMinutes bounds the forward scan so expressions that can
// never match terminate deterministically.
const searchHorizonMinutes = 7 * 24 * 60

// Expression is a parsed 5-field cron expression. Day-of-month and month
// are retained raw and not evaluated (see package doc).
type Expression struct {
	Minute Field
	Hour   Field
	Dow    Field

	raw string
}

// Parse parses a 5-field cron expression.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields in %q, got %d", expr, len(fields))
	}

	minute, err := parseField(fields[0], fieldOpts{min: 0, max: 59, allowStep: true})
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseField(fields[1], fieldOpts{min: 0, max: 23, allowStep: true})
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	// 0=Sunday .. 6=Saturday, matching time.Weekday.
	dow, err := parseField(fields[4], fieldOpts{min: 0, max: 6, allowRange: true})
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}

	return &Expression{
		Minute: minute,
		Hour:   hour,
		Dow:    dow,
		raw:    expr,
	}, nil
}

func (e *Expression) String() string { return e.raw }

// Next returns the first instant strictly after now that satisfies the
// expression, evaluated against wall-clock time in loc. The scan starts
// at now truncated to the minute and advances one minute at a time, so
// the result is minute-aligned and a schedule that just fired is never
// selected again for the same minute.
func (e *Expression) Next(now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	base := local.Add(-(time.Duration(local.Second())*time.Second + time.Duration(local.Nanosecond())))

	for i := 0; i <= searchHorizonMinutes; i++ {
		cand := base.Add(time.Duration(i) * time.Minute)
		if !cand.After(now) {
			continue
		}
		lt := cand.In(loc)
		if !e.Minute.Matches(lt.Minute()) {
			continue
		}
		if !e.Hour.Matches(lt.Hour()) {
			continue
		}
		if !e.Dow.Matches(int(lt.Weekday())) {
			continue
		}
		return cand, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnsatisfiable, e.raw)
}

// NextDelay parses expr, resolves timezone (empty means UTC), and returns
// how long after now the schedule should fire. The delay is strictly
// positive; every failure is an explicit error.
func NextDelay(expr, timezone string, now time.Time) (time.Duration, error) {
	e, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	loc, err := LoadZone(timezone)
	if err != nil {
		return 0, err
	}
	next, err := e.Next(now, loc)
	if err != nil {
		return 0, err
	}
	return next.Sub(now), nil
}

// LoadZone resolves an IANA timezone name, defaulting to UTC when empty.
func LoadZone(timezone string) (*time.Location, error) {
	tz := strings.TrimSpace(timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
