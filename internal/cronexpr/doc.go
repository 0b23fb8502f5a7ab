// Package cronexpr parses the restricted 5-field cron dialect used by
// triggerd schedules and computes next-fire instants.
//
// # Supported grammar
//
// A schedule expression has 5 whitespace-separated fields:
//
//	minute hour day-of-month month day-of-week
//
// Only minute, hour, and day-of-week are evaluated:
//   - minute, hour: "*", exact values, comma lists ("5,20,35"), steps ("*/15")
//   - day-of-week:  "*", exact values, comma lists, ranges ("1-5"); 0=Sunday
//
// Day-of-month and month are accepted for crontab familiarity but not
// interpreted; full POSIX syntax (names, L/W/#, step-on-range) is out of
// scope. Malformed fields are hard parse errors, never "always matches".
//
// # Next-fire search
//
// Next() scans forward one minute at a time in the schedule's timezone,
// bounded to a 7-day horizon so expressions that can never match (for
// example an hour list combined with an unreachable weekday) terminate
// with ErrUnsatisfiable instead of looping forever.
package cronexpr
