// Package trigger implements triggerd's schedule registry, timer loop,
// and fire dispatcher.
//
// # Overview
//
// The service holds a set of cron-style schedules keyed by a stable id.
// Each enabled schedule owns exactly one outstanding timer counting down
// to its next computed fire instant (Armed); disabled or unregistered
// schedules own none (Idle). On expiry the service dispatches a FireEvent
// to every registered consumer in registration order, then recomputes the
// next delay from the current clock and re-arms. Computing from "now"
// rather than from the previous target keeps the loop drift-resistant
// under slow consumers.
//
// # Registration
//
// Register upserts by id: a prior timer for the same id is cancelled
// before the replacement is stored, so there are never two timers for one
// schedule. Expression and timezone are validated eagerly; a schedule
// whose next fire cannot be computed stays registered but Idle, and the
// failure is returned to the caller.
//
// # Consumers
//
// Consumers subscribe via OnFire and are invoked sequentially per fire,
// each inside its own failure boundary: an error or panic is logged with
// the schedule and consumer identity and does not reach other consumers,
// the re-arm path, or other schedules. Fires for different schedules are
// independent and may overlap; fires for the same schedule never do.
//
// # Lifecycle
//
// The service can be started and stopped at runtime. Registering while
// stopped is supported: definitions are stored and armed on the next
// Start. Stop cancels every outstanding timer and waits for in-flight
// fire handlers, so after Stop returns no timer fires.
package trigger
