// Package scheduler owns the mapping from events to outstanding deferred
// actions: one-shot reminder timers and recurrence-advance timers.
//
// Every armed action lives in a keyed registry. Scheduling the same key
// again replaces the old timer (last-write-wins), cancellation is an
// idempotent no-op on unknown keys, and a cancel that wins the registry
// lock before the timer callback does always prevents the side effect.
package scheduler
