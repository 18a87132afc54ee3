package scheduler

import "sort"

// Snapshot is a point-in-time view of the engine's registries, used for
// status reporting and maintenance logging.
type Snapshot struct {
	Running        bool
	ReminderKeys   []string
	RecurrenceKeys []string
}

// Snapshot returns the currently armed keys, sorted for stable output.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{Running: e.runCtx != nil}
	for k := range e.reminders {
		s.ReminderKeys = append(s.ReminderKeys, k)
	}
	for k := range e.recurrences {
		s.RecurrenceKeys = append(s.RecurrenceKeys, k)
	}
	sort.Strings(s.ReminderKeys)
	sort.Strings(s.RecurrenceKeys)
	return s
}
