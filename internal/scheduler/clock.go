package scheduler

import "time"

// Clock abstracts "now" and one-shot deferred execution so tests can drive
// the engine without real sleeps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a single armed deferred action. Stop is best-effort against the
// underlying facility; the engine's registries provide the hard guarantee
// that a cancelled action never runs its side effect.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewClock returns a Clock backed by the runtime timer facility.
func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
