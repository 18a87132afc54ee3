package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gather/internal/event"
	"gather/pkg/logx"
)

// fakeClock drives timers manually. Timers never fire from AfterFunc
// itself, only from Advance, mirroring the asynchronous firing of the real
// facility.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// Advance moves the clock and fires due timers in due order, outside the
// clock lock so callbacks may re-arm timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(c.now) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next != nil {
			next.fired = true
		}
		c.mu.Unlock()
		if next == nil {
			return
		}
		next.fn()
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingDispatch captures engine side effects and assigns identities to
// derived events like the real event API would.
type recordingDispatch struct {
	mu        sync.Mutex
	reminders []event.Event
	created   []event.Event
	failNext  error
	seq       int
}

func (d *recordingDispatch) EmitReminder(ctx context.Context, ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reminders = append(d.reminders, ev)
}

func (d *recordingDispatch) CreateDerivedEvent(ctx context.Context, ev event.Event) (event.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return event.Event{}, err
	}
	d.seq++
	ev.ID = "derived-" + string(rune('0'+d.seq))
	ev.CreatedAt = time.Now()
	d.created = append(d.created, ev)
	return ev, nil
}

func (d *recordingDispatch) reminderCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reminders)
}

func (d *recordingDispatch) createdEvents() []event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]event.Event(nil), d.created...)
}

func newTestEngine(t *testing.T, now time.Time) (*Engine, *fakeClock, *recordingDispatch) {
	t.Helper()
	clock := newFakeClock(now)
	sink := &recordingDispatch{}
	e := New(sink, clock, logx.Nop())
	e.Start(context.Background())
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e, clock, sink
}

var baseNow = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func testEvent(id string) event.Event {
	return event.Event{
		ID:        id,
		Title:     "Board game night",
		GroupID:   "group-1",
		StartTime: baseNow.Add(3 * time.Hour),
		EndTime:   baseNow.Add(5 * time.Hour),
	}
}

func hourBefore() event.ReminderRule {
	return event.ReminderRule{TriggerType: event.TriggerBeforeEvent, TriggerUnit: event.ReminderHours, TriggerValue: 1}
}

func TestReminderFires(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	key, err := e.ScheduleReminder(testEvent("ev1"), hourBefore())
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if key == "" {
		t.Fatal("expected a key for a future reminder")
	}

	clock.Advance(2 * time.Hour)
	if got := sink.reminderCount(); got != 1 {
		t.Fatalf("reminder fired %d times, want 1", got)
	}

	// Fired handles self-remove; nothing left armed.
	if snap := e.Snapshot(); len(snap.ReminderKeys) != 0 {
		t.Fatalf("registry not empty after fire: %v", snap.ReminderKeys)
	}
}

func TestPastDueReminderSkipped(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	ev.StartTime = baseNow.Add(-2 * time.Hour)
	key, err := e.ScheduleReminder(ev, hourBefore())
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if key != "" {
		t.Fatalf("past-due reminder returned key %q, want none", key)
	}
	if clock.armed() != 0 {
		t.Fatal("past-due reminder armed a timer")
	}

	clock.Advance(24 * time.Hour)
	if sink.reminderCount() != 0 {
		t.Fatal("past-due reminder fired")
	}
}

func TestUnknownTriggerTypeIsNoop(t *testing.T) {
	t.Parallel()
	e, clock, _ := newTestEngine(t, baseNow)

	key, err := e.ScheduleReminder(testEvent("ev1"), event.ReminderRule{TriggerType: "carrier_pigeon"})
	if err != nil {
		t.Fatalf("unknown trigger type should not error: %v", err)
	}
	if key != "" || clock.armed() != 0 {
		t.Fatal("unknown trigger type must not schedule anything")
	}
}

func TestMalformedReminderFailsFast(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, baseNow)

	bad := event.ReminderRule{TriggerType: event.TriggerBeforeEvent, TriggerUnit: event.ReminderHours, TriggerValue: -5}
	if _, err := e.ScheduleReminder(testEvent("ev1"), bad); err == nil {
		t.Fatal("expected error for negative trigger value")
	}
}

func TestIdempotentRescheduling(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	k1, err := e.ScheduleReminder(ev, hourBefore())
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	k2, err := e.ScheduleReminder(ev, hourBefore())
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("keys differ: %q vs %q", k1, k2)
	}
	if clock.armed() != 1 {
		t.Fatalf("%d timers armed, want exactly 1", clock.armed())
	}

	clock.Advance(3 * time.Hour)
	if got := sink.reminderCount(); got != 1 {
		t.Fatalf("reminder fired %d times, want 1", got)
	}
}

func TestCancelBeforeFireWins(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	key, err := e.ScheduleReminder(testEvent("ev1"), hourBefore())
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	e.CancelReminder(key)

	clock.Advance(24 * time.Hour)
	if sink.reminderCount() != 0 {
		t.Fatal("cancelled reminder still fired")
	}

	// Cancelling again, or cancelling garbage, is a no-op.
	e.CancelReminder(key)
	e.CancelReminder("no-such-key")
}

func TestCancelWinsAgainstLateCallback(t *testing.T) {
	t.Parallel()
	// Simulate the race where the timer has gone off but its callback has
	// not yet taken the registry lock: fire the callback manually after a
	// cancel and assert the side effect is suppressed.
	clock := newFakeClock(baseNow)
	sink := &recordingDispatch{}
	e := New(sink, clock, logx.Nop())
	e.Start(context.Background())
	defer e.Stop(context.Background())

	key, err := e.ScheduleReminder(testEvent("ev1"), hourBefore())
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}

	clock.mu.Lock()
	fn := clock.timers[0].fn
	clock.mu.Unlock()

	e.CancelReminder(key)
	fn() // late callback loses against the registry

	if sink.reminderCount() != 0 {
		t.Fatal("late callback fired after cancel")
	}
}

func TestScheduleRecurrenceNone(t *testing.T) {
	t.Parallel()
	e, clock, _ := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	key, err := e.ScheduleRecurrence(ev)
	if err != nil || key != "" {
		t.Fatalf("no recurrence: key=%q err=%v", key, err)
	}

	ev.Recurrence = &event.RecurrenceRule{Type: event.RecurrenceNone}
	key, err = e.ScheduleRecurrence(ev)
	if err != nil || key != "" {
		t.Fatalf("type none: key=%q err=%v", key, err)
	}
	if clock.armed() != 0 {
		t.Fatal("nothing should be armed")
	}
}

func TestWeeklyChainEndToEnd(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	ev.Recurrence = &event.RecurrenceRule{Type: event.RecurrenceWeekly}
	ev.Reminders = []event.ReminderRule{hourBefore()}
	ev.Responses = []event.Response{{UserID: "u1", Status: "yes"}}

	if err := e.ScheduleEvent(ev); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}

	// Reminder at start-1h, recurrence at start+7d. Advance past the first
	// occurrence only.
	clock.Advance(8 * 24 * time.Hour)

	if got := sink.reminderCount(); got != 1 {
		t.Fatalf("reminder fired %d times, want 1", got)
	}
	created := sink.createdEvents()
	if len(created) != 1 {
		t.Fatalf("%d derived events created, want exactly 1", len(created))
	}

	d := created[0]
	if want := ev.StartTime.AddDate(0, 0, 7); !d.StartTime.Equal(want) {
		t.Fatalf("derived start = %v, want %v", d.StartTime, want)
	}
	if d.Duration() != ev.Duration() {
		t.Fatalf("derived duration = %v, want %v", d.Duration(), ev.Duration())
	}
	if d.ParentEventID != ev.ID {
		t.Fatalf("parent id = %q, want %q", d.ParentEventID, ev.ID)
	}
	if len(d.Responses) != 0 {
		t.Fatal("derived event must start with no responses")
	}
	if !d.IsRecurring {
		t.Fatal("derived event must be marked recurring")
	}

	// The chain re-armed itself from the created event.
	snap := e.Snapshot()
	if len(snap.RecurrenceKeys) != 1 || snap.RecurrenceKeys[0] != d.ID {
		t.Fatalf("chain not re-armed on created event: %v", snap.RecurrenceKeys)
	}
}

func TestRecurrenceCreationFailureHaltsChain(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	ev.Recurrence = &event.RecurrenceRule{Type: event.RecurrenceDaily}
	sink.failNext = errors.New("backend down")

	if _, err := e.ScheduleRecurrence(ev); err != nil {
		t.Fatalf("ScheduleRecurrence: %v", err)
	}

	clock.Advance(10 * 24 * time.Hour)

	if len(sink.createdEvents()) != 0 {
		t.Fatal("no event should be created after a failure")
	}
	if snap := e.Snapshot(); len(snap.RecurrenceKeys) != 0 {
		t.Fatalf("chain should be halted, still armed: %v", snap.RecurrenceKeys)
	}

	// Explicit re-invocation resumes the chain.
	if _, err := e.ScheduleRecurrence(ev); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clock.Advance(24 * time.Hour)
	if len(sink.createdEvents()) == 0 {
		t.Fatal("resumed chain produced no occurrence")
	}
}

func TestCustomRecurrenceExhaustionSchedulesNothing(t *testing.T) {
	t.Parallel()
	e, clock, _ := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	end := ev.StartTime.Add(24 * time.Hour)
	ev.Recurrence = &event.RecurrenceRule{
		Type: event.RecurrenceCustom, Interval: 2, Unit: event.UnitWeeks, EndDate: &end,
	}

	key, err := e.ScheduleRecurrence(ev)
	if err != nil {
		t.Fatalf("ScheduleRecurrence: %v", err)
	}
	if key != "" || clock.armed() != 0 {
		t.Fatal("exhausted rule must not arm a timer")
	}
}

func TestCancelEventNeverScheduled(t *testing.T) {
	t.Parallel()
	e, _, _ := newTestEngine(t, baseNow)

	ev := testEvent("ghost")
	ev.Reminders = []event.ReminderRule{hourBefore()}
	ev.Recurrence = &event.RecurrenceRule{Type: event.RecurrenceWeekly}
	e.CancelEvent(ev) // must not panic or error
}

func TestCancelEventTearsDownEverything(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	ev := testEvent("ev1")
	ev.Recurrence = &event.RecurrenceRule{Type: event.RecurrenceDaily}
	ev.Reminders = []event.ReminderRule{
		hourBefore(),
		{TriggerType: event.TriggerAfterEvent, TriggerUnit: event.ReminderMinutes, TriggerValue: 30},
	}
	if err := e.ScheduleEvent(ev); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}
	if snap := e.Snapshot(); len(snap.ReminderKeys) != 2 || len(snap.RecurrenceKeys) != 1 {
		t.Fatalf("unexpected snapshot before cancel: %+v", snap)
	}

	e.CancelEvent(ev)

	clock.Advance(30 * 24 * time.Hour)
	if sink.reminderCount() != 0 || len(sink.createdEvents()) != 0 {
		t.Fatal("cancelled event still produced side effects")
	}
}

func TestScheduleBeforeStart(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(baseNow)
	e := New(&recordingDispatch{}, clock, logx.Nop())

	if _, err := e.ScheduleReminder(testEvent("ev1"), hourBefore()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestStopDisarmsEverything(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(baseNow)
	sink := &recordingDispatch{}
	e := New(sink, clock, logx.Nop())
	e.Start(context.Background())

	ev := testEvent("ev1")
	ev.Recurrence = &event.RecurrenceRule{Type: event.RecurrenceDaily}
	ev.Reminders = []event.ReminderRule{hourBefore()}
	if err := e.ScheduleEvent(ev); err != nil {
		t.Fatalf("ScheduleEvent: %v", err)
	}

	e.Stop(context.Background())

	clock.Advance(48 * time.Hour)
	if sink.reminderCount() != 0 || len(sink.createdEvents()) != 0 {
		t.Fatal("stopped engine still produced side effects")
	}
}

func TestCustomDateReminder(t *testing.T) {
	t.Parallel()
	e, clock, sink := newTestEngine(t, baseNow)

	at := baseNow.Add(45 * time.Minute)
	rule := event.ReminderRule{TriggerType: event.TriggerCustomDate, CustomDate: &at}
	key, err := e.ScheduleReminder(testEvent("ev1"), rule)
	if err != nil || key == "" {
		t.Fatalf("ScheduleReminder: key=%q err=%v", key, err)
	}

	clock.Advance(44 * time.Minute)
	if sink.reminderCount() != 0 {
		t.Fatal("fired early")
	}
	clock.Advance(2 * time.Minute)
	if sink.reminderCount() != 1 {
		t.Fatal("custom date reminder did not fire")
	}
}
