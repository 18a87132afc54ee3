package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gather/internal/dispatch"
	"gather/internal/event"
	"gather/internal/recur"
	"gather/pkg/logx"
)

var ErrNotStarted = errors.New("scheduler not started")

// handle is one armed deferred action. The registry maps a key to exactly
// one handle; a fire callback only proceeds if its own handle is still the
// registered one, so cancel and replace always win over a late timer.
type handle struct {
	t Timer
}

// Engine schedules reminders and recurrence advances for events.
//
// It is an explicitly constructed instance: the dispatch boundary, the
// clock and the logger are injected, and no process-wide state exists.
// All methods are safe for concurrent use.
type Engine struct {
	log   logx.Logger
	clock Clock
	sink  dispatch.Dispatcher

	mu          sync.Mutex
	runCtx      context.Context
	reminders   map[string]*handle // reminder key -> armed timer
	recurrences map[string]*handle // event id -> armed timer
}

// New builds an engine. A nil clock falls back to the runtime clock.
func New(sink dispatch.Dispatcher, clock Clock, log logx.Logger) *Engine {
	if clock == nil {
		clock = NewClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:         log,
		clock:       clock,
		sink:        sink,
		reminders:   map[string]*handle{},
		recurrences: map[string]*handle{},
	}
}

// Start makes the engine accept schedule calls. ctx is handed to dispatch
// boundary calls made from timer callbacks.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx != nil {
		return
	}
	e.runCtx = ctx
	e.log.Info("event scheduler started")
}

// Stop disarms every outstanding timer and rejects further scheduling.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil {
		return
	}
	e.runCtx = nil
	for k, h := range e.reminders {
		h.t.Stop()
		delete(e.reminders, k)
	}
	for k, h := range e.recurrences {
		h.t.Stop()
		delete(e.recurrences, k)
	}
	e.log.Info("event scheduler stopped")
}

// ScheduleReminder arms a one-shot reminder for the event.
//
// It returns the registry key, or "" when nothing was armed: an unknown
// trigger type, or a due instant already in the past (late registration
// must not cause a notification storm). A malformed rule is an error.
// Re-scheduling an armed key replaces the old timer.
func (e *Engine) ScheduleReminder(ev event.Event, r event.ReminderRule) (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("schedule reminder for event %s: %w", ev.ID, err)
	}
	due, ok := reminderDueAt(ev.StartTime, r)
	if !ok {
		return "", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil {
		return "", ErrNotStarted
	}

	now := e.clock.Now()
	if !due.After(now) {
		e.log.Debug("reminder due instant already passed, skipping",
			logx.String("event_id", ev.ID), logx.Time("due", due))
		return "", nil
	}

	key := r.Key(ev.ID)
	if old, exists := e.reminders[key]; exists {
		old.t.Stop()
		delete(e.reminders, key)
	}

	h := &handle{}
	h.t = e.clock.AfterFunc(due.Sub(now), func() { e.fireReminder(h, key, ev) })
	e.reminders[key] = h

	e.log.Debug("reminder armed",
		logx.String("key", key), logx.Time("due", due), logx.Duration("in", due.Sub(now)))
	return key, nil
}

// CancelReminder disarms the given reminder. Unknown or already fired keys
// are a no-op.
func (e *Engine) CancelReminder(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.reminders[key]; ok {
		h.t.Stop()
		delete(e.reminders, key)
	}
}

// ScheduleRecurrence arms the next-occurrence timer for a recurring event.
// It returns the registry key (the event id), or "" when the event does not
// recur or its rule is exhausted.
func (e *Engine) ScheduleRecurrence(ev event.Event) (string, error) {
	if ev.Recurrence == nil || ev.Recurrence.Type == event.RecurrenceNone {
		return "", nil
	}
	if err := ev.Recurrence.Validate(); err != nil {
		return "", fmt.Errorf("schedule recurrence for event %s: %w", ev.ID, err)
	}

	next, ok := recur.Next(ev.StartTime, *ev.Recurrence)
	if !ok {
		e.log.Debug("recurrence exhausted", logx.String("event_id", ev.ID))
		return "", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil {
		return "", ErrNotStarted
	}

	key := ev.ID
	if old, exists := e.recurrences[key]; exists {
		old.t.Stop()
		delete(e.recurrences, key)
	}

	now := e.clock.Now()
	h := &handle{}
	h.t = e.clock.AfterFunc(next.Sub(now), func() { e.fireRecurrence(h, ev, next) })
	e.recurrences[key] = h

	e.log.Debug("recurrence armed",
		logx.String("event_id", ev.ID), logx.Time("next", next))
	return key, nil
}

// CancelRecurrence disarms the recurrence timer for the event. Unknown ids
// are a no-op.
func (e *Engine) CancelRecurrence(eventID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.recurrences[eventID]; ok {
		h.t.Stop()
		delete(e.recurrences, eventID)
	}
}

// ScheduleEvent arms every reminder rule on the event plus its recurrence
// in one call. Rule validation errors are joined; valid rules on the same
// event are still scheduled.
func (e *Engine) ScheduleEvent(ev event.Event) error {
	var errs []error
	for _, r := range ev.Reminders {
		if _, err := e.ScheduleReminder(ev, r); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := e.ScheduleRecurrence(ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CancelEvent tears down every outstanding action for the event. Safe to
// call on an event that was never scheduled.
func (e *Engine) CancelEvent(ev event.Event) {
	for _, r := range ev.Reminders {
		e.CancelReminder(r.Key(ev.ID))
	}
	e.CancelRecurrence(ev.ID)
}

func (e *Engine) fireReminder(h *handle, key string, ev event.Event) {
	e.mu.Lock()
	cur, ok := e.reminders[key]
	if !ok || cur != h {
		// Cancelled or replaced after the timer fired but before the
		// callback took the lock. The cancel wins.
		e.mu.Unlock()
		return
	}
	delete(e.reminders, key)
	ctx := e.runCtx
	e.mu.Unlock()

	defer e.recoverFromCallback("reminder", ev.ID)
	e.log.Info("reminder fired", logx.String("key", key), logx.String("event_id", ev.ID))
	e.sink.EmitReminder(ctx, ev)
}

func (e *Engine) fireRecurrence(h *handle, ev event.Event, occurrence time.Time) {
	e.mu.Lock()
	cur, ok := e.recurrences[ev.ID]
	if !ok || cur != h {
		e.mu.Unlock()
		return
	}
	delete(e.recurrences, ev.ID)
	ctx := e.runCtx
	e.mu.Unlock()

	defer e.recoverFromCallback("recurrence", ev.ID)

	derived := deriveOccurrence(ev, occurrence)
	created, err := e.sink.CreateDerivedEvent(ctx, derived)
	if err != nil {
		// The chain halts here; no automatic retry against a broken
		// backend. A caller may re-invoke ScheduleRecurrence to resume.
		e.log.Error("derived event creation failed, recurrence chain halted",
			logx.String("event_id", ev.ID), logx.Err(err))
		return
	}

	e.log.Info("recurring occurrence created",
		logx.String("parent_id", ev.ID), logx.String("event_id", created.ID),
		logx.Time("start", created.StartTime))

	if _, err := e.ScheduleRecurrence(created); err != nil {
		e.log.Error("failed to re-arm recurrence chain",
			logx.String("event_id", created.ID), logx.Err(err))
	}
}

func (e *Engine) recoverFromCallback(kind, eventID string) {
	if r := recover(); r != nil {
		e.log.Error("panic in timer callback",
			logx.String("kind", kind), logx.String("event_id", eventID), logx.Any("panic", r))
	}
}

// deriveOccurrence builds the next instance of a recurrence chain: fresh
// identity (assigned by the creator), preserved duration, cleared RSVPs,
// and the same recurrence rule so the chain continues.
func deriveOccurrence(template event.Event, start time.Time) event.Event {
	derived := template
	derived.ID = ""
	derived.StartTime = start
	derived.EndTime = start.Add(template.Duration())
	derived.Responses = nil
	derived.IsRecurring = true
	derived.ParentEventID = template.ID
	return derived
}

// reminderDueAt resolves the absolute due instant of a rule against the
// event's start time. ok is false for unknown trigger types: an event may
// legitimately carry reminder data this engine does not understand.
func reminderDueAt(start time.Time, r event.ReminderRule) (time.Time, bool) {
	switch r.TriggerType {
	case event.TriggerBeforeEvent:
		return applyOffset(start, r.TriggerUnit, -r.TriggerValue)
	case event.TriggerAfterEvent:
		return applyOffset(start, r.TriggerUnit, r.TriggerValue)
	case event.TriggerCustomDate:
		return *r.CustomDate, true
	default:
		return time.Time{}, false
	}
}

func applyOffset(start time.Time, unit event.ReminderUnit, value int) (time.Time, bool) {
	switch unit {
	case event.ReminderMinutes:
		return start.Add(time.Duration(value) * time.Minute), true
	case event.ReminderHours:
		return start.Add(time.Duration(value) * time.Hour), true
	case event.ReminderDays:
		// Calendar days, not 24h blocks, so offsets stay aligned across
		// DST transitions.
		return start.AddDate(0, 0, value), true
	default:
		return time.Time{}, false
	}
}
