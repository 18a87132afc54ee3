package event

import (
	"fmt"
	"strconv"
	"time"
)

// RecurrenceType enumerates the supported repetition policies.
type RecurrenceType string

const (
	RecurrenceNone     RecurrenceType = "none"
	RecurrenceDaily    RecurrenceType = "daily"
	RecurrenceWeekly   RecurrenceType = "weekly"
	RecurrenceBiweekly RecurrenceType = "biweekly"
	RecurrenceMonthly  RecurrenceType = "monthly"
	RecurrenceCustom   RecurrenceType = "custom"
)

// IntervalUnit is the step unit of a custom recurrence rule.
type IntervalUnit string

const (
	UnitDays   IntervalUnit = "days"
	UnitWeeks  IntervalUnit = "weeks"
	UnitMonths IntervalUnit = "months"
)

// RecurrenceRule describes how an event repeats.
//
// For Type == RecurrenceCustom, Interval and Unit define the base step;
// DaysOfWeek (weekday indices 0-6, Sunday=0) optionally restricts which
// weekday an occurrence may land on, and EndDate is an inclusive upper
// bound after which the rule is exhausted.
type RecurrenceRule struct {
	Type       RecurrenceType `json:"type"`
	Interval   int            `json:"interval,omitempty"`
	Unit       IntervalUnit   `json:"unit,omitempty"`
	DaysOfWeek []int          `json:"daysOfWeek,omitempty"`
	EndDate    *time.Time     `json:"endDate,omitempty"`
}

// Validate rejects rules that indicate a caller bug. A rule that simply
// produces no occurrence (type none, exhausted end date) is not an error.
func (r RecurrenceRule) Validate() error {
	if r.Type != RecurrenceCustom {
		return nil
	}
	if r.Interval < 1 {
		return fmt.Errorf("recurrence: custom interval must be >= 1, got %d", r.Interval)
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("recurrence: weekday index %d out of range 0..6", d)
		}
	}
	return nil
}

// ReminderTrigger identifies how a reminder's due instant is derived.
type ReminderTrigger string

const (
	TriggerBeforeEvent ReminderTrigger = "before_event"
	TriggerAfterEvent  ReminderTrigger = "after_event"
	TriggerCustomDate  ReminderTrigger = "custom_date"
)

// ReminderUnit is the offset unit of a before/after reminder.
type ReminderUnit string

const (
	ReminderMinutes ReminderUnit = "minutes"
	ReminderHours   ReminderUnit = "hours"
	ReminderDays    ReminderUnit = "days"
)

// ReminderRule ties a notification to an event's start time by a signed
// offset, or to an absolute instant when TriggerType is custom_date.
// A reminder is always computed against the event's current StartTime;
// the engine does not track start-time edits.
type ReminderRule struct {
	TriggerType  ReminderTrigger `json:"triggerType"`
	TriggerUnit  ReminderUnit    `json:"triggerUnit,omitempty"`
	TriggerValue int             `json:"triggerValue,omitempty"`
	CustomDate   *time.Time      `json:"customDate,omitempty"`
}

// Validate rejects reminder rules that indicate a caller bug.
func (r ReminderRule) Validate() error {
	if r.TriggerValue < 0 {
		return fmt.Errorf("reminder: trigger value must be >= 0, got %d", r.TriggerValue)
	}
	if r.TriggerType == TriggerCustomDate && (r.CustomDate == nil || r.CustomDate.IsZero()) {
		return fmt.Errorf("reminder: custom_date trigger requires a date")
	}
	return nil
}

// Key returns the deterministic registry identity for this rule attached to
// the given event. Scheduling the same event+rule twice yields the same key,
// which makes repeated scheduling an idempotent replacement.
func (r ReminderRule) Key(eventID string) string {
	if r.TriggerType == TriggerCustomDate && r.CustomDate != nil {
		return eventID + "-" + string(r.TriggerType) + "-" + strconv.FormatInt(r.CustomDate.UnixMilli(), 10)
	}
	return eventID + "-" + string(r.TriggerType) + "-" + string(r.TriggerUnit) + "-" + strconv.Itoa(r.TriggerValue)
}
