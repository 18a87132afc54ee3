package event

import (
	"testing"
	"time"
)

func TestReminderKeyDeterministic(t *testing.T) {
	t.Parallel()
	r := ReminderRule{TriggerType: TriggerBeforeEvent, TriggerUnit: ReminderHours, TriggerValue: 1}
	if r.Key("ev1") != r.Key("ev1") {
		t.Fatal("same rule produced different keys")
	}
	if r.Key("ev1") == r.Key("ev2") {
		t.Fatal("different events produced the same key")
	}

	other := ReminderRule{TriggerType: TriggerBeforeEvent, TriggerUnit: ReminderMinutes, TriggerValue: 60}
	if r.Key("ev1") == other.Key("ev1") {
		t.Fatal("distinct rules must not collide")
	}
}

func TestReminderKeyCustomDate(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := ReminderRule{TriggerType: TriggerCustomDate, CustomDate: &at}
	b := ReminderRule{TriggerType: TriggerCustomDate, CustomDate: &at}
	if a.Key("ev") != b.Key("ev") {
		t.Fatal("identical custom dates must share a key")
	}
	later := at.Add(time.Minute)
	c := ReminderRule{TriggerType: TriggerCustomDate, CustomDate: &later}
	if a.Key("ev") == c.Key("ev") {
		t.Fatal("different custom dates must not collide")
	}
}

func TestReminderValidate(t *testing.T) {
	t.Parallel()
	if err := (ReminderRule{TriggerType: TriggerBeforeEvent, TriggerUnit: ReminderHours, TriggerValue: -1}).Validate(); err == nil {
		t.Fatal("expected error for negative trigger value")
	}
	if err := (ReminderRule{TriggerType: TriggerCustomDate}).Validate(); err == nil {
		t.Fatal("expected error for custom_date without a date")
	}
	if err := (ReminderRule{TriggerType: TriggerAfterEvent, TriggerUnit: ReminderMinutes, TriggerValue: 0}).Validate(); err != nil {
		t.Fatalf("zero offset should be valid: %v", err)
	}
}

func TestRecurrenceValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		rule    RecurrenceRule
		wantErr bool
	}{
		{name: "none", rule: RecurrenceRule{Type: RecurrenceNone}},
		{name: "weekly ignores interval", rule: RecurrenceRule{Type: RecurrenceWeekly}},
		{name: "custom ok", rule: RecurrenceRule{Type: RecurrenceCustom, Interval: 2, Unit: UnitWeeks}},
		{name: "custom zero interval", rule: RecurrenceRule{Type: RecurrenceCustom, Unit: UnitDays}, wantErr: true},
		{name: "weekday out of range", rule: RecurrenceRule{Type: RecurrenceCustom, Interval: 1, Unit: UnitDays, DaysOfWeek: []int{7}}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestEventDuration(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	ev := Event{StartTime: start, EndTime: start.Add(90 * time.Minute)}
	if ev.Duration() != 90*time.Minute {
		t.Fatalf("Duration = %v", ev.Duration())
	}
	inverted := Event{StartTime: start, EndTime: start.Add(-time.Hour)}
	if inverted.Duration() != 0 {
		t.Fatalf("inverted span should clamp to zero, got %v", inverted.Duration())
	}
}
