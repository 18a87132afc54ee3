// Package recur computes the next occurrence of a repeating event.
//
// All functions are pure: the same inputs always produce the same output,
// which is what makes re-scheduling idempotent and the engine testable
// against a fake clock.
package recur

import (
	"time"

	"gather/internal/event"
)

// Next returns the occurrence that follows last under the given rule.
// ok is false when the rule produces no further occurrence: type none,
// an unknown type or unit, or a custom rule whose end date is exhausted.
func Next(last time.Time, r event.RecurrenceRule) (next time.Time, ok bool) {
	switch r.Type {
	case event.RecurrenceDaily:
		return last.AddDate(0, 0, 1), true
	case event.RecurrenceWeekly:
		return last.AddDate(0, 0, 7), true
	case event.RecurrenceBiweekly:
		return last.AddDate(0, 0, 14), true
	case event.RecurrenceMonthly:
		return AddMonthsClamped(last, 1), true
	case event.RecurrenceCustom:
		return nextCustom(last, r)
	default:
		return time.Time{}, false
	}
}

func nextCustom(last time.Time, r event.RecurrenceRule) (time.Time, bool) {
	var next time.Time
	switch r.Unit {
	case event.UnitDays:
		next = last.AddDate(0, 0, r.Interval)
	case event.UnitWeeks:
		next = last.AddDate(0, 0, 7*r.Interval)
	case event.UnitMonths:
		next = AddMonthsClamped(last, r.Interval)
	default:
		return time.Time{}, false
	}

	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, false
	}

	if len(r.DaysOfWeek) > 0 {
		// Step by single days until the weekday matches, never crossing
		// the end date. Seven steps cover the whole week.
		matched := false
		for i := 0; i < 7; i++ {
			if weekdayIn(r.DaysOfWeek, next.Weekday()) {
				matched = true
				break
			}
			next = next.AddDate(0, 0, 1)
			if r.EndDate != nil && next.After(*r.EndDate) {
				return time.Time{}, false
			}
		}
		if !matched {
			return time.Time{}, false
		}
	}

	return next, true
}

// AddMonthsClamped advances t by the given number of calendar months,
// clamping the day-of-month to the last valid day of the target month
// (Jan 31 + 1 month = Feb 29 in a leap year, Feb 28 otherwise). This is
// deliberate: time.AddDate would normalize Jan 31 + 1 month into March.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	mi := int(m) - 1 + months
	y += mi / 12
	mi %= 12
	if mi < 0 {
		mi += 12
		y--
	}
	target := time.Month(mi + 1)
	if dim := daysInMonth(y, target); d > dim {
		d = dim
	}
	h, min, sec := t.Clock()
	return time.Date(y, target, d, h, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, m time.Month) int {
	// Day zero of the following month is the last day of m.
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func weekdayIn(days []int, wd time.Weekday) bool {
	for _, d := range days {
		if d == int(wd) {
			return true
		}
	}
	return false
}
