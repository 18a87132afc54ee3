// Package event holds the domain model shared by the scheduling engine,
// the dispatch boundary and the persistence layer: group events, their
// recurrence and reminder rules, and the notifications produced when a
// reminder fires.
package event

import "time"

// Event is one group event. An event produced by a recurrence rule carries
// ParentEventID pointing at the template it was derived from; the derived
// instance is an independent entity once created.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	GroupID     string    `json:"groupId"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`

	Recurrence *RecurrenceRule `json:"recurrence,omitempty"`
	Reminders  []ReminderRule  `json:"reminders,omitempty"`

	// Responses are RSVP entries. A derived occurrence always starts with
	// an empty response list.
	Responses []Response `json:"responses,omitempty"`

	IsRecurring   bool      `json:"isRecurring,omitempty"`
	ParentEventID string    `json:"parentEventId,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// Response is a single RSVP on an event.
type Response struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"` // "yes", "no", "maybe"
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Duration returns the event's span. Events with EndTime before StartTime
// report a zero duration.
func (e Event) Duration() time.Duration {
	if e.EndTime.Before(e.StartTime) {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// Recurring reports whether the event has an active recurrence rule.
func (e Event) Recurring() bool {
	return e.Recurrence != nil && e.Recurrence.Type != RecurrenceNone
}

// Notification is the user-visible payload produced when a reminder fires.
// It is what the dispatch boundary stores locally and pushes onto the
// real-time channel.
type Notification struct {
	Type      string    `json:"type"` // e.g. "event_reminder"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	EventID   string    `json:"eventId"`
	GroupID   string    `json:"groupId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationTypeReminder is the Type of notifications emitted when an
// event reminder fires.
const NotificationTypeReminder = "event_reminder"
