package dispatch

import (
	"context"

	"gather/internal/event"
)

// Dispatcher is the boundary the scheduling engine calls into. The engine
// decides when and what; a Dispatcher decides how.
//
// EmitReminder must not fail loudly for normal operation: delivery problems
// are the boundary's to log, not the engine's to handle.
type Dispatcher interface {
	EmitReminder(ctx context.Context, ev event.Event)

	// CreateDerivedEvent persists a newly computed recurring occurrence and
	// returns the stored event with its assigned identity.
	CreateDerivedEvent(ctx context.Context, ev event.Event) (event.Event, error)
}

// Sink delivers a notification to one concrete channel (e.g. a Telegram
// group chat). Sinks are fan-out targets of the dispatch service.
type Sink interface {
	Deliver(ctx context.Context, n event.Notification) error
}

// EventCreator persists derived occurrences. The REST client talks to the
// group-event API; the local creator writes straight to the store.
type EventCreator interface {
	CreateEvent(ctx context.Context, ev event.Event) (event.Event, error)
}
