// Package dispatch implements the boundary between the scheduling engine
// and the outside world: the local notification store, the in-process
// real-time channel, delivery sinks, and the event-creation API.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gather/internal/event"
	"gather/internal/eventbus"
	"gather/internal/storage"
	"gather/pkg/logx"
)

// Config controls the dispatch service.
type Config struct {
	// RatePerSec caps reminder emission; 0 disables the limiter.
	RatePerSec int
	Burst      int
}

// Service is the default Dispatcher: store + bus + sinks for reminders,
// an EventCreator for derived occurrences.
//
// It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store // may be nil
	creator EventCreator

	mu      sync.Mutex
	limiter *rate.Limiter
	sinks   []Sink
}

func New(cfg Config, creator EventCreator, bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		bus:     bus,
		store:   store,
		creator: creator,
	}
	s.Apply(cfg)
	return s
}

// Apply updates runtime-tunable settings (currently the rate limit).
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.RatePerSec <= 0 {
		s.limiter = nil
		return
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RatePerSec
	}
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
}

// AddSink registers an additional delivery target.
func (s *Service) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// EmitReminder enqueues a user-visible notification for the event. Delivery
// failures are logged here, never surfaced to the engine.
func (s *Service) EmitReminder(ctx context.Context, ev event.Event) {
	n := event.Notification{
		Type:      event.NotificationTypeReminder,
		Title:     "Event Reminder",
		Message:   reminderMessage(ev),
		EventID:   ev.ID,
		GroupID:   ev.GroupID,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	limiter := s.limiter
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	if limiter != nil && !limiter.Allow() {
		s.log.Warn("reminder emission rate limited, dropping",
			logx.String("event_id", ev.ID), logx.String("group_id", ev.GroupID))
		return
	}

	if s.store != nil {
		if err := s.store.AppendNotification(ctx, n); err != nil {
			s.log.Warn("failed to store notification",
				logx.String("event_id", ev.ID), logx.Err(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(n)
	}
	for _, sink := range sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			s.log.Warn("notification delivery failed",
				logx.String("event_id", ev.ID), logx.Err(err))
		}
	}

	s.log.Debug("reminder dispatched",
		logx.String("event_id", ev.ID), logx.String("group_id", ev.GroupID))
}

// CreateDerivedEvent persists the next occurrence of a recurrence chain and
// returns it with its assigned identity.
func (s *Service) CreateDerivedEvent(ctx context.Context, ev event.Event) (event.Event, error) {
	if s.creator == nil {
		return event.Event{}, fmt.Errorf("no event creator configured")
	}
	created, err := s.creator.CreateEvent(ctx, ev)
	if err != nil {
		return event.Event{}, fmt.Errorf("create derived event (parent %s): %w", ev.ParentEventID, err)
	}
	return created, nil
}

func reminderMessage(ev event.Event) string {
	return fmt.Sprintf("%s starts at %s", ev.Title, ev.StartTime.Format("Mon, 02 Jan 2006 15:04"))
}
