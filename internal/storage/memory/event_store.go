package memory

import (
	"context"
	"sync"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
)

// EventStore keeps an in-memory audit trail of terminal events.
type EventStore struct {
	mu     sync.RWMutex
	events []events.Event
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// RecordEvents appends the whole batch.
func (s *EventStore) RecordEvents(_ context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Events returns a copy of everything recorded so far.
func (s *EventStore) Events() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}
