package events

import "context"

// Sink consumes batches of terminal events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// lifecycle manager stays agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Event)
}

// Store persists terminal events for audit. The postgres and memory storage
// backends both implement it.
type Store interface {
	RecordEvents(ctx context.Context, batch []Event) error
}
