package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
)

// StoreSink persists terminal events for audit via an events.Store. Whole
// batches are forwarded so the backend can insert them in one round trip.
type StoreSink struct {
	store  events.Store
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store events.Store, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume forwards the batch to the store. It respects ctx deadlines and
// returns store errors verbatim so the hub can log them.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.store == nil || len(batch) == 0 {
		return nil
	}
	if err := s.store.RecordEvents(ctx, batch); err != nil {
		return fmt.Errorf("record terminal events: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
