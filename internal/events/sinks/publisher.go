package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// PublisherSink forwards terminal events for root and standalone jobs to an
// external topic so other systems can react to finished work. Crawl-page
// events are skipped; subscribers care about whole jobs, not individual
// frontier pages.
type PublisherSink struct {
	publisher job.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink constructs a PublisherSink for the given topic.
func NewPublisherSink(publisher job.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// notification is the wire payload for downstream subscribers.
type notification struct {
	JobID       string `json:"job_id"`
	Kind        string `json:"kind"`
	Engine      string `json:"engine"`
	Status      string `json:"status"`
	Success     bool   `json:"success"`
	CreditsUsed int64  `json:"credits_used"`
	Error       string `json:"error,omitempty"`
	FinishedAt  string `json:"finished_at"`
}

// Consume publishes one message per root/standalone terminal event.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Kind == job.KindCrawlPage {
			continue
		}
		msg := notification{
			JobID:       evt.JobID.String(),
			Kind:        string(evt.Kind),
			Engine:      string(evt.Engine),
			Status:      string(evt.Status),
			Success:     evt.Success,
			CreditsUsed: evt.Credits,
			Error:       evt.ErrorText,
			FinishedAt:  evt.TS.Format("2006-01-02T15:04:05.000Z07:00"),
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish terminal event for %s: %w", evt.JobID, err)
		}
		s.logger.Debug("published terminal event",
			zap.String("job_id", evt.JobID.String()),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
