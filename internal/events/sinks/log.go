package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
)

// LogSink emits structured logs for terminal events. Useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID.String()),
			zap.String("root_id", evt.RootID.String()),
			zap.String("kind", string(evt.Kind)),
			zap.String("engine", string(evt.Engine)),
			zap.String("status", string(evt.Status)),
			zap.Bool("success", evt.Success),
			zap.Int64("credits", evt.Credits),
			zap.Int("attempts", evt.Attempts),
			zap.Duration("duration", evt.Duration),
		}
		if evt.ErrorText != "" {
			fields = append(fields, zap.String("error", evt.ErrorText))
		}
		s.logger.Info("job reached terminal state", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
