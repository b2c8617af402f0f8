package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
)

// one VALUES tuple per event
const eventColumns = 12

// EventStore persists the terminal-event audit trail.
type EventStore struct {
	db Querier
}

// NewEventStore constructs an EventStore on an existing pool.
func NewEventStore(db Querier) *EventStore {
	return &EventStore{db: db}
}

// RecordEvents inserts the whole batch with a single multi-row INSERT.
func (s *EventStore) RecordEvents(ctx context.Context, batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(batch)*eventColumns)
	)
	sb.WriteString(`INSERT INTO job_events (
		job_id, root_id, account_id, kind, engine, status, success, credits,
		error_text, attempts, duration_ms, ts
	) VALUES `)
	for i, evt := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * eventColumns
		sb.WriteByte('(')
		for c := 1; c <= eventColumns; c++ {
			if c > 1 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteByte(')')
		args = append(args,
			evt.JobID,
			evt.RootID,
			evt.AccountID,
			string(evt.Kind),
			string(evt.Engine),
			string(evt.Status),
			evt.Success,
			evt.Credits,
			evt.ErrorText,
			evt.Attempts,
			evt.Duration.Milliseconds(),
			evt.TS,
		)
	}
	sb.WriteByte(';')

	if _, err := s.db.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert job events: %w", err)
	}
	return nil
}
