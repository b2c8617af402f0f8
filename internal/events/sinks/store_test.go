package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jackronrau/AnyCrawl-sub001/internal/events"
	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

type recordingStore struct {
	mu      sync.Mutex
	batches [][]events.Event
	err     error
}

func (r *recordingStore) RecordEvents(_ context.Context, batch []events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]events.Event(nil), batch...))
	return nil
}

func TestStoreSinkForwardsBatches(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	sink := NewStoreSink(store, nil)

	batch := []events.Event{
		{JobID: uuid.New(), Kind: job.KindScrape, Status: job.StatusCompleted, TS: time.Now()},
		{JobID: uuid.New(), Kind: job.KindSearch, Status: job.StatusFailed, TS: time.Now()},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 2)
}

func TestStoreSinkPropagatesErrors(t *testing.T) {
	t.Parallel()

	store := &recordingStore{err: errors.New("connection reset")}
	sink := NewStoreSink(store, nil)

	err := sink.Consume(context.Background(), []events.Event{{JobID: uuid.New()}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []any
	topics   []string
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return "msg-1", nil
}

func TestPublisherSinkSkipsCrawlPages(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	sink := NewPublisherSink(pub, "job-events", nil)

	rootID := uuid.New()
	batch := []events.Event{
		{JobID: uuid.New(), RootID: rootID, Kind: job.KindCrawlPage, Status: job.StatusCompleted, TS: time.Now()},
		{JobID: rootID, RootID: rootID, Kind: job.KindCrawl, Status: job.StatusCompleted, Success: true, Credits: 5, TS: time.Now()},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, pub.payloads, 1)
	require.Equal(t, []string{"job-events"}, pub.topics)

	raw, err := json.Marshal(pub.payloads[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, rootID.String(), decoded["job_id"])
	require.Equal(t, "crawl", decoded["kind"])
	require.Equal(t, float64(5), decoded["credits_used"])
}
