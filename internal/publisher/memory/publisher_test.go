package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "jobs.terminal", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id1)

	id2, err := pub.Publish(context.Background(), "jobs.audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "mem-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "jobs.terminal", msgs[0].Topic)
	assert.Equal(t, "jobs.audit", msgs[1].Topic)

	// Mutating the returned slice must not reach the recorded state.
	msgs[0].Topic = "modified"
	assert.Equal(t, "jobs.terminal", pub.Messages()[0].Topic)
}

func TestPublisherTopicMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "jobs.terminal", 1)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "jobs.audit", 2)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "jobs.terminal", 3)
	require.NoError(t, err)

	got := pub.TopicMessages("jobs.terminal")
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Payload)
	assert.Equal(t, 3, got[1].Payload)
	assert.Empty(t, pub.TopicMessages("unknown"))
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailWith(boom)

	_, err := pub.Publish(context.Background(), "jobs.terminal", "x")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages())

	pub.FailWith(nil)
	id, err := pub.Publish(context.Background(), "jobs.terminal", "x")
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id)
}
