package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	id := uuid.MustParse("8f14e45f-ceea-467f-a0e6-9f1b1a1e2c3d")
	assert.Equal(t, "clinic.queue.8f14e45f-ceea-467f-a0e6-9f1b1a1e2c3d.call_next", Subject(id, "call_next"))
}

func TestNotifierPublishesQueueChanged(t *testing.T) {
	pub := &MemoryPublisher{}
	n := NewNotifier(pub)

	queueID, entryID := uuid.New(), uuid.New()
	n.QueueChanged(context.Background(), QueueChanged{
		QueueID:           queueID,
		Action:            "entry_added",
		EntryID:           &entryID,
		Status:            "waiting",
		CurrentCount:      3,
		EstimatedWaitTime: 45,
	})

	msgs := pub.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, Subject(queueID, "entry_added"), msgs[0].Subject)

	var got QueueChanged
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, queueID, got.QueueID)
	assert.Equal(t, 3, got.CurrentCount)
	assert.Equal(t, 45, got.EstimatedWaitTime)
	require.NotNil(t, got.EntryID)
	assert.Equal(t, entryID, *got.EntryID)
	assert.False(t, got.OccurredAt.IsZero())
}

type brokenPublisher struct{ calls int }

func (b *brokenPublisher) Publish(context.Context, string, []byte) error {
	b.calls++
	return errors.New("nats: connection closed")
}

func (b *brokenPublisher) Close() error { return nil }

func TestNotifierSwallowsPublishErrors(t *testing.T) {
	pub := &brokenPublisher{}
	n := NewNotifier(pub)

	assert.NotPanics(t, func() {
		n.QueueChanged(context.Background(), QueueChanged{QueueID: uuid.New(), Action: "closed"})
	})
	assert.Equal(t, 1, pub.calls)
}

func TestNilPublisherIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	n.QueueChanged(context.Background(), QueueChanged{QueueID: uuid.New(), Action: "paused"})
}
