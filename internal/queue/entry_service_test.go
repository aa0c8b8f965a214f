package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectEntryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, 5, TypeGeneral)

	e, err := f.svc.AddEntry(ctx, q.ID, uuid.New(), 1, map[string]any{"kiosk": "lobby-1"})
	require.NoError(t, err)

	called, err := f.svc.CallEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCalled, called.Status)
	assert.Equal(t, 1, f.reload(t, q.ID).CurrentCount, "calling keeps the slot")

	_, err = f.svc.CallEntry(ctx, e.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	f.clock.Advance(7 * time.Minute)
	served, err := f.svc.ServeEntryByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusServed, served.Status)
	assert.Equal(t, 7, *served.ActualWaitTime)
	assert.Equal(t, 0, f.reload(t, q.ID).CurrentCount)

	_, err = f.svc.RemoveEntryByID(ctx, e.ID, "duplicate")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, 0, f.reload(t, q.ID).CurrentCount)

	noted, err := f.svc.AddEntryNote(ctx, e.ID, "follow-up booked")
	require.NoError(t, err)
	assert.Contains(t, noted.Notes, "follow-up booked")
	assert.Equal(t, "lobby-1", noted.Metadata["kiosk"])
}

func TestRemoveEntryByIDFromCalled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, 5, TypeGeneral)

	e, err := f.svc.AddEntry(ctx, q.ID, uuid.New(), 1, nil)
	require.NoError(t, err)
	_, err = f.svc.CallNext(ctx, q.ID)
	require.NoError(t, err)

	removed, err := f.svc.RemoveEntryByID(ctx, e.ID, "no show")
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, removed.Status)
	assert.Contains(t, removed.Notes, "removed: no show")
	assert.Equal(t, 0, f.reload(t, q.ID).CurrentCount)
}

func TestUpdateEntryPriorityReranks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, 5, TypeGeneral)

	first, err := f.svc.AddEntry(ctx, q.ID, uuid.New(), 2, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.AddEntry(ctx, q.ID, uuid.New(), 1, nil)
	require.NoError(t, err)

	// levels outside the clinic list are accepted after admission
	updated, err := f.svc.UpdateEntryPriority(ctx, second.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, updated.Priority)

	next, err := f.svc.GetNextEntry(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	pos, ok, err := f.svc.EntryPosition(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)

	_, err = f.svc.UpdateEntryPriority(ctx, first.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestEntryNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetEntry(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, err = f.svc.CallEntry(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEntryNotFound)
	_, _, err = f.svc.EntryPosition(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSetEntryMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, 5, TypeGeneral)

	e, err := f.svc.AddEntry(ctx, q.ID, uuid.New(), 1, map[string]any{"kiosk": "lobby-1"})
	require.NoError(t, err)
	_, err = f.svc.ServeEntryByID(ctx, e.ID)
	require.NoError(t, err)

	got, err := f.svc.SetEntryMetadata(ctx, e.ID, map[string]any{"survey": "sent"})
	require.NoError(t, err)
	assert.Equal(t, "lobby-1", got.Metadata["kiosk"])
	assert.Equal(t, "sent", got.Metadata["survey"])
	assert.Equal(t, StatusServed, got.Status)

	events := f.repo.Events()
	assert.Equal(t, EventEntryMetadata, events[len(events)-1].EventType)
}
