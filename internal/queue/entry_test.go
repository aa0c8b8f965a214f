package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestNewEntry(t *testing.T) {
	md := map[string]any{"name": "Ada"}
	e := NewEntry(uuid.New(), uuid.New(), 0, md, t0)

	assert.Equal(t, 1, e.Priority)
	assert.Equal(t, StatusWaiting, e.Status)
	assert.Equal(t, t0, e.JoinedAt)
	assert.Nil(t, e.CalledAt)
	assert.Nil(t, e.ServedAt)
	assert.Nil(t, e.RemovedAt)

	// metadata is copied, not shared
	md["name"] = "Grace"
	assert.Equal(t, "Ada", e.Metadata["name"])
}

func TestEntryCall(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 2, nil, t0)

	require.NoError(t, e.Call(t0.Add(5*time.Minute)))
	assert.Equal(t, StatusCalled, e.Status)
	require.NotNil(t, e.CalledAt)
	assert.Equal(t, t0.Add(5*time.Minute), *e.CalledAt)

	assert.ErrorIs(t, e.Call(t0.Add(6*time.Minute)), ErrInvalidStatusTransition)
}

func TestEntryServeFromWaiting(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)

	require.NoError(t, e.Serve(t0.Add(12*time.Minute+40*time.Second)))
	assert.Equal(t, StatusServed, e.Status)
	require.NotNil(t, e.CalledAt)
	require.NotNil(t, e.ServedAt)
	assert.Equal(t, *e.CalledAt, *e.ServedAt)
	require.NotNil(t, e.ActualWaitTime)
	assert.Equal(t, 12, *e.ActualWaitTime)
	assert.Nil(t, e.RemovedAt)
	assert.True(t, e.IsTerminal())
	assert.False(t, e.Active())
}

func TestEntryServeFromCalledKeepsCallTime(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)
	require.NoError(t, e.Call(t0.Add(3*time.Minute)))
	require.NoError(t, e.Serve(t0.Add(9*time.Minute)))

	assert.Equal(t, t0.Add(3*time.Minute), *e.CalledAt)
	assert.Equal(t, t0.Add(9*time.Minute), *e.ServedAt)
	assert.Equal(t, 9, *e.ActualWaitTime)

	assert.ErrorIs(t, e.Serve(t0.Add(10*time.Minute)), ErrInvalidStatusTransition)
	assert.ErrorIs(t, e.Remove(t0.Add(10*time.Minute), "late"), ErrInvalidStatusTransition)
}

func TestEntryRemove(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)
	require.NoError(t, e.Call(t0.Add(time.Minute)))

	require.NoError(t, e.Remove(t0.Add(2*time.Minute), "left the building"))
	assert.Equal(t, StatusRemoved, e.Status)
	require.NotNil(t, e.RemovedAt)
	assert.Nil(t, e.ServedAt)
	assert.Contains(t, e.Notes, "removed: left the building")

	assert.ErrorIs(t, e.Remove(t0.Add(3*time.Minute), ""), ErrInvalidStatusTransition)
	assert.ErrorIs(t, e.Call(t0.Add(3*time.Minute)), ErrInvalidStatusTransition)
}

func TestEntryUpdatePriority(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)
	require.NoError(t, e.Serve(t0.Add(time.Minute)))

	// allowed in terminal states too
	require.NoError(t, e.UpdatePriority(7, t0.Add(2*time.Minute)))
	assert.Equal(t, 7, e.Priority)

	assert.ErrorIs(t, e.UpdatePriority(0, t0), ErrInvalidPriority)
	assert.Equal(t, 7, e.Priority)
}

func TestEntryNotesAppend(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)
	e.AddNote(t0, "arrived with escort")
	e.AddNote(t0.Add(time.Minute), "   ")
	e.AddNote(t0.Add(2*time.Minute), "needs wheelchair")

	assert.Equal(t,
		"[2026-03-02T09:00:00Z] arrived with escort\n[2026-03-02T09:02:00Z] needs wheelchair",
		e.Notes)
}

func TestEntryTimestampsNeverGoBackwards(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)
	require.NoError(t, e.Call(t0.Add(-time.Minute)))
	require.NoError(t, e.Serve(t0.Add(-2*time.Minute)))

	assert.False(t, e.CalledAt.Before(e.JoinedAt))
	assert.False(t, e.ServedAt.Before(*e.CalledAt))
	assert.Equal(t, 0, *e.ActualWaitTime)
}

func TestWaitMinutes(t *testing.T) {
	e := NewEntry(uuid.New(), uuid.New(), 1, nil, t0)
	assert.Equal(t, 0, e.WaitMinutes(t0.Add(-time.Hour)))
	assert.Equal(t, 0, e.WaitMinutes(t0.Add(59*time.Second)))
	assert.Equal(t, 10, e.WaitMinutes(t0.Add(10*time.Minute+59*time.Second)))
}
