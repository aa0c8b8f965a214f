package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLatestPatientEntryTieGoesToLastInserted(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	queueID, patientID := uuid.New(), uuid.New()

	first := NewEntry(queueID, patientID, 1, nil, t0)
	require.NoError(t, first.Serve(t0))
	second := NewEntry(queueID, patientID, 1, nil, t0)
	require.NoError(t, repo.InsertEntry(ctx, first))
	require.NoError(t, repo.InsertEntry(ctx, second))

	got, err := repo.FindLatestPatientEntry(ctx, queueID, patientID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	got, err = repo.FindLatestPatientEntry(ctx, queueID, patientID, StatusServed)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = repo.FindLatestPatientEntry(ctx, queueID, patientID, StatusRemoved)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestReadmissionAtSameInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.queue(t, 5, TypeGeneral)
	patient := uuid.New()

	_, err := f.svc.AddEntry(ctx, q.ID, patient, 1, nil)
	require.NoError(t, err)
	ok, err := f.svc.ServeEntry(ctx, q.ID, patient)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := f.svc.AddEntry(ctx, q.ID, patient, 1, nil)
	require.NoError(t, err)

	latest, err := f.repo.FindLatestPatientEntry(ctx, q.ID, patient)
	require.NoError(t, err)
	assert.Equal(t, again.ID, latest.ID)
	assert.Equal(t, StatusWaiting, latest.Status)
}
