package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps queues and entries in process memory. It backs the
// tests and STORE=memory deployments.
type MemoryRepository struct {
	mu      sync.RWMutex
	queues  map[uuid.UUID]Queue
	entries map[uuid.UUID]Entry
	order   []uuid.UUID // entry insertion order
	events  []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		queues:  make(map[uuid.UUID]Queue),
		entries: make(map[uuid.UUID]Entry),
	}
}

func (r *MemoryRepository) CreateQueue(_ context.Context, q *Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[q.ID] = *q
	return nil
}

func (r *MemoryRepository) GetQueue(_ context.Context, id uuid.UUID) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[id]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return &q, nil
}

func (r *MemoryRepository) LockQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	return r.GetQueue(ctx, id)
}

func (r *MemoryRepository) ListQueues(_ context.Context, clinicID uuid.UUID) ([]Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Queue
	for _, q := range r.queues {
		if clinicID != uuid.Nil && q.ClinicID != clinicID {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *MemoryRepository) UpdateQueue(_ context.Context, q *Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.queues[q.ID]; !ok {
		return ErrQueueNotFound
	}
	r.queues[q.ID] = *q
	return nil
}

func (r *MemoryRepository) InsertEntry(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = cloneEntry(*e)
	r.order = append(r.order, e.ID)
	return nil
}

func (r *MemoryRepository) UpdateEntry(_ context.Context, e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID]; !ok {
		return ErrEntryNotFound
	}
	r.entries[e.ID] = cloneEntry(*e)
	return nil
}

func (r *MemoryRepository) GetEntry(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	c := cloneEntry(e)
	return &c, nil
}

func (r *MemoryRepository) FindWaitingByQueue(ctx context.Context, queueID uuid.UUID) ([]Entry, error) {
	return r.ListEntries(ctx, queueID, StatusWaiting)
}

func (r *MemoryRepository) FindLatestPatientEntry(_ context.Context, queueID, patientID uuid.UUID, statuses ...EntryStatus) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Entry
	for _, id := range r.order {
		e := r.entries[id]
		if e.QueueID != queueID || e.PatientID != patientID || !hasStatus(e.Status, statuses) {
			continue
		}
		if latest == nil || !e.JoinedAt.Before(latest.JoinedAt) {
			c := cloneEntry(e)
			latest = &c
		}
	}
	if latest == nil {
		return nil, ErrEntryNotFound
	}
	return latest, nil
}

func (r *MemoryRepository) ListEntries(_ context.Context, queueID uuid.UUID, statuses ...EntryStatus) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, id := range r.order {
		e := r.entries[id]
		if e.QueueID != queueID || !hasStatus(e.Status, statuses) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (r *MemoryRepository) ListServedSince(ctx context.Context, queueID uuid.UUID, since time.Time) ([]Entry, error) {
	served, err := r.ListEntries(ctx, queueID, StatusServed)
	if err != nil {
		return nil, err
	}
	out := served[:0]
	for _, e := range served {
		if e.ServedAt != nil && !e.ServedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountByStatus(_ context.Context, queueID uuid.UUID) (map[EntryStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[EntryStatus]int, 4)
	for _, e := range r.entries {
		if e.QueueID == queueID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

// WithTx runs fn directly. The service validates before it writes, so a
// failing fn has not mutated anything.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return fn(ctx, r)
}

func hasStatus(s EntryStatus, statuses []EntryStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func cloneEntry(e Entry) Entry {
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	e.CalledAt = cloneTime(e.CalledAt)
	e.ServedAt = cloneTime(e.ServedAt)
	e.RemovedAt = cloneTime(e.RemovedAt)
	if e.ActualWaitTime != nil {
		v := *e.ActualWaitTime
		e.ActualWaitTime = &v
	}
	return e
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
