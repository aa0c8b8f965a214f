package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Direct ticket management. These act on one entry by id and keep the
// owning queue's counters in step, under the same lock as queue operations.

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// EntryPosition is the ticket's own view of GetQueuePosition.
func (s *Service) EntryPosition(ctx context.Context, id uuid.UUID) (int, bool, error) {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if e.Status != StatusWaiting {
		return 0, false, nil
	}
	waiting, err := s.repo.FindWaitingByQueue(ctx, e.QueueID)
	if err != nil {
		return 0, false, fmt.Errorf("find waiting entries: %w", err)
	}
	return Position(e, waiting), true, nil
}

// withEntry loads the entry inside its queue's critical section.
func (s *Service) withEntry(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error)) (*Entry, error) {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	var out *Entry
	err = s.mutate(ctx, e.QueueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		current, err := repo.GetEntry(ctx, id)
		if err != nil {
			return false, fmt.Errorf("reload entry: %w", err)
		}
		changed, err := fn(ctx, repo, q, current, ev)
		if err != nil {
			return false, err
		}
		out = current
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallEntry moves a waiting entry to called out of turn. The slot stays held
// until the entry is served or removed.
func (s *Service) CallEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.withEntry(ctx, id, func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error) {
		if err := e.Call(s.now()); err != nil {
			return false, err
		}
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		entryID := e.ID
		ev.add(EventEntryCalled, q.ID, &entryID, map[string]any{"patient_id": e.PatientID.String(), "direct": true})
		return false, nil
	})
}

func (s *Service) ServeEntryByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.withEntry(ctx, id, func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error) {
		if err := e.Serve(s.now()); err != nil {
			return false, err
		}
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		s.releaseSlot(q)
		if err := s.refreshEstimate(ctx, repo, q); err != nil {
			return false, err
		}
		entryID := e.ID
		ev.add(EventEntryServed, q.ID, &entryID, map[string]any{
			"patient_id":  e.PatientID.String(),
			"actual_wait": *e.ActualWaitTime,
			"direct":      true,
		})
		return true, nil
	})
}

// RemoveEntryByID removes a waiting or called entry and records reason in its notes.
func (s *Service) RemoveEntryByID(ctx context.Context, id uuid.UUID, reason string) (*Entry, error) {
	return s.withEntry(ctx, id, func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error) {
		if err := e.Remove(s.now(), reason); err != nil {
			return false, err
		}
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		s.releaseSlot(q)
		if err := s.refreshEstimate(ctx, repo, q); err != nil {
			return false, err
		}
		entryID := e.ID
		ev.add(EventEntryRemoved, q.ID, &entryID, map[string]any{
			"patient_id": e.PatientID.String(),
			"reason":     reason,
			"direct":     true,
		})
		return true, nil
	})
}

// UpdateEntryPriority re-ranks an entry. The clinic's allowed levels are
// not consulted here; they only gate admission.
func (s *Service) UpdateEntryPriority(ctx context.Context, id uuid.UUID, priority int) (*Entry, error) {
	return s.withEntry(ctx, id, func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error) {
		from := e.Priority
		if err := e.UpdatePriority(priority, s.now()); err != nil {
			return false, err
		}
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		entryID := e.ID
		ev.add(EventEntryPriority, q.ID, &entryID, map[string]any{"from": from, "to": priority})
		return false, nil
	})
}

// AddEntryNote appends to the entry's notes; allowed in every state.
func (s *Service) AddEntryNote(ctx context.Context, id uuid.UUID, note string) (*Entry, error) {
	return s.withEntry(ctx, id, func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error) {
		e.AddNote(s.now(), note)
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		entryID := e.ID
		ev.add(EventEntryNote, q.ID, &entryID, map[string]any{})
		return false, nil
	})
}

// SetEntryMetadata merges values into the entry's metadata; allowed in every state.
func (s *Service) SetEntryMetadata(ctx context.Context, id uuid.UUID, values map[string]any) (*Entry, error) {
	return s.withEntry(ctx, id, func(ctx context.Context, repo Repository, q *Queue, e *Entry, ev *pending) (bool, error) {
		keys := make([]string, 0, len(values))
		for k, v := range values {
			e.SetMetadata(k, v)
			keys = append(keys, k)
		}
		e.UpdatedAt = s.now()
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		entryID := e.ID
		ev.add(EventEntryMetadata, q.ID, &entryID, map[string]any{"keys": keys})
		return false, nil
	})
}
