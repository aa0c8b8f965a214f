package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-patient-flow/internal/redis"
	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

const (
	EventQueueCreated        = "QUEUE_CREATED"
	EventQueueStatusChanged  = "QUEUE_STATUS_CHANGED"
	EventQueueActiveChanged  = "QUEUE_ACTIVE_CHANGED"
	EventWaitEstimateUpdated = "WAIT_ESTIMATE_UPDATED"
	EventEntryAdded          = "ENTRY_ADDED"
	EventEntryCalled         = "ENTRY_CALLED"
	EventEntryServed         = "ENTRY_SERVED"
	EventEntryAutoServed     = "ENTRY_AUTO_SERVED"
	EventEntryRemoved        = "ENTRY_REMOVED"
	EventEntryPriority       = "ENTRY_PRIORITY_CHANGED"
	EventEntryNote           = "ENTRY_NOTE_ADDED"
	EventEntryMetadata       = "ENTRY_METADATA_UPDATED"
)

var (
	ErrQueueUnavailable = errors.New("queue is not accepting patients")
	ErrQueueFull        = errors.New("queue is at capacity")
	ErrWalkInsDisabled  = errors.New("walk-in admission is disabled for this clinic")
	ErrQueueBusy        = errors.New("queue is busy, please retry")
	ErrInvalidQueue     = errors.New("invalid queue")
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	settings settings.Provider
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, locker redisclient.Locker, provider settings.Provider, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		locker:   locker,
		settings: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pending collects audit events produced inside a critical section; they
// are written after the transaction commits.
type pending struct {
	now    func() time.Time
	events []EventLog
}

func (p *pending) add(eventType string, queueID uuid.UUID, entryID *uuid.UUID, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}
	p.events = append(p.events, EventLog{
		EventType: eventType,
		QueueID:   queueID,
		EntryID:   entryID,
		Payload:   data,
		CreatedAt: p.now(),
	})
}

// mutate runs fn with the queue locked, inside one transaction. The queue is
// written back only when fn reports it changed.
func (s *Service) mutate(ctx context.Context, queueID uuid.UUID, fn func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error)) error {
	ev := &pending{now: s.now}

	err := s.locker.WithQueueLock(ctx, queueID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(txCtx context.Context, repo Repository) error {
			q, err := repo.LockQueue(txCtx, queueID)
			if err != nil {
				if errors.Is(err, ErrQueueNotFound) {
					return err
				}
				return fmt.Errorf("load queue: %w", err)
			}

			changed, err := fn(txCtx, repo, q, ev)
			if err != nil || !changed {
				return err
			}

			if q.CurrentCount < 0 || q.CurrentCount > q.MaxCapacity {
				return fmt.Errorf("queue %s count %d outside [0,%d]", q.ID, q.CurrentCount, q.MaxCapacity)
			}
			q.UpdatedAt = s.now()
			if err := repo.UpdateQueue(txCtx, q); err != nil {
				return fmt.Errorf("save queue: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return ErrQueueBusy
		}
		return err
	}

	for _, e := range ev.events {
		if err := s.repo.InsertEvent(ctx, e); err != nil {
			log.Printf("failed to insert queue event %s for queue %s: %v", e.EventType, e.QueueID, err)
		}
	}
	return nil
}

// refreshEstimate applies the linear wait model to the queue.
func (s *Service) refreshEstimate(ctx context.Context, repo Repository, q *Queue) error {
	waiting, err := repo.FindWaitingByQueue(ctx, q.ID)
	if err != nil {
		return fmt.Errorf("find waiting entries: %w", err)
	}
	q.EstimatedWaitTime = EstimateWait(q.AverageWaitTime, len(waiting))
	return nil
}

func (s *Service) releaseSlot(q *Queue) {
	if q.CurrentCount > 0 {
		q.CurrentCount--
	}
}

// allowedPriority keeps priority when the clinic allows it and falls back to 1 otherwise.
func (s *Service) allowedPriority(ctx context.Context, clinicID uuid.UUID, priority int) int {
	levels := s.settings.GetList(ctx, settings.KeyPriorityLevels, settings.DefaultPriorityLevels(), clinicID)
	if slices.Contains(levels, priority) {
		return priority
	}
	return 1
}

// Queue lifecycle

func (s *Service) CreateQueue(ctx context.Context, p NewQueueParams) (*Queue, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidQueue)
	}
	if p.MaxCapacity <= 0 {
		return nil, fmt.Errorf("%w: max_capacity must be positive", ErrInvalidQueue)
	}
	if p.AverageWaitTime < 0 {
		return nil, fmt.Errorf("%w: average_wait_time must not be negative", ErrInvalidQueue)
	}
	if p.Type == "" {
		p.Type = TypeGeneral
	}
	switch p.Type {
	case TypeGeneral, TypeWalkIn, TypeAppointment, TypeEmergency:
	default:
		return nil, fmt.Errorf("%w: unknown queue_type %q", ErrInvalidQueue, p.Type)
	}

	now := s.now()
	q := &Queue{
		ID:              uuid.New(),
		ClinicID:        p.ClinicID,
		Name:            p.Name,
		Description:     p.Description,
		Type:            p.Type,
		Status:          QueueActive,
		MaxCapacity:     p.MaxCapacity,
		AverageWaitTime: p.AverageWaitTime,
		PriorityLevel:   p.PriorityLevel,
		IsActive:        true,
		AutoAssign:      p.AutoAssign,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateQueue(ctx, q); err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	ev := &pending{now: s.now}
	ev.add(EventQueueCreated, q.ID, nil, map[string]any{"name": q.Name, "max_capacity": q.MaxCapacity})
	if err := s.repo.InsertEvent(ctx, ev.events[0]); err != nil {
		log.Printf("failed to insert queue event %s for queue %s: %v", EventQueueCreated, q.ID, err)
	}
	return q, nil
}

func (s *Service) GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error) {
	q, err := s.repo.GetQueue(ctx, id)
	if err != nil {
		if errors.Is(err, ErrQueueNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get queue: %w", err)
	}
	return q, nil
}

func (s *Service) ListQueues(ctx context.Context, clinicID uuid.UUID) ([]Queue, error) {
	queues, err := s.repo.ListQueues(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	return queues, nil
}

func (s *Service) setStatus(ctx context.Context, queueID uuid.UUID, status QueueStatus) (*Queue, error) {
	var out *Queue
	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		out = q
		if q.Status == status {
			return false, nil
		}
		ev.add(EventQueueStatusChanged, q.ID, nil, map[string]any{"from": q.Status, "to": status})
		q.Status = status
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Pause(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueuePaused)
}

func (s *Service) Resume(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueueActive)
}

func (s *Service) Close(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueueClosed)
}

func (s *Service) Open(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueueActive)
}

func (s *Service) Maintenance(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	return s.setStatus(ctx, queueID, QueueMaintenance)
}

// SetActive flips the is_active gate independently of the operating status.
func (s *Service) SetActive(ctx context.Context, queueID uuid.UUID, active bool) (*Queue, error) {
	var out *Queue
	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		out = q
		if q.IsActive == active {
			return false, nil
		}
		q.IsActive = active
		ev.add(EventQueueActiveChanged, q.ID, nil, map[string]any{"is_active": active})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Admission and selection

// AddEntry admits a patient. Preconditions are checked in order and before
// any write: availability, capacity, walk-in policy. A priority the clinic
// does not allow is replaced by 1 without error.
func (s *Service) AddEntry(ctx context.Context, queueID, patientID uuid.UUID, priority int, metadata map[string]any) (*Entry, error) {
	var created *Entry

	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		if !q.Accepting() {
			return false, ErrQueueUnavailable
		}
		if q.CurrentCount >= q.MaxCapacity {
			return false, ErrQueueFull
		}
		if q.IsWalkIn() && !s.settings.GetBool(ctx, settings.KeyAllowWalkIns, settings.DefaultAllowWalkIns, q.ClinicID) {
			return false, ErrWalkInsDisabled
		}

		requested := priority
		priority = s.allowedPriority(ctx, q.ClinicID, priority)

		waiting, err := repo.FindWaitingByQueue(ctx, q.ID)
		if err != nil {
			return false, fmt.Errorf("find waiting entries: %w", err)
		}

		e := NewEntry(q.ID, patientID, priority, metadata, s.now())
		e.EstimatedWaitTime = EstimateWait(q.AverageWaitTime, Position(e, waiting)+1)

		if err := repo.InsertEntry(ctx, e); err != nil {
			return false, fmt.Errorf("insert entry: %w", err)
		}

		q.CurrentCount++
		q.EstimatedWaitTime = EstimateWait(q.AverageWaitTime, len(waiting)+1)

		entryID := e.ID
		ev.add(EventEntryAdded, q.ID, &entryID, map[string]any{
			"patient_id":         patientID.String(),
			"priority":           priority,
			"requested_priority": requested,
		})
		created = e
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RemoveEntry withdraws the patient's most recent waiting entry. It reports
// false when there is nothing to remove.
func (s *Service) RemoveEntry(ctx context.Context, queueID, patientID uuid.UUID) (bool, error) {
	removed := false

	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		e, err := repo.FindLatestPatientEntry(ctx, q.ID, patientID, StatusWaiting)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("find patient entry: %w", err)
		}

		if err := e.Remove(s.now(), ""); err != nil {
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
		ev.add(EventEntryRemoved, q.ID, &entryID, map[string]any{"patient_id": patientID.String()})
		removed = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// GetNextEntry returns the waiting entry that would be called next, or nil.
func (s *Service) GetNextEntry(ctx context.Context, queueID uuid.UUID) (*Entry, error) {
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	waiting, err := s.repo.FindWaitingByQueue(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("find waiting entries: %w", err)
	}
	return Head(waiting), nil
}

// CallNext calls the head of the queue. With auto-call enabled, a patient
// who has already waited longer than the clinic's limit is served at once
// and frees their slot; otherwise the patient is only called.
func (s *Service) CallNext(ctx context.Context, queueID uuid.UUID) (*Entry, error) {
	var called *Entry

	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		waiting, err := repo.FindWaitingByQueue(ctx, q.ID)
		if err != nil {
			return false, fmt.Errorf("find waiting entries: %w", err)
		}
		e := Head(waiting)
		if e == nil {
			return false, nil
		}

		now := s.now()
		autoCall := s.settings.GetBool(ctx, settings.KeyAutoCallNext, settings.DefaultAutoCallNext, q.ClinicID)
		entryID := e.ID

		if autoCall {
			maxWait := s.settings.GetInt(ctx, settings.KeyMaxWaitMinutes, settings.DefaultMaxWaitMinutes, q.ClinicID)
			if waited := e.WaitMinutes(now); waited > maxWait {
				if err := e.Serve(now); err != nil {
					return false, err
				}
				if err := repo.UpdateEntry(ctx, e); err != nil {
					return false, fmt.Errorf("update entry: %w", err)
				}
				s.releaseSlot(q)
				if err := s.refreshEstimate(ctx, repo, q); err != nil {
					return false, err
				}
				ev.add(EventEntryAutoServed, q.ID, &entryID, map[string]any{
					"patient_id":   e.PatientID.String(),
					"waited":       waited,
					"max_wait_min": maxWait,
				})
				called = e
				return true, nil
			}
		}

		if err := e.Call(now); err != nil {
			return false, err
		}
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return false, fmt.Errorf("update entry: %w", err)
		}
		ev.add(EventEntryCalled, q.ID, &entryID, map[string]any{"patient_id": e.PatientID.String()})
		called = e
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return called, nil
}

// ServeEntry completes the patient's most recent waiting or called entry.
func (s *Service) ServeEntry(ctx context.Context, queueID, patientID uuid.UUID) (bool, error) {
	served := false

	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		e, err := repo.FindLatestPatientEntry(ctx, q.ID, patientID, StatusWaiting, StatusCalled)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("find patient entry: %w", err)
		}

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
			"patient_id":  patientID.String(),
			"actual_wait": *e.ActualWaitTime,
		})
		served = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return served, nil
}

// UpdateWaitTime recomputes the queue's estimate from its waiting entries.
func (s *Service) UpdateWaitTime(ctx context.Context, queueID uuid.UUID) (*Queue, error) {
	var out *Queue
	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		out = q
		before := q.EstimatedWaitTime
		if err := s.refreshEstimate(ctx, repo, q); err != nil {
			return false, err
		}
		return q.EstimatedWaitTime != before, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RefreshAverageWaitTime replaces the queue's average with the mean actual
// wait of entries served since the given time, then recomputes the estimate.
// With nothing served in the window the average is kept.
func (s *Service) RefreshAverageWaitTime(ctx context.Context, queueID uuid.UUID, since time.Time) (*Queue, error) {
	var out *Queue
	err := s.mutate(ctx, queueID, func(ctx context.Context, repo Repository, q *Queue, ev *pending) (bool, error) {
		out = q
		served, err := repo.ListServedSince(ctx, q.ID, since)
		if err != nil {
			return false, fmt.Errorf("list served entries: %w", err)
		}

		total, n := 0, 0
		for _, e := range served {
			if e.ActualWaitTime == nil {
				continue
			}
			total += *e.ActualWaitTime
			n++
		}

		beforeAvg, beforeEst := q.AverageWaitTime, q.EstimatedWaitTime
		if n > 0 {
			q.AverageWaitTime = int(math.Round(float64(total) / float64(n)))
		}
		if err := s.refreshEstimate(ctx, repo, q); err != nil {
			return false, err
		}

		if q.AverageWaitTime == beforeAvg && q.EstimatedWaitTime == beforeEst {
			return false, nil
		}
		ev.add(EventWaitEstimateUpdated, q.ID, nil, map[string]any{
			"average_wait_time":   q.AverageWaitTime,
			"estimated_wait_time": q.EstimatedWaitTime,
			"samples":             n,
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetQueuePosition returns how many waiting patients rank ahead of the
// patient's waiting entry. ok is false when the patient is not waiting.
func (s *Service) GetQueuePosition(ctx context.Context, queueID, patientID uuid.UUID) (int, bool, error) {
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return 0, false, err
	}
	e, err := s.repo.FindLatestPatientEntry(ctx, queueID, patientID, StatusWaiting)
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("find patient entry: %w", err)
	}
	waiting, err := s.repo.FindWaitingByQueue(ctx, queueID)
	if err != nil {
		return 0, false, fmt.Errorf("find waiting entries: %w", err)
	}
	return Position(e, waiting), true, nil
}

// Stats breaks the queue's entries down by status.
func (s *Service) Stats(ctx context.Context, queueID uuid.UUID) (*QueueStats, error) {
	q, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountByStatus(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	return &QueueStats{
		QueueID:           q.ID,
		Waiting:           counts[StatusWaiting],
		Called:            counts[StatusCalled],
		Served:            counts[StatusServed],
		Removed:           counts[StatusRemoved],
		CurrentCount:      q.CurrentCount,
		EstimatedWaitTime: q.EstimatedWaitTime,
		AverageWaitTime:   q.AverageWaitTime,
	}, nil
}

// ListEntries returns the queue's entries in service order. With no
// statuses every entry is returned.
func (s *Service) ListEntries(ctx context.Context, queueID uuid.UUID, statuses ...EntryStatus) ([]Entry, error) {
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEntries(ctx, queueID, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	Rank(entries)
	return entries, nil
}
