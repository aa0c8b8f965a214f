package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrQueueNotFound = errors.New("queue not found")
	ErrEntryNotFound = errors.New("entry not found")
)

// Repository contains all storage interactions needed by the service.
type Repository interface {
	CreateQueue(ctx context.Context, q *Queue) error
	GetQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	// LockQueue loads a queue for update inside WithTx.
	LockQueue(ctx context.Context, id uuid.UUID) (*Queue, error)
	// ListQueues returns every queue when clinicID is uuid.Nil.
	ListQueues(ctx context.Context, clinicID uuid.UUID) ([]Queue, error)
	UpdateQueue(ctx context.Context, q *Queue) error

	InsertEntry(ctx context.Context, e *Entry) error
	UpdateEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	FindWaitingByQueue(ctx context.Context, queueID uuid.UUID) ([]Entry, error)
	// FindLatestPatientEntry returns the most recently joined entry of the
	// patient whose status is one of statuses, or ErrEntryNotFound. Ties on
	// joined_at go to the entry inserted last.
	FindLatestPatientEntry(ctx context.Context, queueID, patientID uuid.UUID, statuses ...EntryStatus) (*Entry, error)
	// ListEntries with no statuses returns every entry of the queue.
	ListEntries(ctx context.Context, queueID uuid.UUID, statuses ...EntryStatus) ([]Entry, error)
	ListServedSince(ctx context.Context, queueID uuid.UUID, since time.Time) ([]Entry, error)
	CountByStatus(ctx context.Context, queueID uuid.UUID) (map[EntryStatus]int, error)

	InsertEvent(ctx context.Context, ev EventLog) error

	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
