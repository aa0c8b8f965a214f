package queue

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueActive      QueueStatus = "active"
	QueuePaused      QueueStatus = "paused"
	QueueClosed      QueueStatus = "closed"
	QueueMaintenance QueueStatus = "maintenance"
)

type QueueType string

const (
	TypeGeneral     QueueType = "general"
	TypeWalkIn      QueueType = "walk_in"
	TypeAppointment QueueType = "appointment"
	TypeEmergency   QueueType = "emergency"
)

type EntryStatus string

const (
	StatusWaiting EntryStatus = "waiting"
	StatusCalled  EntryStatus = "called"
	StatusServed  EntryStatus = "served"
	StatusRemoved EntryStatus = "removed"
)

// DefaultServiceMinutes is used by the wait estimate when a queue has no average yet.
const DefaultServiceMinutes = 15

type Queue struct {
	ID                uuid.UUID
	ClinicID          uuid.UUID
	Name              string
	Description       string
	Type              QueueType
	Status            QueueStatus
	MaxCapacity       int
	CurrentCount      int
	AverageWaitTime   int // minutes
	EstimatedWaitTime int // minutes
	PriorityLevel     int
	IsActive          bool
	AutoAssign        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Accepting reports whether the queue's operating gate is open for admission.
func (q *Queue) Accepting() bool {
	return q.IsActive && q.Status == QueueActive
}

func (q *Queue) IsWalkIn() bool {
	return q.Type == TypeWalkIn
}

type Entry struct {
	ID                uuid.UUID
	QueueID           uuid.UUID
	PatientID         uuid.UUID
	Priority          int
	Status            EntryStatus
	JoinedAt          time.Time
	CalledAt          *time.Time
	ServedAt          *time.Time
	RemovedAt         *time.Time
	EstimatedWaitTime int
	ActualWaitTime    *int
	Metadata          map[string]any
	Notes             string
	UpdatedAt         time.Time
}

// QueueStats is a per-status breakdown of every entry a queue has ever held.
type QueueStats struct {
	QueueID           uuid.UUID
	Waiting           int
	Called            int
	Served            int
	Removed           int
	CurrentCount      int
	EstimatedWaitTime int
	AverageWaitTime   int
}

type EventLog struct {
	ID        int64
	EventType string
	QueueID   uuid.UUID
	EntryID   *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// NewQueueParams carries the operator supplied attributes of a new queue.
type NewQueueParams struct {
	ClinicID        uuid.UUID
	Name            string
	Description     string
	Type            QueueType
	MaxCapacity     int
	AverageWaitTime int
	PriorityLevel   int
	AutoAssign      bool
}
