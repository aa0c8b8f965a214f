package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidPriority         = errors.New("priority must be a positive integer")
)

// transitions lists the states each action may start from.
var transitions = map[string][]EntryStatus{
	"call":   {StatusWaiting},
	"serve":  {StatusWaiting, StatusCalled},
	"remove": {StatusWaiting, StatusCalled},
}

func validTransition(action string, from EntryStatus) bool {
	for _, s := range transitions[action] {
		if s == from {
			return true
		}
	}
	return false
}

// NewEntry builds a waiting ticket. Priority below 1 is stored as 1.
func NewEntry(queueID, patientID uuid.UUID, priority int, metadata map[string]any, now time.Time) *Entry {
	if priority < 1 {
		priority = 1
	}
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Entry{
		ID:        uuid.New(),
		QueueID:   queueID,
		PatientID: patientID,
		Priority:  priority,
		Status:    StatusWaiting,
		JoinedAt:  now,
		Metadata:  md,
		UpdatedAt: now,
	}
}

func (e *Entry) IsTerminal() bool {
	return e.Status == StatusServed || e.Status == StatusRemoved
}

// Active reports whether the entry still occupies a slot in its queue.
func (e *Entry) Active() bool {
	return e.Status == StatusWaiting || e.Status == StatusCalled
}

// WaitMinutes returns whole minutes elapsed since the patient joined.
func (e *Entry) WaitMinutes(now time.Time) int {
	d := now.Sub(e.JoinedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

func (e *Entry) Call(now time.Time) error {
	if !validTransition("call", e.Status) {
		return ErrInvalidStatusTransition
	}
	t := e.clamp(now)
	e.Status = StatusCalled
	e.CalledAt = &t
	e.UpdatedAt = t
	return nil
}

// Serve finishes the ticket and records the actual wait. An entry served
// straight from waiting gets CalledAt stamped at the same instant.
func (e *Entry) Serve(now time.Time) error {
	if !validTransition("serve", e.Status) {
		return ErrInvalidStatusTransition
	}
	t := e.clamp(now)
	if e.CalledAt == nil {
		e.CalledAt = &t
	}
	waited := e.WaitMinutes(t)
	e.Status = StatusServed
	e.ServedAt = &t
	e.ActualWaitTime = &waited
	e.UpdatedAt = t
	return nil
}

func (e *Entry) Remove(now time.Time, reason string) error {
	if !validTransition("remove", e.Status) {
		return ErrInvalidStatusTransition
	}
	t := e.clamp(now)
	e.Status = StatusRemoved
	e.RemovedAt = &t
	e.UpdatedAt = t
	if reason != "" {
		e.AddNote(t, "removed: "+reason)
	}
	return nil
}

// UpdatePriority changes the ranking value in any state. Allowed-level
// validation only happens at admission.
func (e *Entry) UpdatePriority(priority int, now time.Time) error {
	if priority < 1 {
		return ErrInvalidPriority
	}
	e.Priority = priority
	e.UpdatedAt = now
	return nil
}

// AddNote appends a timestamped line; notes are never rewritten.
func (e *Entry) AddNote(now time.Time, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := "[" + now.UTC().Format(time.RFC3339) + "] " + text
	if e.Notes == "" {
		e.Notes = line
	} else {
		e.Notes += "\n" + line
	}
	e.UpdatedAt = now
}

func (e *Entry) SetMetadata(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}

// clamp keeps joined_at <= called_at <= served_at when the clock moves backwards.
func (e *Entry) clamp(now time.Time) time.Time {
	floor := e.JoinedAt
	if e.CalledAt != nil && e.CalledAt.After(floor) {
		floor = *e.CalledAt
	}
	if now.Before(floor) {
		return floor
	}
	return now
}
