package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-patient-flow/internal/queue"
)

type CreateQueueRequest struct {
	ClinicID        string `json:"clinic_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	QueueType       string `json:"queue_type"`
	MaxCapacity     int    `json:"max_capacity"`
	AverageWaitTime int    `json:"average_wait_time"`
	PriorityLevel   int    `json:"priority_level"`
	AutoAssign      bool   `json:"auto_assign"`
}

type AddEntryRequest struct {
	PatientID string         `json:"patient_id"`
	Priority  int            `json:"priority"`
	Metadata  map[string]any `json:"metadata"`
}

type RemoveEntryRequest struct {
	Reason string `json:"reason"`
}

type UpdatePriorityRequest struct {
	Priority int `json:"priority"`
}

type AddNoteRequest struct {
	Note string `json:"note"`
}

type MetadataRequest struct {
	Metadata map[string]any `json:"metadata"`
}

type SettingRequest struct {
	Value string `json:"value"`
}

type SettingsResponse struct {
	ClinicID uuid.UUID      `json:"clinic_id"`
	Values   map[string]any `json:"values"`
}

type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type QueueResponse struct {
	ID                uuid.UUID `json:"id"`
	ClinicID          uuid.UUID `json:"clinic_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	QueueType         string    `json:"queue_type"`
	Status            string    `json:"status"`
	MaxCapacity       int       `json:"max_capacity"`
	CurrentCount      int       `json:"current_count"`
	AverageWaitTime   int       `json:"average_wait_time"`
	EstimatedWaitTime int       `json:"estimated_wait_time"`
	PriorityLevel     int       `json:"priority_level"`
	IsActive          bool      `json:"is_active"`
	AutoAssign        bool      `json:"auto_assign"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type EntryResponse struct {
	ID                uuid.UUID      `json:"id"`
	QueueID           uuid.UUID      `json:"queue_id"`
	PatientID         uuid.UUID      `json:"patient_id"`
	Priority          int            `json:"priority"`
	Status            string         `json:"status"`
	JoinedAt          time.Time      `json:"joined_at"`
	CalledAt          *time.Time     `json:"called_at,omitempty"`
	ServedAt          *time.Time     `json:"served_at,omitempty"`
	RemovedAt         *time.Time     `json:"removed_at,omitempty"`
	EstimatedWaitTime int            `json:"estimated_wait_time"`
	ActualWaitTime    *int           `json:"actual_wait_time,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

type PositionResponse struct {
	QueueID   uuid.UUID `json:"queue_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Ahead     int       `json:"ahead"`
}

type ResultResponse struct {
	OK bool `json:"ok"`
}

type StatsResponse struct {
	QueueID           uuid.UUID `json:"queue_id"`
	Waiting           int       `json:"waiting"`
	Called            int       `json:"called"`
	Served            int       `json:"served"`
	Removed           int       `json:"removed"`
	CurrentCount      int       `json:"current_count"`
	EstimatedWaitTime int       `json:"estimated_wait_time"`
	AverageWaitTime   int       `json:"average_wait_time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toQueueResponse(q *queue.Queue) QueueResponse {
	return QueueResponse{
		ID:                q.ID,
		ClinicID:          q.ClinicID,
		Name:              q.Name,
		Description:       q.Description,
		QueueType:         string(q.Type),
		Status:            string(q.Status),
		MaxCapacity:       q.MaxCapacity,
		CurrentCount:      q.CurrentCount,
		AverageWaitTime:   q.AverageWaitTime,
		EstimatedWaitTime: q.EstimatedWaitTime,
		PriorityLevel:     q.PriorityLevel,
		IsActive:          q.IsActive,
		AutoAssign:        q.AutoAssign,
		CreatedAt:         q.CreatedAt,
		UpdatedAt:         q.UpdatedAt,
	}
}

func toEntryResponse(e *queue.Entry) EntryResponse {
	return EntryResponse{
		ID:                e.ID,
		QueueID:           e.QueueID,
		PatientID:         e.PatientID,
		Priority:          e.Priority,
		Status:            string(e.Status),
		JoinedAt:          e.JoinedAt,
		CalledAt:          e.CalledAt,
		ServedAt:          e.ServedAt,
		RemovedAt:         e.RemovedAt,
		EstimatedWaitTime: e.EstimatedWaitTime,
		ActualWaitTime:    e.ActualWaitTime,
		Metadata:          e.Metadata,
		Notes:             e.Notes,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
