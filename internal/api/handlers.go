package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-patient-flow/internal/events"
	"github.com/hackgods/clinic-patient-flow/internal/queue"
)

type queueHandlers struct {
	svc     *queue.Service
	notify  *events.Notifier
	metrics *Metrics
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// afterChange publishes the new queue state and refreshes the gauges.
func (h *queueHandlers) afterChange(ctx context.Context, queueID uuid.UUID, action string, e *queue.Entry) {
	q, err := h.svc.GetQueue(ctx, queueID)
	if err != nil {
		log.Printf("failed to reload queue %s after %s: %v", queueID, action, err)
		return
	}
	h.metrics.observeQueue(q.ID.String(), q.CurrentCount, q.EstimatedWaitTime)

	msg := events.QueueChanged{
		QueueID:           q.ID,
		Action:            action,
		CurrentCount:      q.CurrentCount,
		EstimatedWaitTime: q.EstimatedWaitTime,
	}
	if e != nil {
		entryID, patientID := e.ID, e.PatientID
		msg.EntryID = &entryID
		msg.PatientID = &patientID
		msg.Status = string(e.Status)
	}
	h.notify.QueueChanged(ctx, msg)
}

// Queues

func (h *queueHandlers) createQueue(w http.ResponseWriter, r *http.Request) {
	var req CreateQueueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	clinicID, err := uuid.Parse(req.ClinicID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
		return
	}

	q, err := h.svc.CreateQueue(r.Context(), queue.NewQueueParams{
		ClinicID:        clinicID,
		Name:            req.Name,
		Description:     req.Description,
		Type:            queue.QueueType(req.QueueType),
		MaxCapacity:     req.MaxCapacity,
		AverageWaitTime: req.AverageWaitTime,
		PriorityLevel:   req.PriorityLevel,
		AutoAssign:      req.AutoAssign,
	})
	if err != nil {
		handleQueueError(w, err)
		return
	}

	h.metrics.observeQueue(q.ID.String(), q.CurrentCount, q.EstimatedWaitTime)
	writeJSON(w, http.StatusCreated, toQueueResponse(q))
}

func (h *queueHandlers) listQueues(w http.ResponseWriter, r *http.Request) {
	clinicID := uuid.Nil
	if raw := r.URL.Query().Get("clinic_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		clinicID = id
	}

	queues, err := h.svc.ListQueues(r.Context(), clinicID)
	if err != nil {
		handleQueueError(w, err)
		return
	}

	resp := make([]QueueResponse, 0, len(queues))
	for i := range queues {
		resp = append(resp, toQueueResponse(&queues[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *queueHandlers) getQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	q, err := h.svc.GetQueue(r.Context(), id)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueResponse(q))
}

func (h *queueHandlers) queueStats(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	st, err := h.svc.Stats(r.Context(), id)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		QueueID:           st.QueueID,
		Waiting:           st.Waiting,
		Called:            st.Called,
		Served:            st.Served,
		Removed:           st.Removed,
		CurrentCount:      st.CurrentCount,
		EstimatedWaitTime: st.EstimatedWaitTime,
		AverageWaitTime:   st.AverageWaitTime,
	})
}

// queueAction adapts an operator transition (pause, resume, ...) to a handler.
func (h *queueHandlers) queueAction(action string, fn func(ctx context.Context, id uuid.UUID) (*queue.Queue, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "invalid_queue_id")
		if !ok {
			return
		}
		q, err := fn(r.Context(), id)
		if err != nil {
			handleQueueError(w, err)
			return
		}
		h.afterChange(r.Context(), q.ID, action, nil)
		writeJSON(w, http.StatusOK, toQueueResponse(q))
	}
}

func (h *queueHandlers) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := h.svc.SetActive(r.Context(), id, req.IsActive)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	h.afterChange(r.Context(), q.ID, "active", nil)
	writeJSON(w, http.StatusOK, toQueueResponse(q))
}

// Entries by queue

func (h *queueHandlers) addEntry(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	var req AddEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	if req.Priority == 0 {
		req.Priority = 1
	}

	e, err := h.svc.AddEntry(r.Context(), queueID, patientID, req.Priority, req.Metadata)
	if err != nil {
		h.metrics.observeAdmission(admissionOutcome(err))
		handleQueueError(w, err)
		return
	}
	h.metrics.observeAdmission("admitted")

	h.afterChange(r.Context(), queueID, "entry_added", e)
	writeJSON(w, http.StatusCreated, toEntryResponse(e))
}

func (h *queueHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}

	var statuses []queue.EntryStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := queue.EntryStatus(strings.TrimSpace(s))
			switch st {
			case queue.StatusWaiting, queue.StatusCalled, queue.StatusServed, queue.StatusRemoved:
				statuses = append(statuses, st)
			default:
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown status "+string(st))
				return
			}
		}
	}

	entries, err := h.svc.ListEntries(r.Context(), queueID, statuses...)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	resp := make([]EntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toEntryResponse(&entries[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *queueHandlers) nextEntry(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	e, err := h.svc.GetNextEntry(r.Context(), queueID)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	if e == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(e))
}

func (h *queueHandlers) callNext(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	e, err := h.svc.CallNext(r.Context(), queueID)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	if e == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.metrics.observeTransition(string(e.Status))
	h.afterChange(r.Context(), queueID, "call_next", e)
	writeJSON(w, http.StatusOK, toEntryResponse(e))
}

func (h *queueHandlers) servePatient(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	patientID, ok := parseIDParam(w, r, "patientID", "invalid_patient_id")
	if !ok {
		return
	}
	served, err := h.svc.ServeEntry(r.Context(), queueID, patientID)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	if served {
		h.metrics.observeTransition(string(queue.StatusServed))
		h.afterChange(r.Context(), queueID, "entry_served", nil)
	}
	writeJSON(w, http.StatusOK, ResultResponse{OK: served})
}

func (h *queueHandlers) removePatient(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	patientID, ok := parseIDParam(w, r, "patientID", "invalid_patient_id")
	if !ok {
		return
	}
	removed, err := h.svc.RemoveEntry(r.Context(), queueID, patientID)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	if removed {
		h.metrics.observeTransition(string(queue.StatusRemoved))
		h.afterChange(r.Context(), queueID, "entry_removed", nil)
	}
	writeJSON(w, http.StatusOK, ResultResponse{OK: removed})
}

func (h *queueHandlers) patientPosition(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	patientID, ok := parseIDParam(w, r, "patientID", "invalid_patient_id")
	if !ok {
		return
	}
	ahead, waiting, err := h.svc.GetQueuePosition(r.Context(), queueID, patientID)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	if !waiting {
		writeError(w, http.StatusNotFound, "not_waiting", "patient has no waiting entry in this queue")
		return
	}
	writeJSON(w, http.StatusOK, PositionResponse{QueueID: queueID, PatientID: patientID, Ahead: ahead})
}

func (h *queueHandlers) refreshWaitTime(w http.ResponseWriter, r *http.Request) {
	queueID, ok := parseIDParam(w, r, "id", "invalid_queue_id")
	if !ok {
		return
	}
	q, err := h.svc.UpdateWaitTime(r.Context(), queueID)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	h.metrics.observeQueue(q.ID.String(), q.CurrentCount, q.EstimatedWaitTime)
	writeJSON(w, http.StatusOK, toQueueResponse(q))
}

// Entries by id

func (h *queueHandlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invalid_entry_id")
	if !ok {
		return
	}
	e, err := h.svc.GetEntry(r.Context(), id)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(e))
}

func (h *queueHandlers) entryPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id", "invalid_entry_id")
	if !ok {
		return
	}
	ahead, waiting, err := h.svc.EntryPosition(r.Context(), id)
	if err != nil {
		handleQueueError(w, err)
		return
	}
	if !waiting {
		writeError(w, http.StatusNotFound, "not_waiting", "entry is not waiting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ahead": ahead})
}

// entryAction adapts a by-id entry operation to a handler. transition marks
// actions that change the entry's status.
func (h *queueHandlers) entryAction(action string, transition bool, fn func(ctx context.Context, r *http.Request, id uuid.UUID) (*queue.Entry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id", "invalid_entry_id")
		if !ok {
			return
		}
		e, err := fn(r.Context(), r, id)
		if err != nil {
			var bad *badRequest
			if errors.As(err, &bad) {
				writeError(w, http.StatusBadRequest, bad.code, bad.details)
				return
			}
			handleQueueError(w, err)
			return
		}
		if transition {
			h.metrics.observeTransition(string(e.Status))
		}
		h.afterChange(r.Context(), e.QueueID, action, e)
		writeJSON(w, http.StatusOK, toEntryResponse(e))
	}
}

type badRequest struct {
	code    string
	details string
}

func (b *badRequest) Error() string { return b.code + ": " + b.details }

func decodeInto(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &badRequest{code: "invalid_request_body", details: "could not parse JSON"}
	}
	return nil
}

func (h *queueHandlers) callEntry(ctx context.Context, _ *http.Request, id uuid.UUID) (*queue.Entry, error) {
	return h.svc.CallEntry(ctx, id)
}

func (h *queueHandlers) serveEntry(ctx context.Context, _ *http.Request, id uuid.UUID) (*queue.Entry, error) {
	return h.svc.ServeEntryByID(ctx, id)
}

func (h *queueHandlers) removeEntry(ctx context.Context, r *http.Request, id uuid.UUID) (*queue.Entry, error) {
	var req RemoveEntryRequest
	if r.ContentLength != 0 {
		if err := decodeInto(r, &req); err != nil {
			return nil, err
		}
	}
	return h.svc.RemoveEntryByID(ctx, id, req.Reason)
}

func (h *queueHandlers) updatePriority(ctx context.Context, r *http.Request, id uuid.UUID) (*queue.Entry, error) {
	var req UpdatePriorityRequest
	if err := decodeInto(r, &req); err != nil {
		return nil, err
	}
	return h.svc.UpdateEntryPriority(ctx, id, req.Priority)
}

func (h *queueHandlers) addNote(ctx context.Context, r *http.Request, id uuid.UUID) (*queue.Entry, error) {
	var req AddNoteRequest
	if err := decodeInto(r, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Note) == "" {
		return nil, &badRequest{code: "invalid_note", details: "note must not be empty"}
	}
	return h.svc.AddEntryNote(ctx, id, req.Note)
}

func (h *queueHandlers) setMetadata(ctx context.Context, r *http.Request, id uuid.UUID) (*queue.Entry, error) {
	var req MetadataRequest
	if err := decodeInto(r, &req); err != nil {
		return nil, err
	}
	if len(req.Metadata) == 0 {
		return nil, &badRequest{code: "invalid_metadata", details: "metadata must not be empty"}
	}
	return h.svc.SetEntryMetadata(ctx, id, req.Metadata)
}

func admissionOutcome(err error) string {
	switch {
	case errors.Is(err, queue.ErrQueueUnavailable):
		return "unavailable"
	case errors.Is(err, queue.ErrQueueFull):
		return "full"
	case errors.Is(err, queue.ErrWalkInsDisabled):
		return "walk_ins_disabled"
	default:
		return "error"
	}
}

func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueNotFound):
		writeError(w, http.StatusNotFound, "queue_not_found", err.Error())
	case errors.Is(err, queue.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "entry_not_found", err.Error())
	case errors.Is(err, queue.ErrInvalidQueue):
		writeError(w, http.StatusBadRequest, "invalid_queue", err.Error())
	case errors.Is(err, queue.ErrInvalidPriority):
		writeError(w, http.StatusBadRequest, "invalid_priority", err.Error())
	case errors.Is(err, queue.ErrQueueUnavailable):
		writeError(w, http.StatusConflict, "queue_unavailable", err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusConflict, "queue_full", err.Error())
	case errors.Is(err, queue.ErrWalkInsDisabled):
		writeError(w, http.StatusForbidden, "walk_ins_disabled", err.Error())
	case errors.Is(err, queue.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, queue.ErrQueueBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "queue_busy", "queue is currently being updated, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
