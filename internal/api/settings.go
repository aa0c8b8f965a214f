package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

type settingsHandlers struct {
	provider settings.Provider
	writer   settings.Writer
}

func (h *settingsHandlers) get(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := parseIDParam(w, r, "clinicID", "invalid_clinic_id")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		ClinicID: clinicID,
		Values:   settings.Effective(r.Context(), h.provider, clinicID),
	})
}

// put stores one tunable. The nil clinic id writes the global default.
func (h *settingsHandlers) put(w http.ResponseWriter, r *http.Request) {
	clinicID, ok := parseIDParam(w, r, "clinicID", "invalid_clinic_id")
	if !ok {
		return
	}
	if h.writer == nil {
		writeError(w, http.StatusNotImplemented, "settings_read_only", "settings store does not accept writes")
		return
	}
	var req SettingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "key")
	value, err := settings.Normalize(key, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, settings.ErrUnknownKey):
			writeError(w, http.StatusNotFound, "unknown_setting", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "invalid_setting_value", err.Error())
		}
		return
	}

	if err := h.writer.Put(r.Context(), clinicID, key, value); err != nil {
		log.Printf("failed to store setting key=%s clinic_id=%s: %v", key, clinicID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not store setting")
		return
	}
	log.Printf("setting updated key=%s clinic_id=%s value=%s", key, clinicID, value)

	writeJSON(w, http.StatusOK, SettingsResponse{
		ClinicID: clinicID,
		Values:   settings.Effective(r.Context(), h.provider, clinicID),
	})
}
