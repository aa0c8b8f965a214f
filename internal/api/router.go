package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-patient-flow/internal/events"
	"github.com/hackgods/clinic-patient-flow/internal/queue"
	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

type RouterConfig struct {
	Service      *queue.Service
	Settings     settings.Provider // nil disables the settings endpoints
	Writer       settings.Writer
	Notifier     *events.Notifier
	Metrics      *Metrics
	KioskLimiter *KioskLimiter
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = events.NewNotifier(nil)
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(cfg.Metrics.Middleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	h := &queueHandlers{svc: cfg.Service, notify: cfg.Notifier, metrics: cfg.Metrics}

	// Queue endpoints
	r.Route("/queues", func(r chi.Router) {
		r.Post("/", h.createQueue)
		r.Get("/", h.listQueues)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getQueue)
			r.Get("/stats", h.queueStats)
			r.Post("/pause", h.queueAction("paused", cfg.Service.Pause))
			r.Post("/resume", h.queueAction("resumed", cfg.Service.Resume))
			r.Post("/close", h.queueAction("closed", cfg.Service.Close))
			r.Post("/open", h.queueAction("opened", cfg.Service.Open))
			r.Post("/maintenance", h.queueAction("maintenance", cfg.Service.Maintenance))
			r.Put("/active", h.setActive)
			r.Post("/wait-time", h.refreshWaitTime)

			r.With(cfg.KioskLimiter.Middleware).Post("/entries", h.addEntry)
			r.Get("/entries", h.listEntries)
			r.Get("/next", h.nextEntry)
			r.Post("/call-next", h.callNext)

			r.Post("/patients/{patientID}/serve", h.servePatient)
			r.Delete("/patients/{patientID}", h.removePatient)
			r.Get("/patients/{patientID}/position", h.patientPosition)
		})
	})

	// Entry endpoints
	r.Route("/entries/{id}", func(r chi.Router) {
		r.Get("/", h.getEntry)
		r.Get("/position", h.entryPosition)
		r.Post("/call", h.entryAction("entry_called", true, h.callEntry))
		r.Post("/serve", h.entryAction("entry_served", true, h.serveEntry))
		r.Post("/remove", h.entryAction("entry_removed", true, h.removeEntry))
		r.Patch("/priority", h.entryAction("entry_priority", false, h.updatePriority))
		r.Post("/notes", h.entryAction("entry_note", false, h.addNote))
		r.Patch("/metadata", h.entryAction("entry_metadata", false, h.setMetadata))
	})

	// Clinic settings
	if cfg.Settings != nil {
		sh := &settingsHandlers{provider: cfg.Settings, writer: cfg.Writer}
		r.Get("/clinics/{clinicID}/settings", sh.get)
		r.Put("/clinics/{clinicID}/settings/{key}", sh.put)
	}

	return r
}
