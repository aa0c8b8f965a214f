package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	admissions  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	waitMinutes *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_queue_admissions_total",
			Help: "Admission attempts by outcome (admitted, unavailable, full, walk_ins_disabled, error).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_queue_entry_transitions_total",
			Help: "Entry status transitions by target status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_queue_current_count",
			Help: "Entries currently holding a slot, per queue.",
		}, []string{"queue_id"}),
		waitMinutes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_queue_estimated_wait_minutes",
			Help: "Current estimated wait per queue.",
		}, []string{"queue_id"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.requests, m.duration, m.admissions, m.transitions, m.queueDepth, m.waitMinutes,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) observeAdmission(outcome string) {
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) observeQueue(queueID string, count, wait int) {
	m.queueDepth.WithLabelValues(queueID).Set(float64(count))
	m.waitMinutes.WithLabelValues(queueID).Set(float64(wait))
}
