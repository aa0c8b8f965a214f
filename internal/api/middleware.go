package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Printf(
			"method=%s path=%s status=%d duration=%s request_id=%s",
			r.Method,
			r.URL.Path,
			wrapped.statusCode,
			time.Since(start),
			GetRequestID(r.Context()),
		)
	})
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// kioskFanout is how many kiosk budgets one remote host gets in total.
const kioskFanout = 8

// limiterIdleTTL is how long an unused limiter is kept before it is swept.
const limiterIdleTTL = 5 * time.Minute

type trackedLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// KioskLimiter throttles admissions so a stuck kiosk cannot fill a queue. Each
// remote host has an aggregate budget and each kiosk behind it its own, and a
// request must pass both. Limiters idle for limiterIdleTTL are dropped.
type KioskLimiter struct {
	mu        sync.Mutex
	hosts     map[string]*trackedLimiter
	kiosks    map[string]*trackedLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// NewKioskLimiter returns nil when perSecond is not positive; a nil limiter lets every request through.
func NewKioskLimiter(perSecond float64, burst int) *KioskLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &KioskLimiter{
		hosts:  make(map[string]*trackedLimiter),
		kiosks: make(map[string]*trackedLimiter),
		limit:  rate.Limit(perSecond),
		burst:  burst,
		now:    time.Now,
	}
}

func (k *KioskLimiter) allow(host, kiosk string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.sweep(now)

	h := k.limiter(k.hosts, host, k.limit*kioskFanout, k.burst*kioskFanout, now)
	if !h.AllowN(now, 1) {
		return false
	}
	if kiosk == "" {
		return true
	}
	return k.limiter(k.kiosks, host+"|"+kiosk, k.limit, k.burst, now).AllowN(now, 1)
}

func (k *KioskLimiter) limiter(m map[string]*trackedLimiter, key string, limit rate.Limit, burst int, now time.Time) *trackedLimiter {
	l, ok := m[key]
	if !ok {
		l = &trackedLimiter{Limiter: rate.NewLimiter(limit, burst)}
		m[key] = l
	}
	l.lastSeen = now
	return l
}

func (k *KioskLimiter) sweep(now time.Time) {
	if now.Sub(k.lastSweep) < limiterIdleTTL {
		return
	}
	k.lastSweep = now
	for _, m := range []map[string]*trackedLimiter{k.hosts, k.kiosks} {
		for key, l := range m {
			if now.Sub(l.lastSeen) >= limiterIdleTTL {
				delete(m, key)
			}
		}
	}
}

// size reports how many limiters are tracked.
func (k *KioskLimiter) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.hosts) + len(k.kiosks)
}

// Middleware keys clients by remote host and, within a host, by the X-Kiosk-ID header.
func (k *KioskLimiter) Middleware(next http.Handler) http.Handler {
	if k == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !k.allow(host, r.Header.Get("X-Kiosk-ID")) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many check-ins from this client, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
