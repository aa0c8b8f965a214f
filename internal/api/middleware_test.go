package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func limiterHandler(k *KioskLimiter) http.Handler {
	return k.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
}

func checkIn(h http.Handler, remote, kiosk string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/entries", nil)
	req.RemoteAddr = remote
	if kiosk != "" {
		req.Header.Set("X-Kiosk-ID", kiosk)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestKioskLimiterRotatingHeaderStaysThrottled(t *testing.T) {
	k := NewKioskLimiter(1, 1)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return now }
	h := limiterHandler(k)

	admitted := 0
	for i := 0; i < 1000; i++ {
		if checkIn(h, "10.0.0.1:5000", fmt.Sprintf("kiosk-%d", i)).Code == http.StatusCreated {
			admitted++
		}
	}
	assert.Equal(t, kioskFanout, admitted)

	rec := checkIn(h, "10.0.0.1:5000", "kiosk-new")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.LessOrEqual(t, k.size(), kioskFanout+1)

	assert.Equal(t, http.StatusCreated, checkIn(h, "10.0.0.2:5000", "kiosk-0").Code)
}

func TestKioskLimiterPerKioskBudget(t *testing.T) {
	k := NewKioskLimiter(1, 2)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return now }
	h := limiterHandler(k)

	assert.Equal(t, http.StatusCreated, checkIn(h, "10.0.0.1:5000", "lobby-1").Code)
	assert.Equal(t, http.StatusCreated, checkIn(h, "10.0.0.1:5000", "lobby-1").Code)
	assert.Equal(t, http.StatusTooManyRequests, checkIn(h, "10.0.0.1:5000", "lobby-1").Code)
	assert.Equal(t, http.StatusCreated, checkIn(h, "10.0.0.1:5000", "lobby-2").Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusCreated, checkIn(h, "10.0.0.1:5000", "lobby-1").Code)
}

func TestKioskLimiterSweepsIdleClients(t *testing.T) {
	k := NewKioskLimiter(1, 1)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	k.now = func() time.Time { return now }
	h := limiterHandler(k)

	for i := 0; i < 50; i++ {
		checkIn(h, fmt.Sprintf("10.0.1.%d:5000", i), "lobby")
	}
	assert.Equal(t, 100, k.size())

	now = now.Add(limiterIdleTTL)
	checkIn(h, "10.0.2.1:5000", "")
	assert.Equal(t, 1, k.size())
}
