package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

type SimConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	AdmitRatio float64
	CallRatio  float64
	ServeRatio float64
	LeaveRatio float64
	ReadRatio  float64
}

// admitted remembers which patients are in which queue so later calls hit real tickets.
type admitted struct {
	QueueID   uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Queues   []uuid.UUID
	mu       sync.Mutex
	patients []admitted
}

func (dp *DataPool) Add(a admitted) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.patients = append(dp.patients, a)
}

// Take removes and returns a random admitted patient.
func (dp *DataPool) Take(rng *rand.Rand) (admitted, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.patients) == 0 {
		return admitted{}, false
	}
	idx := rng.Intn(len(dp.patients))
	a := dp.patients[idx]
	dp.patients[idx] = dp.patients[len(dp.patients)-1]
	dp.patients = dp.patients[:len(dp.patients)-1]
	return a, true
}

func (dp *DataPool) Peek(rng *rand.Rand) (admitted, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.patients) == 0 {
		return admitted{}, false
	}
	return dp.patients[rng.Intn(len(dp.patients))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Admit    OperationMetrics
	CallNext OperationMetrics
	Serve    OperationMetrics
	Leave    OperationMetrics
	Position OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d admit=%.2f call=%.2f serve=%.2f leave=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.AdmitRatio, cfg.CallRatio, cfg.ServeRatio, cfg.LeaveRatio, cfg.ReadRatio)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := sim.loadDataPool(ctx)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	sim.pool = dataPool

	log.Printf("loaded: %d queues", len(dataPool.Queues))

	gofakeit.Seed(time.Now().UnixNano())

	// Run simulation
	sim.Run()

	// Print report
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL: getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:   getDuration("SIM_DURATION", 30*time.Second),
		Workers:    getInt("SIM_WORKERS", 10),
		AdmitRatio: getFloat("SIM_ADMIT_RATIO", 0.4),
		CallRatio:  getFloat("SIM_CALL_RATIO", 0.2),
		ServeRatio: getFloat("SIM_SERVE_RATIO", 0.15),
		LeaveRatio: getFloat("SIM_LEAVE_RATIO", 0.05),
		ReadRatio:  getFloat("SIM_READ_RATIO", 0.2),
	}

	// Normalize ratios
	total := cfg.AdmitRatio + cfg.CallRatio + cfg.ServeRatio + cfg.LeaveRatio + cfg.ReadRatio
	if total > 0 {
		cfg.AdmitRatio /= total
		cfg.CallRatio /= total
		cfg.ServeRatio /= total
		cfg.LeaveRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.APIBaseURL == "" {
		return fmt.Errorf("SIM_API_BASE_URL is required")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+"/queues", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list queues: status %d", resp.StatusCode)
	}

	var queues []struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queues); err != nil {
		return nil, fmt.Errorf("decode queues: %w", err)
	}

	dataPool := &DataPool{}
	for _, q := range queues {
		if q.Status == "active" {
			dataPool.Queues = append(dataPool.Queues, q.ID)
		}
	}
	if len(dataPool.Queues) == 0 {
		return nil, fmt.Errorf("no active queues loaded, run the seed first")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	kioskID := fmt.Sprintf("sim-kiosk-%d", workerID)
	c := s.config

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < c.AdmitRatio:
				s.doAdmit(ctx, rng, kioskID)
			case r < c.AdmitRatio+c.CallRatio:
				s.doCallNext(ctx, rng)
			case r < c.AdmitRatio+c.CallRatio+c.ServeRatio:
				s.doServe(ctx, rng)
			case r < c.AdmitRatio+c.CallRatio+c.ServeRatio+c.LeaveRatio:
				s.doLeave(ctx, rng)
			default:
				s.doPosition(ctx, rng)
			}
		}
	}
}

// do sends a request and classifies the response: 2xx success, 409/429 conflict.
func (s *Simulator) do(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, latency, nil
}

func record(om *OperationMetrics, status int, latency time.Duration, err error) {
	success := err == nil && status >= 200 && status < 300
	conflict := err == nil && (status == http.StatusConflict || status == http.StatusTooManyRequests || status == http.StatusForbidden)
	om.Record(latency, success, conflict)
}

func (s *Simulator) randomQueue(rng *rand.Rand) uuid.UUID {
	return s.pool.Queues[rng.Intn(len(s.pool.Queues))]
}

func (s *Simulator) doAdmit(ctx context.Context, rng *rand.Rand, kioskID string) {
	queueID := s.randomQueue(rng)
	patientID := uuid.New()

	body := map[string]any{
		"patient_id": patientID.String(),
		"priority":   rng.Intn(6) + 1, // 6 exercises coercion
		"metadata": map[string]any{
			"name":  gofakeit.Name(),
			"phone": gofakeit.Phone(),
		},
	}
	status, _, latency, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/queues/%s/entries", s.config.APIBaseURL, queueID), body,
		map[string]string{"X-Kiosk-ID": kioskID})

	if err == nil && status == http.StatusCreated {
		s.pool.Add(admitted{QueueID: queueID, PatientID: patientID})
	}
	record(&s.metrics.Admit, status, latency, err)
}

func (s *Simulator) doCallNext(ctx context.Context, rng *rand.Rand) {
	queueID := s.randomQueue(rng)
	status, _, latency, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/queues/%s/call-next", s.config.APIBaseURL, queueID), nil, nil)
	record(&s.metrics.CallNext, status, latency, err)
}

func (s *Simulator) doServe(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.Take(rng)
	if !ok {
		return
	}
	status, _, latency, err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/queues/%s/patients/%s/serve", s.config.APIBaseURL, a.QueueID, a.PatientID), nil, nil)
	record(&s.metrics.Serve, status, latency, err)
}

func (s *Simulator) doLeave(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.Take(rng)
	if !ok {
		return
	}
	status, _, latency, err := s.do(ctx, http.MethodDelete,
		fmt.Sprintf("%s/queues/%s/patients/%s", s.config.APIBaseURL, a.QueueID, a.PatientID), nil, nil)
	record(&s.metrics.Leave, status, latency, err)
}

func (s *Simulator) doPosition(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.Peek(rng)
	if !ok {
		return
	}
	status, _, latency, err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/queues/%s/patients/%s/position", s.config.APIBaseURL, a.QueueID, a.PatientID), nil, nil)
	// a called or served patient has no position; that is not a failure
	if err == nil && status == http.StatusNotFound {
		status = http.StatusOK
	}
	record(&s.metrics.Position, status, latency, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Queues: %d\n", len(s.pool.Queues))
	fmt.Println()

	printOperationReport("Admit", &s.metrics.Admit)
	printOperationReport("Call next", &s.metrics.CallNext)
	printOperationReport("Serve", &s.metrics.Serve)
	printOperationReport("Leave", &s.metrics.Leave)
	printOperationReport("Position", &s.metrics.Position)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errs := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errs > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errs, float64(errs)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
