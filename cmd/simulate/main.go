package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
)

var reasons = []string{"follow-up", "annual check", "chest pain", "lab results", "prescription renewal"}

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Targets      int     // distinct practitioner/slot pairs everyone competes for
	CancelRatio  float64 // share of operations that cancel a booked appointment
	ConfirmRatio float64
	PostgresDSN  string
}

// target is one contested slot.
type target struct {
	PractitionerID string
	DepartmentID   string
	HospitalID     string
	At             time.Time
}

type DataPool struct {
	Targets      []target
	mu           sync.RWMutex
	appointments []bookedRef
}

// bookedRef is a created appointment and the practitioner it landed with.
type bookedRef struct {
	ID             string `json:"id"`
	PractitionerID string `json:"practitioner_id"`
}

func (dp *DataPool) AddAppointment(ref bookedRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0
	}
	l := make([]time.Duration, len(om.Latencies))
	copy(l, om.Latencies)
	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })

	return l[len(l)*50/100], l[min(len(l)*95/100, len(l)-1)]
}

type Metrics struct {
	Booking OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		l := logging.New("prod", "info")
		l.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(base.Env, base.LogLevel).With().Str("service", "simulate").Logger()

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		Targets:      getInt("SIM_TARGETS", 25),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		PostgresDSN:  base.PostgresDSN,
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 || cfg.Targets <= 0 {
		logger.Fatal().Msg("SIM_WORKERS, SIM_DURATION and SIM_TARGETS must be > 0")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("targets", cfg.Targets).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = logger.WithContext(ctx)

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, base.Location())
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("targets", len(dataPool.Targets)).Msg("contested slots loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run(logger.WithContext(context.Background()))
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	overlaps, err := findOverlaps(verifyCtx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify")
	}
	if overlaps > 0 {
		logger.Error().Int("overlapping_pairs", overlaps).Msg("double booking detected")
		os.Exit(1)
	}
	logger.Info().Msg("no double booking detected")
}

// loadDataPool picks future slots on each practitioner's working hours. All
// workers aim at the same few slots so the booking path is contended.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, loc *time.Location) (*DataPool, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, department_id, hospital_id, COALESCE(start_time, '09:00')
		FROM practitioners
		WHERE active
		ORDER BY random()
		LIMIT $1
	`, cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	defer rows.Close()

	dp := &DataPool{}
	tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
	for rows.Next() {
		var t target
		var start string
		if err := rows.Scan(&t.PractitionerID, &t.DepartmentID, &t.HospitalID, &start); err != nil {
			return nil, err
		}
		hh, mm := 9, 0
		if parts := strings.Split(start, ":"); len(parts) >= 2 {
			hh, _ = strconv.Atoi(parts[0])
			mm, _ = strconv.Atoi(parts[1])
		}
		day := tomorrow.AddDate(0, 0, gofakeit.Number(0, 6))
		t.At = time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc).Add(time.Hour)
		dp.Targets = append(dp.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no active practitioners, run cmd/seed first")
	}
	return dp, nil
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	zerolog.Ctx(ctx).Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.CancelRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				s.doBooking(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]

	body, _ := json.Marshal(map[string]any{
		"patient_id":      fmt.Sprintf("PAT-%06d", gofakeit.Number(1, 999999)),
		"practitioner_id": t.PractitionerID,
		"department_id":   t.DepartmentID,
		"hospital_id":     t.HospitalID,
		"scheduled_at":    t.At.Format(time.RFC3339),
		"reason":          reasons[rng.Intn(len(reasons))],
	})

	start := time.Now()
	status, ref := s.post(ctx, "/appointments", body)
	latency := time.Since(start)

	if status == http.StatusCreated && ref.ID != "" {
		s.pool.AddAppointment(ref)
	}
	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _ := s.post(ctx, "/appointments/"+ref.ID+"/confirm", []byte(`{"actor_id":"sim"}`))
	s.metrics.Confirm.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	// Only the assigned practitioner's cancel triggers reassignment.
	actor, actorID := "patient", "sim"
	if rng.Intn(2) == 0 {
		actor, actorID = "practitioner", ref.PractitionerID
	}
	body, _ := json.Marshal(map[string]string{"actor": actor, "actor_id": actorID, "reason": "simulated cancellation"})

	start := time.Now()
	status, _ := s.post(ctx, "/appointments/"+ref.ID+"/cancel", body)
	s.metrics.Cancel.Record(time.Since(start), status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte) (int, bookedRef) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, bookedRef{}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, bookedRef{}
	}
	defer resp.Body.Close()

	var out bookedRef
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// findOverlaps counts pairs of occupying appointments for one practitioner
// whose intervals intersect. Emergency bookings are excluded since they may
// overlap by design.
func findOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.practitioner_id = b.practitioner_id
		 AND a.id < b.id
		 AND a.scheduled_at < b.scheduled_at + make_interval(mins => b.duration_minutes)
		 AND b.scheduled_at < a.scheduled_at + make_interval(mins => a.duration_minutes)
		WHERE a.status IN ('pending', 'confirmed', 'in_progress')
		  AND b.status IN ('pending', 'confirmed', 'in_progress')
		  AND a.priority <> 'emergency'
		  AND b.priority <> 'emergency'
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95 := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: p50=%s p95=%s\n", p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

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
