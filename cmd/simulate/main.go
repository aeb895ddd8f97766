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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type SimConfig struct {
	APIBaseURL     string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
	Duration       time.Duration `envconfig:"DURATION" default:"30s"`
	Workers        int           `envconfig:"WORKERS" default:"10"`
	BookingRatio   float64       `envconfig:"BOOKING_RATIO" default:"0.5"`
	CancelRatio    float64       `envconfig:"CANCEL_RATIO" default:"0.1"`
	ReadRatio      float64       `envconfig:"READ_RATIO" default:"0.4"`
	PatientLimit   int           `envconfig:"PATIENT_LIMIT" default:"2000"`
	DoctorLimit    int           `envconfig:"DOCTOR_LIMIT" default:"40"`
	DaysAhead      int           `envconfig:"DAYS_AHEAD" default:"14"`
	ContentionSize int           `envconfig:"CONTENTION_SIZE" default:"50"`
}

type participant struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients []participant
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []booked
}

type booked struct {
	ID      uuid.UUID
	Patient participant
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
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

func (om *OperationMetrics) Stats() (avg, p50, p95, p99, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), at(50), at(95), at(99), latencies[len(latencies)-1]
}

type Metrics struct {
	Resolve OperationMetrics
	Booking OperationMetrics
	Cancel  OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	log := logging.New("dev", "info", "simulate")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load base config")
	}

	var cfg SimConfig
	if err := envconfig.Process("SIM", &cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid simulator config")
	}
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid simulator config")
	}
	normalizeRatios(&cfg)

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	tokens := auth.NewTokenManager(baseCfg.JWTSecret, cfg.Duration+time.Hour)
	dataPool, err := loadDataPool(ctx, pgPool, tokens, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	ok := sim.RunContention(context.Background())
	sim.Run()
	sim.PrintReport()

	if !ok {
		os.Exit(1)
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.ContentionSize < 2 {
		return fmt.Errorf("SIM_CONTENTION_SIZE must be >= 2")
	}
	return nil
}

func normalizeRatios(cfg *SimConfig) {
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, tokens *auth.TokenManager, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		token, err := tokens.Issue(auth.Identity{UserID: id, Role: auth.RolePatient})
		if err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, participant{ID: id, Token: token})
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}
	rows.Close()

	if len(dataPool.Patients) < 2 {
		return nil, fmt.Errorf("need at least 2 patients, have %d", len(dataPool.Patients))
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	return dataPool, nil
}

// RunContention fires ContentionSize bookings from distinct patients at one
// free slot and checks that exactly one of them wins.
func (s *Simulator) RunContention(ctx context.Context) bool {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var (
		doctorID uuid.UUID
		date     string
		slot     string
	)
	for attempt := 0; attempt < 20 && slot == ""; attempt++ {
		doctorID = s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
		date = s.randomDate(rng)
		slot, _ = s.freeSlot(ctx, s.pool.Patients[0], doctorID, date, rng)
	}
	if slot == "" {
		s.log.Warn().Msg("no free slot found, skipping contention check")
		return true
	}

	n := min(s.config.ContentionSize, len(s.pool.Patients))
	statuses := make([]int, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			statuses[i], _ = s.book(ctx, s.pool.Patients[i], doctorID, date, slot)
		}(i)
	}
	close(start)
	wg.Wait()

	counts := map[int]int{}
	for _, code := range statuses {
		counts[code]++
	}

	ok := counts[http.StatusCreated] == 1 && counts[http.StatusConflict] == n-1
	evt := s.log.Info()
	if !ok {
		evt = s.log.Error()
	}
	evt.
		Str("doctor_id", doctorID.String()).
		Str("date", date).
		Str("time", slot).
		Int("requests", n).
		Int("created", counts[http.StatusCreated]).
		Int("conflict", counts[http.StatusConflict]).
		Bool("exactly_one_winner", ok).
		Msg("contention check")
	return ok
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting load phase")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("load phase complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.randomDate(rng)

	slot, err := s.freeSlot(ctx, patient, doctorID, date, rng)
	if err != nil || slot == "" {
		return
	}

	start := time.Now()
	code, id := s.book(ctx, patient, doctorID, date, slot)
	s.metrics.Booking.Record(time.Since(start), code == http.StatusCreated, code == http.StatusConflict)

	if code == http.StatusCreated {
		s.pool.AddAppointment(booked{ID: id, Patient: patient})
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	code, err := s.send(ctx, http.MethodPatch,
		fmt.Sprintf("/appointments/%s/status", appt.ID), appt.Patient.Token,
		map[string]string{"status": string(scheduling.StatusCancelled)}, nil)
	success := err == nil && code == http.StatusOK
	s.metrics.Cancel.Record(time.Since(start), success, code == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	code, err := s.send(ctx, http.MethodGet, "/appointments?limit=20", patient.Token, nil, nil)
	s.metrics.Read.Record(time.Since(start), err == nil && code == http.StatusOK, false)
}

func (s *Simulator) freeSlot(ctx context.Context, p participant, doctorID uuid.UUID, date string, rng *rand.Rand) (string, error) {
	var slots []struct {
		Time      string `json:"time"`
		Available bool   `json:"available"`
	}

	start := time.Now()
	code, err := s.send(ctx, http.MethodGet,
		fmt.Sprintf("/slots?doctor_id=%s&date=%s", doctorID, date), p.Token, nil, &slots)
	s.metrics.Resolve.Record(time.Since(start), err == nil && code == http.StatusOK, false)
	if err != nil {
		return "", err
	}

	var free []string
	for _, sl := range slots {
		if sl.Available {
			free = append(free, sl.Time)
		}
	}
	if len(free) == 0 {
		return "", nil
	}
	return free[rng.Intn(len(free))], nil
}

func (s *Simulator) book(ctx context.Context, p participant, doctorID uuid.UUID, date, at string) (int, uuid.UUID) {
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	code, err := s.send(ctx, http.MethodPost, "/appointments", p.Token, map[string]string{
		"doctor_id": doctorID.String(),
		"date":      date,
		"time":      at,
		"reason":    "simulated visit",
	}, &resp)
	if err != nil {
		return 0, uuid.Nil
	}
	return code, resp.ID
}

func (s *Simulator) send(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) randomDate(rng *rand.Rand) string {
	days := max(s.config.DaysAhead, 1)
	return time.Now().AddDate(0, 0, 1+rng.Intn(days)).Format(scheduling.DateLayout)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Resolve slots", &s.metrics.Resolve)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List appointments", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, p99, maxLatency := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s p99=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond),
		p99.Round(time.Millisecond), maxLatency.Round(time.Millisecond))
	fmt.Println()
}
