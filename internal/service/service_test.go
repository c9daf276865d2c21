package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
	"backend-klinik/internal/store/sqlitestore"
)

const scenarioDate = models.Date("2025-11-15")

type published struct {
	doctorID string
	date     models.Date
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(doctorID string, date models.Date) {
	p.mu.Lock()
	p.events = append(p.events, published{doctorID, date})
	p.mu.Unlock()
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type countingRecorder struct {
	mu       sync.Mutex
	booked   int
	checked  int
	rejected map[string]int
}

func (r *countingRecorder) Booked(context.Context, models.Date) {
	r.mu.Lock()
	r.booked++
	r.mu.Unlock()
}

func (r *countingRecorder) CheckedIn(context.Context, models.Date) {
	r.mu.Lock()
	r.checked++
	r.mu.Unlock()
}

func (r *countingRecorder) Rejected(_ context.Context, reason string, _ models.Date) {
	r.mu.Lock()
	if r.rejected == nil {
		r.rejected = map[string]int{}
	}
	r.rejected[reason]++
	r.mu.Unlock()
}

type fixture struct {
	store    *sqlitestore.Store
	clock    *clock.FakeClock
	pub      *recordingPublisher
	rec      *countingRecorder
	booking  *BookingEngine
	checkin  *CheckInEngine
	doctors  *DoctorService
	patients *PatientService
}

func newFixture(t *testing.T, cfg BookingConfig) *fixture {
	t.Helper()
	st, err := sqlitestore.Open(context.Background(), sqlitestore.Options{
		Path:     filepath.Join(t.TempDir(), "klinik.db"),
		PoolSize: 8,
		Retry:    store.RetryPolicy{Attempts: 5, Backoff: 5 * time.Millisecond},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.Fake(time.Date(2025, 11, 15, 8, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	rec := &countingRecorder{}
	log := zerolog.Nop()

	return &fixture{
		store:    st,
		clock:    clk,
		pub:      pub,
		rec:      rec,
		booking:  NewBookingEngine(st, cfg, pub, rec, clk, log),
		checkin:  NewCheckInEngine(st, pub, rec, clk, time.UTC, log),
		doctors:  NewDoctorService(st, cfg, clk, log),
		patients: NewPatientService(st, clk, log),
	}
}

func defaultConfig() BookingConfig {
	return BookingConfig{Capacity: 10, DefaultAvailable: true}
}

func (f *fixture) doctor(t *testing.T, code string) models.Doctor {
	t.Helper()
	d, err := f.doctors.Create(context.Background(), models.CreateDoctorRequest{Name: "Dr. " + code, Code: code})
	if err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return d
}

func (f *fixture) patient(t *testing.T, phone string) models.Patient {
	t.Helper()
	p, _, err := f.patients.Register(context.Background(), models.CreatePatientRequest{FirstName: "Pasien", Phone: phone})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}
	return p
}
