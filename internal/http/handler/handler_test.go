package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
	"backend-klinik/internal/realtime"
	"backend-klinik/internal/service"
	"backend-klinik/internal/stats"
	"backend-klinik/internal/store"
	"backend-klinik/internal/store/sqlitestore"
)

const testDate = "2025-11-15"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	app   *fiber.App
	hub   *realtime.Hub
	clock *clock.FakeClock
}

func newTestServer(t *testing.T, cfg service.BookingConfig) *testServer {
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

	log := zerolog.Nop()
	clk := clock.Fake(time.Date(2025, 11, 15, 8, 0, 0, 0, time.UTC))
	snapshots := realtime.NewSnapshotBuilder(st, clk)
	hub := realtime.NewHub(snapshots, clk, realtime.Options{}, log)
	t.Cleanup(hub.Close)
	rec := stats.New(nil, log)

	h := New(Deps{
		Booking:      service.NewBookingEngine(st, cfg, hub, rec, clk, log),
		CheckIn:      service.NewCheckInEngine(st, hub, rec, clk, time.UTC, log),
		Doctors:      service.NewDoctorService(st, cfg, clk, log),
		Patients:     service.NewPatientService(st, clk, log),
		Hub:          hub,
		Snapshots:    snapshots,
		Stats:        rec,
		Clock:        clk,
		Location:     time.UTC,
		Environment:  "test",
		PingInterval: time.Hour,
		PongTimeout:  time.Minute,
		WriteTimeout: time.Second,
		Logger:       log,
	})
	return &testServer{app: NewApp(h), hub: hub, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return out
}

func (s *testServer) createDoctor(t *testing.T, code string) models.Doctor {
	t.Helper()
	status, env := s.do(t, "POST", "/api/v1/doctors", fiber.Map{"name": "Dr. " + code, "code": code})
	if status != fiber.StatusCreated {
		t.Fatalf("create doctor: %d %+v", status, env)
	}
	return decode[models.Doctor](t, env)
}

func (s *testServer) createPatient(t *testing.T, name, phone string) models.Patient {
	t.Helper()
	status, env := s.do(t, "POST", "/api/v1/patients", fiber.Map{"first_name": name, "phone": phone})
	if status != fiber.StatusCreated {
		t.Fatalf("create patient: %d %+v", status, env)
	}
	return decode[models.Patient](t, env)
}

func (s *testServer) book(t *testing.T, patientID, doctorID, date string, headers ...string) (int, envelope) {
	t.Helper()
	return s.do(t, "POST", "/api/v1/appointments", fiber.Map{
		"patient_id": patientID,
		"doctor_id":  doctorID,
		"date":       date,
	}, headers...)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, service.BookingConfig{Capacity: 10, DefaultAvailable: true})

	resp, err := s.app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != 200 || body["status"] != "healthy" || body["environment"] != "test" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestBookAndCheckInOverHTTP(t *testing.T) {
	s := newTestServer(t, service.BookingConfig{Capacity: 2, DefaultAvailable: true})

	doc := s.createDoctor(t, "dr-umum")
	if doc.Code != "DR-UMUM" {
		t.Fatalf("code = %q", doc.Code)
	}
	if status, env := s.do(t, "POST", "/api/v1/doctors", fiber.Map{"name": "Dup", "code": "DR-UMUM"}); status != 409 || env.Error != kindConflict {
		t.Fatalf("duplicate code: %d %+v", status, env)
	}

	budi := s.createPatient(t, "Budi", "081234567890")
	status, env := s.do(t, "POST", "/api/v1/patients", fiber.Map{"first_name": "Budi S", "phone": "0812-3456-7890"})
	if status != 200 || decode[models.Patient](t, env).ID != budi.ID {
		t.Fatalf("re-register: %d %+v", status, env)
	}
	sari := s.createPatient(t, "Sari", "081234567891")
	tono := s.createPatient(t, "Tono", "081234567892")

	var first models.Appointment
	t.Run("book with idempotency header", func(t *testing.T) {
		status, env := s.book(t, budi.ID, doc.ID, testDate, "Idempotency-Key", "req-1")
		if status != 201 {
			t.Fatalf("book: %d %+v", status, env)
		}
		first = decode[models.Appointment](t, env)
		if first.Slot != 1 || first.Status != models.AppointmentBooked {
			t.Fatalf("appt = %+v", first)
		}

		status, env = s.book(t, budi.ID, doc.ID, testDate, "Idempotency-Key", "req-1")
		if status != 201 || decode[models.Appointment](t, env).ID != first.ID {
			t.Fatalf("replay: %d %+v", status, env)
		}
	})

	var second models.Appointment
	t.Run("fill and overflow capacity", func(t *testing.T) {
		status, env := s.book(t, sari.ID, doc.ID, testDate)
		if status != 201 {
			t.Fatalf("book: %d %+v", status, env)
		}
		second = decode[models.Appointment](t, env)
		if second.Slot != 2 {
			t.Fatalf("slot = %d", second.Slot)
		}

		status, env = s.book(t, tono.ID, doc.ID, testDate)
		if status != 409 || env.Error != kindCapacityFull || env.Success {
			t.Fatalf("overflow: %d %+v", status, env)
		}

		status, env = s.do(t, "GET", "/api/v1/doctors/"+doc.ID+"/capacity?date="+testDate, nil)
		c := decode[models.DailyCapacity](t, env)
		if status != 200 || c.Capacity != 2 || c.Remaining != 0 {
			t.Fatalf("capacity: %d %+v", status, c)
		}

		status, env = s.do(t, "GET", "/api/v1/appointments/doctors/"+doc.ID+"?date="+testDate, nil)
		list := decode[[]models.Appointment](t, env)
		if status != 200 || len(list) != 2 || list[0].Slot != 1 || list[1].Slot != 2 {
			t.Fatalf("list: %d %+v", status, list)
		}

		status, env = s.do(t, "GET", "/api/v1/appointments/"+second.ID, nil)
		if status != 200 || decode[models.Appointment](t, env).PatientID != sari.ID {
			t.Fatalf("get: %d %+v", status, env)
		}
	})

	t.Run("check in", func(t *testing.T) {
		status, env := s.do(t, "POST", "/api/v1/checkins", fiber.Map{"appointment_id": second.ID, "patient_id": budi.ID})
		if status != 403 || env.Error != kindPatientMismatch {
			t.Fatalf("mismatch: %d %+v", status, env)
		}

		status, env = s.do(t, "POST", "/api/v1/checkins", fiber.Map{"appointment_id": second.ID, "patient_id": sari.ID})
		if status != 201 {
			t.Fatalf("check in: %d %+v", status, env)
		}
		resp := decode[models.CheckInResponse](t, env)
		if resp.QueuePosition != 1 || resp.AppointmentID != second.ID {
			t.Fatalf("resp = %+v", resp)
		}

		status, env = s.do(t, "POST", "/api/v1/checkins", fiber.Map{"appointment_id": second.ID, "patient_id": sari.ID})
		if status != 409 || env.Error != kindAlreadyCheckedIn {
			t.Fatalf("again: %d %+v", status, env)
		}

		status, env = s.do(t, "POST", "/api/v1/checkins", fiber.Map{"appointment_id": first.ID, "patient_id": budi.ID})
		if status != 201 || decode[models.CheckInResponse](t, env).QueuePosition != 2 {
			t.Fatalf("second check in: %d %+v", status, env)
		}

		status, env = s.do(t, "GET", "/api/v1/checkins/doctors/"+doc.ID+"/queue?date="+testDate, nil)
		queue := decode[[]models.QueueEntry](t, env)
		if status != 200 || len(queue) != 2 || queue[0].AppointmentID != second.ID {
			t.Fatalf("queue: %d %+v", status, queue)
		}
		if queue[0].PatientName == nil || *queue[0].PatientName != "Sari" {
			t.Fatalf("patient name = %v", queue[0].PatientName)
		}
	})

	t.Run("snapshot", func(t *testing.T) {
		status, env := s.do(t, "GET", "/api/v1/queue/snapshot?date="+testDate, nil)
		snap := decode[models.QueueSnapshot](t, env)
		if status != 200 || snap.TotalAppointments != 2 || snap.TotalDoctors != 1 {
			t.Fatalf("snapshot: %d %+v", status, snap)
		}
		if snap.Doctors[0].CheckedInCount != 2 {
			t.Fatalf("checked_in_count = %d", snap.Doctors[0].CheckedInCount)
		}

		// tanpa ?date= pakai hari ini menurut clock
		status, env = s.do(t, "GET", "/api/v1/queue/snapshot", nil)
		if status != 200 || decode[models.QueueSnapshot](t, env).Date != models.Date(testDate) {
			t.Fatalf("default date: %d %+v", status, env)
		}
	})

	t.Run("stats without redis", func(t *testing.T) {
		status, env := s.do(t, "GET", "/api/v1/stats?date="+testDate, nil)
		daily := decode[stats.Daily](t, env)
		if status != 200 || daily.Enabled || daily.Bookings != 0 {
			t.Fatalf("stats: %d %+v", status, daily)
		}
	})
}

func TestAvailabilityOverHTTP(t *testing.T) {
	s := newTestServer(t, service.BookingConfig{Capacity: 10, DefaultAvailable: true})
	doc := s.createDoctor(t, "DR1")
	p := s.createPatient(t, "Ani", "081300000001")

	status, env := s.do(t, "GET", "/api/v1/doctors/"+doc.ID+"/availability?date="+testDate, nil)
	a := decode[models.Availability](t, env)
	if status != 200 || !a.IsPresent || a.ID != nil {
		t.Fatalf("default availability: %d %+v", status, a)
	}

	status, env = s.do(t, "POST", "/api/v1/doctors/"+doc.ID+"/availability", fiber.Map{
		"date":       testDate,
		"is_present": false,
		"notes":      "cuti",
	})
	if status != 200 || decode[models.Availability](t, env).IsPresent {
		t.Fatalf("set availability: %d %+v", status, env)
	}

	status, env = s.do(t, "GET", "/api/v1/doctors?date="+testDate, nil)
	list := decode[[]models.DoctorWithAvailability](t, env)
	if status != 200 || len(list) != 1 || list[0].IsAvailable {
		t.Fatalf("list: %d %+v", status, list)
	}

	status, env = s.book(t, p.ID, doc.ID, testDate)
	if status != 422 || env.Error != kindDoctorUnavail {
		t.Fatalf("book: %d %+v", status, env)
	}

	// hari lain tidak terpengaruh
	status, _ = s.book(t, p.ID, doc.ID, "2025-11-16")
	if status != 201 {
		t.Fatalf("book next day: %d", status)
	}
}

func TestCheckInWrongDateOverHTTP(t *testing.T) {
	s := newTestServer(t, service.BookingConfig{Capacity: 10, DefaultAvailable: true})
	doc := s.createDoctor(t, "DR1")
	p := s.createPatient(t, "Ani", "081300000001")

	_, env := s.book(t, p.ID, doc.ID, "2025-11-16")
	appt := decode[models.Appointment](t, env)

	status, env := s.do(t, "POST", "/api/v1/checkins", fiber.Map{"appointment_id": appt.ID, "patient_id": p.ID})
	if status != 422 || env.Error != kindInvalidDate {
		t.Fatalf("check in: %d %+v", status, env)
	}

	s.clock.Advance(24 * time.Hour)
	status, _ = s.do(t, "POST", "/api/v1/checkins", fiber.Map{"appointment_id": appt.ID, "patient_id": p.ID})
	if status != 201 {
		t.Fatalf("check in next day: %d", status)
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, service.BookingConfig{Capacity: 10, DefaultAvailable: true})
	doc := s.createDoctor(t, "DR1")
	missing := "00000000-0000-4000-8000-000000000000"

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"malformed json", "POST", "/api/v1/appointments", `{"patient_id":`, 400, kindValidation},
		{"missing fields", "POST", "/api/v1/appointments", fiber.Map{"date": testDate}, 400, kindValidation},
		{"bad date", "POST", "/api/v1/appointments", fiber.Map{"patient_id": missing, "doctor_id": doc.ID, "date": "15-11-2025"}, 400, kindValidation},
		{"unknown patient", "POST", "/api/v1/appointments", fiber.Map{"patient_id": missing, "doctor_id": doc.ID, "date": testDate}, 404, kindNotFound},
		{"unknown appointment", "POST", "/api/v1/checkins", fiber.Map{"appointment_id": missing, "patient_id": missing}, 404, kindNotFound},
		{"bad uuid param", "GET", "/api/v1/doctors/not-a-uuid", nil, 400, kindValidation},
		{"unknown doctor", "GET", "/api/v1/doctors/" + missing, nil, 404, kindNotFound},
		{"capacity needs date", "GET", "/api/v1/doctors/" + doc.ID + "/capacity", nil, 400, kindValidation},
		{"queue of unknown doctor", "GET", "/api/v1/checkins/doctors/" + missing + "/queue?date=" + testDate, nil, 404, kindNotFound},
		{"search needs phone", "GET", "/api/v1/patients/search", nil, 400, kindValidation},
		{"search unknown phone", "GET", "/api/v1/patients/search?phone=0899999999", nil, 404, kindNotFound},
		{"short phone", "POST", "/api/v1/patients", fiber.Map{"first_name": "X", "phone": "123"}, 400, kindValidation},
		{"unknown route", "GET", "/api/v1/nope", nil, 404, kindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := s.do(t, tc.method, tc.path, tc.body)
			if status != tc.status || env.Error != tc.kind || env.Success {
				t.Fatalf("got %d %+v, want %d %s", status, env, tc.status, tc.kind)
			}
			if env.Message == "" {
				t.Fatalf("empty message")
			}
		})
	}
}
