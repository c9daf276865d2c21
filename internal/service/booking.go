package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
)

// CapacityLedger hands out slots for one (doctor, date). The decrement and
// the appointment insert share the caller's transaction.
type CapacityLedger struct {
	Capacity int
}

// TryReserve returns a 1-based slot or ErrCapacityFull.
func (l CapacityLedger) TryReserve(ctx context.Context, tx store.Tx, doctorID string, date models.Date) (int, error) {
	slot, err := tx.ReserveSlot(ctx, doctorID, date, l.Capacity)
	if errors.Is(err, store.ErrCapacityExhausted) {
		return 0, ErrCapacityFull
	}
	if err != nil {
		return 0, err
	}
	return slot, nil
}

type BookingConfig struct {
	Capacity int
	// DefaultAvailable applies when a doctor has no availability record
	// for the requested date.
	DefaultAvailable bool
}

type BookingEngine struct {
	store            store.Store
	ledger           CapacityLedger
	defaultAvailable bool
	publisher        Publisher
	stats            Recorder
	clock            clock.Clock
	logger           zerolog.Logger
}

func NewBookingEngine(st store.Store, cfg BookingConfig, pub Publisher, rec Recorder, clk clock.Clock, logger zerolog.Logger) *BookingEngine {
	if pub == nil {
		pub = nopPublisher{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &BookingEngine{
		store:            st,
		ledger:           CapacityLedger{Capacity: cfg.Capacity},
		defaultAvailable: cfg.DefaultAvailable,
		publisher:        pub,
		stats:            rec,
		clock:            clk,
		logger:           logger.With().Str("component", "booking").Logger(),
	}
}

// Book membuat appointment baru, atau mengembalikan appointment lama kalau
// idempotency key sudah pernah dipakai.
func (e *BookingEngine) Book(ctx context.Context, patientID, doctorID string, date models.Date, idempotencyKey *string) (models.Appointment, error) {
	key := normalizeKey(idempotencyKey)

	if key != nil {
		existing, err := e.store.GetAppointmentByIdempotencyKey(ctx, *key)
		if err == nil {
			e.logReplay(existing, patientID, doctorID, date)
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Appointment{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	if err := e.checkBookable(ctx, patientID, doctorID, date); err != nil {
		e.reject(ctx, err, date)
		return models.Appointment{}, err
	}

	var appt models.Appointment
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		slot, err := e.ledger.TryReserve(ctx, tx, doctorID, date)
		if err != nil {
			return err
		}

		now := e.clock.Now().UTC()
		appt = models.Appointment{
			ID:             uuid.NewString(),
			PatientID:      patientID,
			DoctorID:       doctorID,
			Date:           date,
			Slot:           slot,
			Status:         models.AppointmentBooked,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.InsertAppointment(ctx, appt)
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrCapacityFull):
		e.logger.Warn().
			Str("doctor_id", doctorID).
			Str("date", date.String()).
			Msg("booking failed - capacity full")
		e.reject(ctx, err, date)
		return models.Appointment{}, err
	case errors.Is(err, store.ErrDuplicateIdempotencyKey):
		// Kalah race dengan request lain yang pakai key sama: kembalikan punya pemenang.
		winner, getErr := e.store.GetAppointmentByIdempotencyKey(ctx, *key)
		if getErr != nil {
			return models.Appointment{}, fmt.Errorf("re-read idempotency winner: %w", getErr)
		}
		e.logReplay(winner, patientID, doctorID, date)
		return winner, nil
	default:
		e.logger.Error().Err(err).
			Str("doctor_id", doctorID).
			Str("date", date.String()).
			Msg("booking failed")
		return models.Appointment{}, fmt.Errorf("book appointment: %w", err)
	}

	e.logger.Info().
		Str("appointment_id", appt.ID).
		Str("doctor_id", doctorID).
		Str("patient_id", patientID).
		Str("date", date.String()).
		Int("slot", appt.Slot).
		Msg("appointment booked")

	e.stats.Booked(ctx, date)
	e.publisher.Publish(doctorID, date)
	return appt, nil
}

func (e *BookingEngine) checkBookable(ctx context.Context, patientID, doctorID string, date models.Date) error {
	if _, err := e.store.GetDoctor(ctx, doctorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("load doctor: %w", err)
	}

	if _, err := e.store.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrPatientNotFound
		}
		return fmt.Errorf("load patient: %w", err)
	}

	availability, err := e.store.GetAvailability(ctx, doctorID, date)
	switch {
	case err == nil:
		if !availability.IsPresent {
			return ErrDoctorUnavailable
		}
	case errors.Is(err, store.ErrNotFound):
		if !e.defaultAvailable {
			return ErrDoctorUnavailable
		}
	default:
		return fmt.Errorf("load availability: %w", err)
	}
	return nil
}

func (e *BookingEngine) logReplay(existing models.Appointment, patientID, doctorID string, date models.Date) {
	level := zerolog.InfoLevel
	if existing.PatientID != patientID || existing.DoctorID != doctorID || existing.Date != date {
		// key dipakai ulang dengan parameter berbeda
		level = zerolog.WarnLevel
	}
	e.logger.WithLevel(level).
		Str("appointment_id", existing.ID).
		Str("requested_doctor_id", doctorID).
		Str("requested_date", date.String()).
		Msg("idempotent booking - returning existing appointment")
}

func (e *BookingEngine) reject(ctx context.Context, err error, date models.Date) {
	reason := "other"
	switch {
	case errors.Is(err, ErrCapacityFull):
		reason = "capacity_full"
	case errors.Is(err, ErrDoctorUnavailable):
		reason = "doctor_unavailable"
	case errors.Is(err, ErrDoctorNotFound), errors.Is(err, ErrPatientNotFound):
		reason = "not_found"
	}
	e.stats.Rejected(ctx, reason, date)
}

// GetAppointment ambil satu appointment berdasarkan id.
func (e *BookingEngine) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Appointment{}, ErrAppointmentNotFound
	}
	return appt, err
}

// ListByDoctorDate returns the non-cancelled appointments ordered by slot.
func (e *BookingEngine) ListByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.Appointment, error) {
	return e.store.ListAppointmentsByDoctorDate(ctx, doctorID, date)
}

func normalizeKey(key *string) *string {
	if key == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*key)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
