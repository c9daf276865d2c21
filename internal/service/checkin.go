package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/helper"
	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
)

// QueueLedger assigns queue positions, 1, 2, 3... per (doctor, date).
// A position is only consumed when the caller's transaction commits.
type QueueLedger struct{}

func (QueueLedger) Append(ctx context.Context, tx store.Tx, doctorID string, date models.Date) (int, error) {
	return tx.NextPosition(ctx, doctorID, date)
}

type CheckInEngine struct {
	store     store.Store
	ledger    QueueLedger
	publisher Publisher
	stats     Recorder
	clock     clock.Clock
	location  *time.Location
	logger    zerolog.Logger
}

// NewCheckInEngine. loc menentukan "hari ini" untuk aturan check-in.
func NewCheckInEngine(st store.Store, pub Publisher, rec Recorder, clk clock.Clock, loc *time.Location, logger zerolog.Logger) *CheckInEngine {
	if pub == nil {
		pub = nopPublisher{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CheckInEngine{
		store:     st,
		publisher: pub,
		stats:     rec,
		clock:     clk,
		location:  loc,
		logger:    logger.With().Str("component", "checkin").Logger(),
	}
}

// CheckIn memasukkan pasien ke antrian dokter. Hanya boleh di hari
// appointment, dan hanya sekali.
func (e *CheckInEngine) CheckIn(ctx context.Context, appointmentID, patientID string) (models.QueueEntry, error) {
	appt, err := e.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.QueueEntry{}, ErrAppointmentNotFound
		}
		return models.QueueEntry{}, fmt.Errorf("load appointment: %w", err)
	}

	if appt.PatientID != patientID {
		return models.QueueEntry{}, ErrPatientMismatch
	}

	if today := helper.Today(e.clock, e.location); appt.Date != today {
		e.logger.Info().
			Str("appointment_id", appt.ID).
			Str("appointment_date", appt.Date.String()).
			Str("today", today.String()).
			Msg("check-in rejected - wrong date")
		e.stats.Rejected(ctx, "wrong_date", appt.Date)
		return models.QueueEntry{}, ErrWrongDate
	}

	switch appt.Status {
	case models.AppointmentCheckedIn:
		return models.QueueEntry{}, e.duplicate(ctx, appt)
	case models.AppointmentCancelled, models.AppointmentCompleted:
		return models.QueueEntry{}, ErrNotCheckInable
	}

	if _, err := e.store.GetQueueEntryByAppointment(ctx, appt.ID); err == nil {
		return models.QueueEntry{}, e.duplicate(ctx, appt)
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.QueueEntry{}, fmt.Errorf("load queue entry: %w", err)
	}

	var entry models.QueueEntry
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		// flip status dulu: request kedua yang balapan berhenti di sini
		ok, err := tx.MarkCheckedIn(ctx, appt.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyCheckedIn
		}

		position, err := e.ledger.Append(ctx, tx, appt.DoctorID, appt.Date)
		if err != nil {
			return err
		}

		entry = models.QueueEntry{
			ID:            uuid.NewString(),
			AppointmentID: appt.ID,
			DoctorID:      appt.DoctorID,
			Date:          appt.Date,
			Position:      position,
			CheckedInAt:   e.clock.Now().UTC(),
			Status:        models.QueueWaiting,
		}
		return tx.InsertQueueEntry(ctx, entry)
	})

	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyCheckedIn), errors.Is(err, store.ErrAlreadyQueued):
		return models.QueueEntry{}, e.duplicate(ctx, appt)
	default:
		e.logger.Error().Err(err).Str("appointment_id", appt.ID).Msg("check-in failed")
		return models.QueueEntry{}, fmt.Errorf("check in: %w", err)
	}

	e.logger.Info().
		Str("appointment_id", appt.ID).
		Str("doctor_id", appt.DoctorID).
		Int("queue_position", entry.Position).
		Msg("patient checked in")

	e.stats.CheckedIn(ctx, appt.Date)
	e.publisher.Publish(appt.DoctorID, appt.Date)
	return entry, nil
}

func (e *CheckInEngine) duplicate(ctx context.Context, appt models.Appointment) error {
	e.logger.Warn().Str("appointment_id", appt.ID).Msg("duplicate check-in attempt")
	e.stats.Rejected(ctx, "already_checked_in", appt.Date)
	return ErrAlreadyCheckedIn
}

// Queue returns the doctor's queue for date ordered by position.
func (e *CheckInEngine) Queue(ctx context.Context, doctorID string, date models.Date) ([]models.QueueEntry, error) {
	if _, err := e.store.GetDoctor(ctx, doctorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return e.store.ListQueueByDoctorDate(ctx, doctorID, date)
}
