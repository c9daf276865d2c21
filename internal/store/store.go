// Package store defines the persistence contract for doctors, patients,
// appointments and the check-in queue.
//
// The two per (doctor, date) counters, remaining capacity and last queue
// position, are only mutated inside a Tx via ReserveSlot and NextPosition.
// Each of those is a single conditional storage statement, committed
// together with the row it numbers. A Tx that fails or is cancelled before
// commit leaves no trace: no slot and no position is consumed.
package store

import (
	"context"
	"errors"

	"backend-klinik/internal/models"
)

var (
	ErrNotFound                = errors.New("store: not found")
	ErrCapacityExhausted       = errors.New("store: capacity exhausted")
	ErrDuplicateIdempotencyKey = errors.New("store: duplicate idempotency key")
	ErrAlreadyQueued           = errors.New("store: appointment already queued")
	ErrDuplicateCode           = errors.New("store: duplicate doctor code")
	ErrDuplicatePhone          = errors.New("store: duplicate patient phone")
	// ErrTransient marks failures that may succeed on a fresh attempt
	// (deadlock, lock wait timeout, SQLITE_BUSY, dropped connection).
	ErrTransient = errors.New("store: transient failure")
)

// Tx is one storage transaction. It is not safe for concurrent use.
type Tx interface {
	// ReserveSlot lazily creates the capacity row for (doctor, date) with
	// defaultCapacity, then decrements remaining if it is positive.
	// Returns the 1-based slot (capacity - remaining after decrement) or
	// ErrCapacityExhausted.
	ReserveSlot(ctx context.Context, doctorID string, date models.Date, defaultCapacity int) (int, error)

	// InsertAppointment returns ErrDuplicateIdempotencyKey when the key is
	// already taken.
	InsertAppointment(ctx context.Context, a models.Appointment) error

	// NextPosition atomically increments and returns the queue counter for
	// (doctor, date). The first call returns 1.
	NextPosition(ctx context.Context, doctorID string, date models.Date) (int, error)

	// MarkCheckedIn flips status booked -> checked_in. Returns false when the
	// appointment was not in booked state.
	MarkCheckedIn(ctx context.Context, appointmentID string) (bool, error)

	// InsertQueueEntry returns ErrAlreadyQueued when the appointment already
	// has a queue entry.
	InsertQueueEntry(ctx context.Context, q models.QueueEntry) error
}

type DoctorStore interface {
	CreateDoctor(ctx context.Context, d models.Doctor) error
	GetDoctor(ctx context.Context, id string) (models.Doctor, error)
	GetDoctorByCode(ctx context.Context, code string) (models.Doctor, error)
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	UpsertAvailability(ctx context.Context, a models.Availability) (models.Availability, error)
	GetAvailability(ctx context.Context, doctorID string, date models.Date) (models.Availability, error)
	ListAvailability(ctx context.Context, date models.Date) ([]models.Availability, error)
	GetCapacity(ctx context.Context, doctorID string, date models.Date) (models.DailyCapacity, error)
}

type PatientStore interface {
	CreatePatient(ctx context.Context, p models.Patient) error
	GetPatient(ctx context.Context, id string) (models.Patient, error)
	GetPatientByPhone(ctx context.Context, phone string) (models.Patient, error)
	ListPatientsByIDs(ctx context.Context, ids []string) ([]models.Patient, error)
}

type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (models.Appointment, error)
	GetAppointmentByIdempotencyKey(ctx context.Context, key string) (models.Appointment, error)
	// ListAppointmentsByDoctorDate excludes cancelled appointments, ordered by slot.
	ListAppointmentsByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.Appointment, error)
	// ListAppointmentsByDate excludes cancelled appointments, ordered by doctor then slot.
	ListAppointmentsByDate(ctx context.Context, date models.Date) ([]models.Appointment, error)
}

type QueueStore interface {
	GetQueueEntryByAppointment(ctx context.Context, appointmentID string) (models.QueueEntry, error)
	// ListQueueByDoctorDate is ordered by position and fills PatientName.
	ListQueueByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.QueueEntry, error)
	ListQueueByDate(ctx context.Context, date models.Date) ([]models.QueueEntry, error)
}

// Store is implemented by mysqlstore and sqlitestore.
type Store interface {
	DoctorStore
	PatientStore
	AppointmentStore
	QueueStore

	// WithTx runs fn in one transaction. fn may be invoked more than once
	// when a transient failure forces a retry, so it must not have side
	// effects outside tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error
	Close() error
}
