package mysqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type Store struct {
	db     *sql.DB
	retry  store.RetryPolicy
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to MySQL and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger.With().Str("component", "store").Str("driver", "mysql").Logger()
	db, err := openDB(ctx, opts)
	if err != nil {
		return nil, err
	}

	retry := opts.Retry
	if retry.Attempts <= 0 {
		retry = store.DefaultRetryPolicy()
	}

	s := &Store{db: db, retry: retry, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info().Msg("mysql store ready")
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysqlstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

/*
|--------------------------------------------------------------------------
| Transactions
|--------------------------------------------------------------------------
*/

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	attempt := 0
	return s.retry.Run(ctx, func() error {
		attempt++
		err := s.runTx(ctx, fn)
		if err != nil && attempt > 1 {
			s.logger.Debug().Err(err).Int("attempt", attempt).Msg("transaction retry")
		}
		return err
	})
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("mysqlstore: begin: %w", err))
	}

	if err := fn(&tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("mysqlstore: commit: %w", err))
	}
	return nil
}

type tx struct {
	q querier
}

func (t *tx) ReserveSlot(ctx context.Context, doctorID string, date models.Date, defaultCapacity int) (int, error) {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO daily_capacities (doctor_id, date, capacity, remaining)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE doctor_id = doctor_id`,
		doctorID, date.String(), defaultCapacity, defaultCapacity)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: ensure capacity: %w", err)
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE daily_capacities
		SET remaining = remaining - 1
		WHERE doctor_id = ? AND date = ? AND remaining > 0`,
		doctorID, date.String())
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: reserve slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: reserve slot: %w", err)
	}
	if affected == 0 {
		return 0, store.ErrCapacityExhausted
	}

	// row is locked by the UPDATE above until commit
	var capacity, remaining int
	err = t.q.QueryRowContext(ctx, `
		SELECT capacity, remaining FROM daily_capacities
		WHERE doctor_id = ? AND date = ?`,
		doctorID, date.String()).Scan(&capacity, &remaining)
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: read capacity: %w", err)
	}
	return capacity - remaining, nil
}

func (t *tx) InsertAppointment(ctx context.Context, a models.Appointment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, date, slot, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, a.DoctorID, a.Date.String(), a.Slot, string(a.Status),
		a.IdempotencyKey, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if isDuplicate(err, "uq_appointments_idempotency_key") {
		return store.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("mysqlstore: insert appointment: %w", err)
	}
	return nil
}

func (t *tx) NextPosition(ctx context.Context, doctorID string, date models.Date) (int, error) {
	// LAST_INSERT_ID(expr) hands the new counter value back on this
	// connection for both the insert and the update branch.
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO queue_counters (doctor_id, date, last_position)
		VALUES (?, ?, LAST_INSERT_ID(1))
		ON DUPLICATE KEY UPDATE last_position = LAST_INSERT_ID(last_position + 1)`,
		doctorID, date.String())
	if err != nil {
		return 0, fmt.Errorf("mysqlstore: next position: %w", err)
	}

	var position int
	if err := t.q.QueryRowContext(ctx, `SELECT LAST_INSERT_ID()`).Scan(&position); err != nil {
		return 0, fmt.Errorf("mysqlstore: next position: %w", err)
	}
	return position, nil
}

func (t *tx) MarkCheckedIn(ctx context.Context, appointmentID string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE appointments SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.AppointmentCheckedIn), time.Now().UTC(),
		appointmentID, string(models.AppointmentBooked))
	if err != nil {
		return false, fmt.Errorf("mysqlstore: mark checked in: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mysqlstore: mark checked in: %w", err)
	}
	return affected == 1, nil
}

func (t *tx) InsertQueueEntry(ctx context.Context, q models.QueueEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO queue_entries
			(id, appointment_id, doctor_id, date, position, checked_in_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.AppointmentID, q.DoctorID, q.Date.String(), q.Position,
		q.CheckedInAt.UTC(), string(q.Status))
	if isDuplicate(err, "uq_queue_entries_appointment") {
		return store.ErrAlreadyQueued
	}
	if err != nil {
		return fmt.Errorf("mysqlstore: insert queue entry: %w", err)
	}
	return nil
}

/*
|--------------------------------------------------------------------------
| Doctors
|--------------------------------------------------------------------------
*/

const doctorCols = `id, name, code, specialty, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDoctor(row scanner) (models.Doctor, error) {
	var (
		d         models.Doctor
		specialty sql.NullString
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Code, &specialty, &d.CreatedAt); err != nil {
		return models.Doctor{}, err
	}
	d.Specialty = stringPtr(specialty)
	return d, nil
}

func (s *Store) CreateDoctor(ctx context.Context, d models.Doctor) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO doctors (`+doctorCols+`) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Code, d.Specialty, d.CreatedAt.UTC())
	if isDuplicate(err, "uq_doctors_code") {
		return store.ErrDuplicateCode
	}
	return classify(err)
}

func (s *Store) GetDoctor(ctx context.Context, id string) (models.Doctor, error) {
	d, err := scanDoctor(s.db.QueryRowContext(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = ?`, id))
	return d, notFound(err)
}

func (s *Store) GetDoctorByCode(ctx context.Context, code string) (models.Doctor, error) {
	d, err := scanDoctor(s.db.QueryRowContext(ctx, `SELECT `+doctorCols+` FROM doctors WHERE code = ?`, code))
	return d, notFound(err)
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY name ASC`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	doctors := []models.Doctor{}
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
	}
	return doctors, rows.Err()
}

const availabilityCols = `id, doctor_id, date, is_present, notes, updated_by, updated_at`

func scanAvailability(row scanner) (models.Availability, error) {
	var (
		a         models.Availability
		id        string
		date      time.Time
		notes     sql.NullString
		updatedBy sql.NullString
		updatedAt time.Time
	)
	if err := row.Scan(&id, &a.DoctorID, &date, &a.IsPresent, &notes, &updatedBy, &updatedAt); err != nil {
		return models.Availability{}, err
	}
	a.ID = &id
	a.Date = models.DateOf(date)
	a.Notes = stringPtr(notes)
	a.UpdatedBy = stringPtr(updatedBy)
	a.UpdatedAt = &updatedAt
	return a, nil
}

func (s *Store) UpsertAvailability(ctx context.Context, a models.Availability) (models.Availability, error) {
	id := ""
	if a.ID != nil {
		id = *a.ID
	}
	updatedAt := time.Now().UTC()
	if a.UpdatedAt != nil {
		updatedAt = a.UpdatedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doctor_availabilities (`+availabilityCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			is_present = VALUES(is_present),
			notes = VALUES(notes),
			updated_by = VALUES(updated_by),
			updated_at = VALUES(updated_at)`,
		id, a.DoctorID, a.Date.String(), a.IsPresent, a.Notes, a.UpdatedBy, updatedAt)
	if err != nil {
		return models.Availability{}, classify(err)
	}
	return s.GetAvailability(ctx, a.DoctorID, a.Date)
}

func (s *Store) GetAvailability(ctx context.Context, doctorID string, date models.Date) (models.Availability, error) {
	a, err := scanAvailability(s.db.QueryRowContext(ctx,
		`SELECT `+availabilityCols+` FROM doctor_availabilities WHERE doctor_id = ? AND date = ?`,
		doctorID, date.String()))
	return a, notFound(err)
}

func (s *Store) ListAvailability(ctx context.Context, date models.Date) ([]models.Availability, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+availabilityCols+` FROM doctor_availabilities WHERE date = ?`, date.String())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	list := []models.Availability{}
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (s *Store) GetCapacity(ctx context.Context, doctorID string, date models.Date) (models.DailyCapacity, error) {
	var (
		c   models.DailyCapacity
		day time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doctor_id, date, capacity, remaining FROM daily_capacities
		WHERE doctor_id = ? AND date = ?`, doctorID, date.String()).
		Scan(&c.DoctorID, &day, &c.Capacity, &c.Remaining)
	if err != nil {
		return models.DailyCapacity{}, notFound(err)
	}
	c.Date = models.DateOf(day)
	return c, nil
}

/*
|--------------------------------------------------------------------------
| Patients
|--------------------------------------------------------------------------
*/

const patientCols = `id, first_name, last_name, age, phone, email, created_at`

func scanPatient(row scanner) (models.Patient, error) {
	var (
		p        models.Patient
		lastName sql.NullString
		age      sql.NullInt64
		email    sql.NullString
	)
	if err := row.Scan(&p.ID, &p.FirstName, &lastName, &age, &p.Phone, &email, &p.CreatedAt); err != nil {
		return models.Patient{}, err
	}
	p.LastName = stringPtr(lastName)
	p.Email = stringPtr(email)
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	return p, nil
}

func (s *Store) CreatePatient(ctx context.Context, p models.Patient) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO patients (`+patientCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FirstName, p.LastName, p.Age, p.Phone, p.Email, p.CreatedAt.UTC())
	if isDuplicate(err, "uq_patients_phone") {
		return store.ErrDuplicatePhone
	}
	return classify(err)
}

func (s *Store) GetPatient(ctx context.Context, id string) (models.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, `SELECT `+patientCols+` FROM patients WHERE id = ?`, id))
	return p, notFound(err)
}

func (s *Store) GetPatientByPhone(ctx context.Context, phone string) (models.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, `SELECT `+patientCols+` FROM patients WHERE phone = ?`, phone))
	return p, notFound(err)
}

func (s *Store) ListPatientsByIDs(ctx context.Context, ids []string) ([]models.Patient, error) {
	patients := []models.Patient{}
	if len(ids) == 0 {
		return patients, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

/*
|--------------------------------------------------------------------------
| Appointments
|--------------------------------------------------------------------------
*/

const appointmentCols = `id, patient_id, doctor_id, date, slot, status, idempotency_key, created_at, updated_at`

func scanAppointment(row scanner) (models.Appointment, error) {
	var (
		a      models.Appointment
		date   time.Time
		status string
		key    sql.NullString
	)
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &a.Slot, &status, &key, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Appointment{}, err
	}
	a.Date = models.DateOf(date)
	a.Status = models.AppointmentStatus(status)
	a.IdempotencyKey = stringPtr(key)
	return a, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	a, err := scanAppointment(s.db.QueryRowContext(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = ?`, id))
	return a, notFound(err)
}

func (s *Store) GetAppointmentByIdempotencyKey(ctx context.Context, key string) (models.Appointment, error) {
	a, err := scanAppointment(s.db.QueryRowContext(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE idempotency_key = ?`, key))
	return a, notFound(err)
}

func (s *Store) ListAppointmentsByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.Appointment, error) {
	return s.listAppointments(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE doctor_id = ? AND date = ? AND status <> ?
		ORDER BY slot ASC`,
		doctorID, date.String(), string(models.AppointmentCancelled))
}

func (s *Store) ListAppointmentsByDate(ctx context.Context, date models.Date) ([]models.Appointment, error) {
	return s.listAppointments(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE date = ? AND status <> ?
		ORDER BY doctor_id ASC, slot ASC`,
		date.String(), string(models.AppointmentCancelled))
}

func (s *Store) listAppointments(ctx context.Context, query string, args ...any) ([]models.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	list := []models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

/*
|--------------------------------------------------------------------------
| Queue
|--------------------------------------------------------------------------
*/

const queueCols = `q.id, q.appointment_id, q.doctor_id, q.date, q.position, q.checked_in_at, q.status`

func scanQueueEntry(row scanner, extra ...any) (models.QueueEntry, error) {
	var (
		q      models.QueueEntry
		date   time.Time
		status string
	)
	dest := append([]any{&q.ID, &q.AppointmentID, &q.DoctorID, &date, &q.Position, &q.CheckedInAt, &status}, extra...)
	if err := row.Scan(dest...); err != nil {
		return models.QueueEntry{}, err
	}
	q.Date = models.DateOf(date)
	q.Status = models.QueueStatus(status)
	return q, nil
}

func (s *Store) GetQueueEntryByAppointment(ctx context.Context, appointmentID string) (models.QueueEntry, error) {
	q, err := scanQueueEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM queue_entries q WHERE q.appointment_id = ?`, appointmentID))
	return q, notFound(err)
}

func (s *Store) ListQueueByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueCols+`, p.first_name, p.last_name
		FROM queue_entries q
		JOIN appointments a ON a.id = q.appointment_id
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE q.doctor_id = ? AND q.date = ?
		ORDER BY q.position ASC`, doctorID, date.String())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	list := []models.QueueEntry{}
	for rows.Next() {
		var firstName, lastName sql.NullString
		q, err := scanQueueEntry(rows, &firstName, &lastName)
		if err != nil {
			return nil, err
		}
		if firstName.Valid {
			name := models.Patient{FirstName: firstName.String, LastName: stringPtr(lastName)}.FullName()
			q.PatientName = &name
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

func (s *Store) ListQueueByDate(ctx context.Context, date models.Date) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueCols+` FROM queue_entries q WHERE q.date = ? ORDER BY q.doctor_id, q.position`, date.String())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	list := []models.QueueEntry{}
	for rows.Next() {
		q, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

/*
|--------------------------------------------------------------------------
| Helpers
|--------------------------------------------------------------------------
*/

// classify tags deadlocks, lock wait timeouts and dropped connections as
// store.ErrTransient so WithTx retries them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDeadlock || me.Number == errLockWaitTimeout
	}
	return false
}

func isDuplicate(err error, key string) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != errDuplicateEntry {
		return false
	}
	return strings.Contains(me.Message, key)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return classify(err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
