// Package sqlitestore is the embedded store.Store used for local runs and
// tests. Every write transaction is BEGIN IMMEDIATE, so writers for the same
// database are serialised by SQLite itself and the capacity / position
// counters are updated with a single conditional statement.
package sqlitestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
)

const timeLayout = time.RFC3339Nano

type Store struct {
	pool   *pool
	retry  store.RetryPolicy
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

type Options struct {
	Path     string
	PoolSize int
	Retry    store.RetryPolicy
	Logger   zerolog.Logger
}

// Open opens the database file and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger.With().Str("component", "store").Str("driver", "sqlite").Logger()
	p, err := openPool(opts.Path, opts.PoolSize, logger)
	if err != nil {
		return nil, err
	}

	retry := opts.Retry
	if retry.Attempts <= 0 {
		retry = store.DefaultRetryPolicy()
	}

	s := &Store{pool: p, retry: retry, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		_ = p.close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.pool.close()
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

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify(fmt.Errorf("sqlitestore: begin: %w", err))
	}
	defer func() {
		endTransaction(&err)
		err = classify(err)
	}()

	return fn(&tx{conn: conn})
}

type tx struct {
	conn *sqlite.Conn
}

func (t *tx) ReserveSlot(ctx context.Context, doctorID string, date models.Date, defaultCapacity int) (int, error) {
	err := sqlitex.Execute(t.conn, `
		INSERT INTO daily_capacities (doctor_id, date, capacity, remaining)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (doctor_id, date) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{doctorID, date.String(), defaultCapacity, defaultCapacity}})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: ensure capacity: %w", err)
	}

	slot, found := 0, false
	err = sqlitex.Execute(t.conn, `
		UPDATE daily_capacities
		SET remaining = remaining - 1
		WHERE doctor_id = ? AND date = ? AND remaining > 0
		RETURNING capacity, remaining`,
		&sqlitex.ExecOptions{
			Args: []any{doctorID, date.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				slot = stmt.ColumnInt(0) - stmt.ColumnInt(1)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: reserve slot: %w", err)
	}
	if !found {
		return 0, store.ErrCapacityExhausted
	}
	return slot, nil
}

func (t *tx) InsertAppointment(ctx context.Context, a models.Appointment) error {
	err := sqlitex.Execute(t.conn, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, date, slot, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			a.ID, a.PatientID, a.DoctorID, a.Date.String(), a.Slot, string(a.Status),
			nullString(a.IdempotencyKey), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		}})
	if isUnique(err, "appointments.idempotency_key") {
		return store.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("sqlitestore: insert appointment: %w", err)
	}
	return nil
}

func (t *tx) NextPosition(ctx context.Context, doctorID string, date models.Date) (int, error) {
	position := 0
	err := sqlitex.Execute(t.conn, `
		INSERT INTO queue_counters (doctor_id, date, last_position)
		VALUES (?, ?, 1)
		ON CONFLICT (doctor_id, date) DO UPDATE SET last_position = last_position + 1
		RETURNING last_position`,
		&sqlitex.ExecOptions{
			Args: []any{doctorID, date.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				position = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: next position: %w", err)
	}
	return position, nil
}

func (t *tx) MarkCheckedIn(ctx context.Context, appointmentID string) (bool, error) {
	err := sqlitex.Execute(t.conn, `
		UPDATE appointments
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{
			string(models.AppointmentCheckedIn), formatTime(time.Now()),
			appointmentID, string(models.AppointmentBooked),
		}})
	if err != nil {
		return false, fmt.Errorf("sqlitestore: mark checked in: %w", err)
	}
	return t.conn.Changes() == 1, nil
}

func (t *tx) InsertQueueEntry(ctx context.Context, q models.QueueEntry) error {
	err := sqlitex.Execute(t.conn, `
		INSERT INTO queue_entries
			(id, appointment_id, doctor_id, date, position, checked_in_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			q.ID, q.AppointmentID, q.DoctorID, q.Date.String(), q.Position,
			formatTime(q.CheckedInAt), string(q.Status),
		}})
	if isUnique(err, "queue_entries.appointment_id") {
		return store.ErrAlreadyQueued
	}
	if err != nil {
		return fmt.Errorf("sqlitestore: insert queue entry: %w", err)
	}
	return nil
}

/*
|--------------------------------------------------------------------------
| Reads and simple writes
|--------------------------------------------------------------------------
*/

// exec runs a single statement on a pooled connection outside any explicit
// transaction.
func (s *Store) exec(ctx context.Context, query string, args []any, fn func(stmt *sqlite.Stmt) error) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)

	return classify(sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: fn}))
}

const doctorCols = `id, name, code, specialty, created_at`

func scanDoctor(stmt *sqlite.Stmt) models.Doctor {
	return models.Doctor{
		ID:        stmt.ColumnText(0),
		Name:      stmt.ColumnText(1),
		Code:      stmt.ColumnText(2),
		Specialty: columnString(stmt, 3),
		CreatedAt: parseTime(stmt.ColumnText(4)),
	}
}

func (s *Store) CreateDoctor(ctx context.Context, d models.Doctor) error {
	err := s.exec(ctx, `INSERT INTO doctors (`+doctorCols+`) VALUES (?, ?, ?, ?, ?)`,
		[]any{d.ID, d.Name, d.Code, nullString(d.Specialty), formatTime(d.CreatedAt)}, nil)
	if isUnique(err, "doctors.code") {
		return store.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetDoctor(ctx context.Context, id string) (models.Doctor, error) {
	return s.getDoctor(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = ?`, id)
}

func (s *Store) GetDoctorByCode(ctx context.Context, code string) (models.Doctor, error) {
	return s.getDoctor(ctx, `SELECT `+doctorCols+` FROM doctors WHERE code = ?`, code)
}

func (s *Store) getDoctor(ctx context.Context, query string, arg string) (models.Doctor, error) {
	var d models.Doctor
	found := false
	err := s.exec(ctx, query, []any{arg}, func(stmt *sqlite.Stmt) error {
		d = scanDoctor(stmt)
		found = true
		return nil
	})
	if err != nil {
		return models.Doctor{}, err
	}
	if !found {
		return models.Doctor{}, store.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	doctors := []models.Doctor{}
	err := s.exec(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY name ASC`, nil, func(stmt *sqlite.Stmt) error {
		doctors = append(doctors, scanDoctor(stmt))
		return nil
	})
	return doctors, err
}

const availabilityCols = `id, doctor_id, date, is_present, notes, updated_by, updated_at`

func scanAvailability(stmt *sqlite.Stmt) models.Availability {
	id := stmt.ColumnText(0)
	updatedAt := parseTime(stmt.ColumnText(6))
	return models.Availability{
		ID:        &id,
		DoctorID:  stmt.ColumnText(1),
		Date:      models.Date(stmt.ColumnText(2)),
		IsPresent: stmt.ColumnInt(3) != 0,
		Notes:     columnString(stmt, 4),
		UpdatedBy: columnString(stmt, 5),
		UpdatedAt: &updatedAt,
	}
}

func (s *Store) UpsertAvailability(ctx context.Context, a models.Availability) (models.Availability, error) {
	var out models.Availability
	id := ""
	if a.ID != nil {
		id = *a.ID
	}
	updatedAt := time.Now()
	if a.UpdatedAt != nil {
		updatedAt = *a.UpdatedAt
	}

	err := s.exec(ctx, `
		INSERT INTO doctor_availabilities (`+availabilityCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doctor_id, date) DO UPDATE SET
			is_present = excluded.is_present,
			notes = excluded.notes,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
		RETURNING `+availabilityCols,
		[]any{id, a.DoctorID, a.Date.String(), boolInt(a.IsPresent), nullString(a.Notes), nullString(a.UpdatedBy), formatTime(updatedAt)},
		func(stmt *sqlite.Stmt) error {
			out = scanAvailability(stmt)
			return nil
		})
	if err != nil {
		return models.Availability{}, err
	}
	return out, nil
}

func (s *Store) GetAvailability(ctx context.Context, doctorID string, date models.Date) (models.Availability, error) {
	var a models.Availability
	found := false
	err := s.exec(ctx, `SELECT `+availabilityCols+` FROM doctor_availabilities WHERE doctor_id = ? AND date = ?`,
		[]any{doctorID, date.String()}, func(stmt *sqlite.Stmt) error {
			a = scanAvailability(stmt)
			found = true
			return nil
		})
	if err != nil {
		return models.Availability{}, err
	}
	if !found {
		return models.Availability{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAvailability(ctx context.Context, date models.Date) ([]models.Availability, error) {
	list := []models.Availability{}
	err := s.exec(ctx, `SELECT `+availabilityCols+` FROM doctor_availabilities WHERE date = ?`,
		[]any{date.String()}, func(stmt *sqlite.Stmt) error {
			list = append(list, scanAvailability(stmt))
			return nil
		})
	return list, err
}

func (s *Store) GetCapacity(ctx context.Context, doctorID string, date models.Date) (models.DailyCapacity, error) {
	var c models.DailyCapacity
	found := false
	err := s.exec(ctx, `SELECT doctor_id, date, capacity, remaining FROM daily_capacities WHERE doctor_id = ? AND date = ?`,
		[]any{doctorID, date.String()}, func(stmt *sqlite.Stmt) error {
			c = models.DailyCapacity{
				DoctorID:  stmt.ColumnText(0),
				Date:      models.Date(stmt.ColumnText(1)),
				Capacity:  stmt.ColumnInt(2),
				Remaining: stmt.ColumnInt(3),
			}
			found = true
			return nil
		})
	if err != nil {
		return models.DailyCapacity{}, err
	}
	if !found {
		return models.DailyCapacity{}, store.ErrNotFound
	}
	return c, nil
}

const patientCols = `id, first_name, last_name, age, phone, email, created_at`

func scanPatient(stmt *sqlite.Stmt) models.Patient {
	p := models.Patient{
		ID:        stmt.ColumnText(0),
		FirstName: stmt.ColumnText(1),
		LastName:  columnString(stmt, 2),
		Phone:     stmt.ColumnText(4),
		Email:     columnString(stmt, 5),
		CreatedAt: parseTime(stmt.ColumnText(6)),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		age := stmt.ColumnInt(3)
		p.Age = &age
	}
	return p
}

func (s *Store) CreatePatient(ctx context.Context, p models.Patient) error {
	var age any
	if p.Age != nil {
		age = *p.Age
	}
	err := s.exec(ctx, `INSERT INTO patients (`+patientCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{p.ID, p.FirstName, nullString(p.LastName), age, p.Phone, nullString(p.Email), formatTime(p.CreatedAt)}, nil)
	if isUnique(err, "patients.phone") {
		return store.ErrDuplicatePhone
	}
	return err
}

func (s *Store) GetPatient(ctx context.Context, id string) (models.Patient, error) {
	return s.getPatient(ctx, `SELECT `+patientCols+` FROM patients WHERE id = ?`, id)
}

func (s *Store) GetPatientByPhone(ctx context.Context, phone string) (models.Patient, error) {
	return s.getPatient(ctx, `SELECT `+patientCols+` FROM patients WHERE phone = ?`, phone)
}

func (s *Store) getPatient(ctx context.Context, query, arg string) (models.Patient, error) {
	var p models.Patient
	found := false
	err := s.exec(ctx, query, []any{arg}, func(stmt *sqlite.Stmt) error {
		p = scanPatient(stmt)
		found = true
		return nil
	})
	if err != nil {
		return models.Patient{}, err
	}
	if !found {
		return models.Patient{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPatientsByIDs(ctx context.Context, ids []string) ([]models.Patient, error) {
	patients := []models.Patient{}
	if len(ids) == 0 {
		return patients, nil
	}

	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + patientCols + ` FROM patients WHERE id IN (` + placeholders(len(ids)) + `)`
	err = sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			patients = append(patients, scanPatient(stmt))
			return nil
		},
	})
	return patients, classify(err)
}

const appointmentCols = `id, patient_id, doctor_id, date, slot, status, idempotency_key, created_at, updated_at`

func scanAppointment(stmt *sqlite.Stmt) models.Appointment {
	return models.Appointment{
		ID:             stmt.ColumnText(0),
		PatientID:      stmt.ColumnText(1),
		DoctorID:       stmt.ColumnText(2),
		Date:           models.Date(stmt.ColumnText(3)),
		Slot:           stmt.ColumnInt(4),
		Status:         models.AppointmentStatus(stmt.ColumnText(5)),
		IdempotencyKey: columnString(stmt, 6),
		CreatedAt:      parseTime(stmt.ColumnText(7)),
		UpdatedAt:      parseTime(stmt.ColumnText(8)),
	}
}

func (s *Store) GetAppointment(ctx context.Context, id string) (models.Appointment, error) {
	return s.getAppointment(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = ?`, id)
}

func (s *Store) GetAppointmentByIdempotencyKey(ctx context.Context, key string) (models.Appointment, error) {
	return s.getAppointment(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE idempotency_key = ?`, key)
}

func (s *Store) getAppointment(ctx context.Context, query, arg string) (models.Appointment, error) {
	var a models.Appointment
	found := false
	err := s.exec(ctx, query, []any{arg}, func(stmt *sqlite.Stmt) error {
		a = scanAppointment(stmt)
		found = true
		return nil
	})
	if err != nil {
		return models.Appointment{}, err
	}
	if !found {
		return models.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAppointmentsByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.Appointment, error) {
	list := []models.Appointment{}
	err := s.exec(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE doctor_id = ? AND date = ? AND status != ?
		ORDER BY slot ASC`,
		[]any{doctorID, date.String(), string(models.AppointmentCancelled)},
		func(stmt *sqlite.Stmt) error {
			list = append(list, scanAppointment(stmt))
			return nil
		})
	return list, err
}

func (s *Store) ListAppointmentsByDate(ctx context.Context, date models.Date) ([]models.Appointment, error) {
	list := []models.Appointment{}
	err := s.exec(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE date = ? AND status != ?
		ORDER BY doctor_id ASC, slot ASC`,
		[]any{date.String(), string(models.AppointmentCancelled)},
		func(stmt *sqlite.Stmt) error {
			list = append(list, scanAppointment(stmt))
			return nil
		})
	return list, err
}

const queueCols = `q.id, q.appointment_id, q.doctor_id, q.date, q.position, q.checked_in_at, q.status`

func scanQueueEntry(stmt *sqlite.Stmt) models.QueueEntry {
	return models.QueueEntry{
		ID:            stmt.ColumnText(0),
		AppointmentID: stmt.ColumnText(1),
		DoctorID:      stmt.ColumnText(2),
		Date:          models.Date(stmt.ColumnText(3)),
		Position:      stmt.ColumnInt(4),
		CheckedInAt:   parseTime(stmt.ColumnText(5)),
		Status:        models.QueueStatus(stmt.ColumnText(6)),
	}
}

func (s *Store) GetQueueEntryByAppointment(ctx context.Context, appointmentID string) (models.QueueEntry, error) {
	var q models.QueueEntry
	found := false
	err := s.exec(ctx, `SELECT `+queueCols+` FROM queue_entries q WHERE q.appointment_id = ?`,
		[]any{appointmentID}, func(stmt *sqlite.Stmt) error {
			q = scanQueueEntry(stmt)
			found = true
			return nil
		})
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		return models.QueueEntry{}, store.ErrNotFound
	}
	return q, nil
}

func (s *Store) ListQueueByDoctorDate(ctx context.Context, doctorID string, date models.Date) ([]models.QueueEntry, error) {
	list := []models.QueueEntry{}
	err := s.exec(ctx, `
		SELECT `+queueCols+`, p.first_name, p.last_name
		FROM queue_entries q
		JOIN appointments a ON a.id = q.appointment_id
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE q.doctor_id = ? AND q.date = ?
		ORDER BY q.position ASC`,
		[]any{doctorID, date.String()},
		func(stmt *sqlite.Stmt) error {
			q := scanQueueEntry(stmt)
			if stmt.ColumnType(7) != sqlite.TypeNull {
				p := models.Patient{FirstName: stmt.ColumnText(7), LastName: columnString(stmt, 8)}
				name := p.FullName()
				q.PatientName = &name
			}
			list = append(list, q)
			return nil
		})
	return list, err
}

func (s *Store) ListQueueByDate(ctx context.Context, date models.Date) ([]models.QueueEntry, error) {
	list := []models.QueueEntry{}
	err := s.exec(ctx, `SELECT `+queueCols+` FROM queue_entries q WHERE q.date = ? ORDER BY q.doctor_id, q.position`,
		[]any{date.String()}, func(stmt *sqlite.Stmt) error {
			list = append(list, scanQueueEntry(stmt))
			return nil
		})
	return list, err
}

/*
|--------------------------------------------------------------------------
| Helpers
|--------------------------------------------------------------------------
*/

// classify tags lock contention as store.ErrTransient so WithTx retries it.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}

func isUnique(err error, column string) bool {
	if err == nil {
		return false
	}
	code := sqlite.ErrCode(err)
	if code != sqlite.ResultConstraintUnique && code != sqlite.ResultConstraintPrimaryKey {
		return false
	}
	return strings.Contains(err.Error(), column)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func columnString(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	v := stmt.ColumnText(col)
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
