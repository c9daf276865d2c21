package realtime

import (
	"context"
	"sort"
	"time"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
)

// SnapshotStore is the read side the snapshot builder needs.
type SnapshotStore interface {
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	ListAppointmentsByDate(ctx context.Context, date models.Date) ([]models.Appointment, error)
	ListPatientsByIDs(ctx context.Context, ids []string) ([]models.Patient, error)
	ListQueueByDate(ctx context.Context, date models.Date) ([]models.QueueEntry, error)
}

// SnapshotSource produces the full queue view of one date.
type SnapshotSource interface {
	Build(ctx context.Context, date models.Date) (models.QueueSnapshot, error)
}

type SnapshotBuilder struct {
	store SnapshotStore
	clock clock.Clock
}

func NewSnapshotBuilder(st SnapshotStore, clk clock.Clock) *SnapshotBuilder {
	if clk == nil {
		clk = clock.Real()
	}
	return &SnapshotBuilder{store: st, clock: clk}
}

// Build - Susun snapshot semua dokter untuk satu tanggal. Dokter yang tidak
// punya appointment di tanggal itu tidak ikut.
func (b *SnapshotBuilder) Build(ctx context.Context, date models.Date) (models.QueueSnapshot, error) {
	snap := models.QueueSnapshot{
		Date:      date,
		Doctors:   []models.DoctorSchedule{},
		Timestamp: b.clock.Now().UTC().Format(time.RFC3339Nano),
	}

	appointments, err := b.store.ListAppointmentsByDate(ctx, date)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	if len(appointments) == 0 {
		return snap, nil
	}

	doctors, err := b.store.ListDoctors(ctx)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	doctorByID := make(map[string]models.Doctor, len(doctors))
	for _, d := range doctors {
		doctorByID[d.ID] = d
	}

	patientIDs := make([]string, 0, len(appointments))
	seen := map[string]bool{}
	for _, a := range appointments {
		if !seen[a.PatientID] {
			seen[a.PatientID] = true
			patientIDs = append(patientIDs, a.PatientID)
		}
	}
	patients, err := b.store.ListPatientsByIDs(ctx, patientIDs)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	patientByID := make(map[string]models.Patient, len(patients))
	for _, p := range patients {
		patientByID[p.ID] = p
	}

	entries, err := b.store.ListQueueByDate(ctx, date)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	queueByAppt := make(map[string]models.QueueEntry, len(entries))
	for _, q := range entries {
		queueByAppt[q.AppointmentID] = q
	}

	schedules := map[string]*models.DoctorSchedule{}
	for _, a := range appointments {
		d, ok := doctorByID[a.DoctorID]
		if !ok {
			continue
		}

		sched, ok := schedules[d.ID]
		if !ok {
			sched = &models.DoctorSchedule{
				Doctor: models.SnapshotDoctor{
					ID:        d.ID,
					Name:      d.Name,
					Code:      d.Code,
					Specialty: d.Specialty,
				},
				Appointments: []models.SnapshotAppointment{},
			}
			schedules[d.ID] = sched
		}

		item := models.SnapshotAppointment{
			AppointmentID: a.ID,
			Slot:          a.Slot,
			Status:        a.Status,
		}
		if p, ok := patientByID[a.PatientID]; ok {
			item.Patient = &models.SnapshotPatient{
				ID:    p.ID,
				Name:  p.FullName(),
				Phone: p.Phone,
				Age:   p.Age,
			}
		}
		if q, ok := queueByAppt[a.ID]; ok {
			item.Queue = &models.SnapshotQueue{
				Position:    q.Position,
				CheckedInAt: q.CheckedInAt.UTC().Format(time.RFC3339Nano),
				Status:      q.Status,
			}
			sched.CheckedInCount++
		}
		sched.Appointments = append(sched.Appointments, item)
		snap.TotalAppointments++
	}

	for _, sched := range schedules {
		sort.Slice(sched.Appointments, func(i, j int) bool {
			return sched.Appointments[i].Slot < sched.Appointments[j].Slot
		})
		sched.TotalAppointments = len(sched.Appointments)
		snap.Doctors = append(snap.Doctors, *sched)
	}
	sort.Slice(snap.Doctors, func(i, j int) bool {
		if snap.Doctors[i].Doctor.Name != snap.Doctors[j].Doctor.Name {
			return snap.Doctors[i].Doctor.Name < snap.Doctors[j].Doctor.Name
		}
		return snap.Doctors[i].Doctor.ID < snap.Doctors[j].Doctor.ID
	})
	snap.TotalDoctors = len(snap.Doctors)

	return snap, nil
}
