package models

// QueueSnapshot is the full, recomputed view of one date across all doctors.
// It is derived on demand and never stored.
type QueueSnapshot struct {
	Date              Date             `json:"date"`
	TotalAppointments int              `json:"total_appointments"`
	TotalDoctors      int              `json:"total_doctors"`
	Doctors           []DoctorSchedule `json:"doctors"`
	Timestamp         string           `json:"timestamp"`
}

type DoctorSchedule struct {
	Doctor            SnapshotDoctor        `json:"doctor"`
	Appointments      []SnapshotAppointment `json:"appointments"`
	TotalAppointments int                   `json:"total_appointments"`
	CheckedInCount    int                   `json:"checked_in_count"`
}

type SnapshotDoctor struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Code      string  `json:"code"`
	Specialty *string `json:"specialty"`
}

type SnapshotAppointment struct {
	AppointmentID string            `json:"appointment_id"`
	Slot          int               `json:"slot"`
	Status        AppointmentStatus `json:"status"`
	Patient       *SnapshotPatient  `json:"patient"`
	Queue         *SnapshotQueue    `json:"queue"`
}

type SnapshotPatient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Age   *int   `json:"age"`
}

type SnapshotQueue struct {
	Position    int         `json:"position"`
	CheckedInAt string      `json:"checked_in_at"`
	Status      QueueStatus `json:"status"`
}
