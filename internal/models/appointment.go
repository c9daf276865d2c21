package models

import "time"

type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentCheckedIn AppointmentStatus = "checked_in"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

type Appointment struct {
	ID             string            `json:"id"`
	PatientID      string            `json:"patient_id"`
	DoctorID       string            `json:"doctor_id"`
	Date           Date              `json:"date"`
	Slot           int               `json:"slot"`
	Status         AppointmentStatus `json:"status"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type BookAppointmentRequest struct {
	PatientID      string  `json:"patient_id" validate:"required,uuid"`
	DoctorID       string  `json:"doctor_id" validate:"required,uuid"`
	Date           string  `json:"date" validate:"required"`
	IdempotencyKey *string `json:"idempotency_key" validate:"omitempty,min=1,max=255"`
}
