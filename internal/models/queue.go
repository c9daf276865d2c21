package models

import (
	"time"
)

type QueueStatus string

const (
	QueueWaiting QueueStatus = "waiting"
	QueueServed  QueueStatus = "served"
	QueueSkipped QueueStatus = "skipped"
)

type QueueEntry struct {
	ID            string      `json:"id"`
	AppointmentID string      `json:"appointment_id"`
	DoctorID      string      `json:"doctor_id"`
	Date          Date        `json:"date"`
	Position      int         `json:"position"`
	CheckedInAt   time.Time   `json:"checked_in_at"`
	Status        QueueStatus `json:"status"`
	PatientName   *string     `json:"patient_name,omitempty"`
}

type CheckInRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	PatientID     string `json:"patient_id" validate:"required,uuid"`
}

type CheckInResponse struct {
	QueuePosition int       `json:"queue_position"`
	CheckedInAt   time.Time `json:"checked_in_at"`
	AppointmentID string    `json:"appointment_id"`
}
