package models

import "time"

type Doctor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Specialty *string   `json:"specialty"`
	CreatedAt time.Time `json:"created_at"`
}

// DoctorWithAvailability dipakai untuk list dokter dengan filter tanggal.
type DoctorWithAvailability struct {
	Doctor
	IsAvailable bool `json:"is_available"`
}

type Availability struct {
	ID        *string    `json:"id"`
	DoctorID  string     `json:"doctor_id"`
	Date      Date       `json:"date"`
	IsPresent bool       `json:"is_present"`
	Notes     *string    `json:"notes"`
	UpdatedBy *string    `json:"updated_by"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// DailyCapacity is the per (doctor, date) slot counter. 0 <= Remaining <= Capacity.
type DailyCapacity struct {
	DoctorID  string `json:"doctor_id"`
	Date      Date   `json:"date"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
}

type CreateDoctorRequest struct {
	Name      string  `json:"name" validate:"required,min=1,max=200"`
	Code      string  `json:"code" validate:"required,min=1,max=50"`
	Specialty *string `json:"specialty" validate:"omitempty,max=100"`
}

type UpsertAvailabilityRequest struct {
	Date      string  `json:"date" validate:"required"`
	IsPresent *bool   `json:"is_present" validate:"required"`
	Notes     *string `json:"notes"`
	UpdatedBy *string `json:"updated_by" validate:"omitempty,max=100"`
}
