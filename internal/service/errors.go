package service

import "errors"

// Hasil bisnis yang diharapkan. Handler memetakan masing-masing ke kind dan
// status HTTP sendiri; tidak ada yang di-retry di layer service.
var (
	ErrCapacityFull        = errors.New("no available slots for this doctor on this date")
	ErrDoctorUnavailable   = errors.New("doctor is not available on this date")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientMismatch     = errors.New("appointment does not belong to this patient")
	ErrWrongDate           = errors.New("check-in only allowed on the appointment date")
	ErrAlreadyCheckedIn    = errors.New("already checked in")
	ErrNotCheckInable      = errors.New("appointment can no longer be checked in")
	ErrDuplicateDoctorCode = errors.New("doctor code already exists")
	ErrInvalidInput        = errors.New("invalid input")
)
