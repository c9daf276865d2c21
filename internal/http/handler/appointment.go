package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"backend-klinik/internal/models"
)

// BookAppointment - Booking slot dokter. idempotency_key boleh dikirim di
// body atau header Idempotency-Key; request ulang dengan key sama
// mengembalikan appointment yang sama tanpa memakai slot baru.
func (h *Handler) BookAppointment(c *fiber.Ctx) error {
	var req models.BookAppointmentRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	key := req.IdempotencyKey
	if key == nil {
		if hdr := strings.TrimSpace(c.Get("Idempotency-Key")); hdr != "" {
			key = &hdr
		}
	}

	appt, err := h.Booking.Book(c.UserContext(), req.PatientID, req.DoctorID, date, key)
	if err != nil {
		return h.serviceError(c, err, "Booking failed")
	}
	return success(c, fiber.StatusCreated, appt)
}

// GetAppointment - Ambil appointment berdasarkan ID
func (h *Handler) GetAppointment(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.validUUID(id) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "id must be a valid UUID")
	}

	appt, err := h.Booking.GetAppointment(c.UserContext(), id)
	if err != nil {
		return h.serviceError(c, err, "Failed to get appointment")
	}
	return success(c, fiber.StatusOK, appt)
}

// ListDoctorAppointments - Appointment dokter di satu tanggal, urut slot
func (h *Handler) ListDoctorAppointments(c *fiber.Ctx) error {
	doctorID := c.Params("doctorId")
	if !h.validUUID(doctorID) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "doctorId must be a valid UUID")
	}
	date, err := queryDate(c, true)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	list, err := h.Booking.ListByDoctorDate(c.UserContext(), doctorID, *date)
	if err != nil {
		return h.serviceError(c, err, "Failed to list appointments")
	}
	if list == nil {
		list = []models.Appointment{}
	}
	return success(c, fiber.StatusOK, list)
}
