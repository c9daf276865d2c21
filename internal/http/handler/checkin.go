package handler

import (
	"github.com/gofiber/fiber/v2"

	"backend-klinik/internal/models"
)

// CheckInPatient - Check-in pasien, hanya di hari appointment. Posisi
// antrean diberikan sesuai urutan check-in.
func (h *Handler) CheckInPatient(c *fiber.Ctx) error {
	var req models.CheckInRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	entry, err := h.CheckIn.CheckIn(c.UserContext(), req.AppointmentID, req.PatientID)
	if err != nil {
		return h.serviceError(c, err, "Check-in failed")
	}

	return success(c, fiber.StatusCreated, models.CheckInResponse{
		QueuePosition: entry.Position,
		CheckedInAt:   entry.CheckedInAt,
		AppointmentID: entry.AppointmentID,
	})
}

// DoctorQueue - Antrean dokter di satu tanggal, urut posisi
func (h *Handler) DoctorQueue(c *fiber.Ctx) error {
	doctorID := c.Params("doctorId")
	if !h.validUUID(doctorID) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "doctorId must be a valid UUID")
	}
	date, err := queryDate(c, true)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	queue, err := h.CheckIn.Queue(c.UserContext(), doctorID, *date)
	if err != nil {
		return h.serviceError(c, err, "Failed to get queue")
	}
	if queue == nil {
		queue = []models.QueueEntry{}
	}
	return success(c, fiber.StatusOK, queue)
}
