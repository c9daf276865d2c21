package handler

import (
	"github.com/gofiber/fiber/v2"

	"backend-klinik/internal/models"
)

// CreateDoctor - Tambah dokter baru, kode harus unik
func (h *Handler) CreateDoctor(c *fiber.Ctx) error {
	var req models.CreateDoctorRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	d, err := h.Doctors.Create(c.UserContext(), req)
	if err != nil {
		return h.serviceError(c, err, "Failed to create doctor")
	}
	return success(c, fiber.StatusCreated, d)
}

// ListDoctors - Ambil semua dokter. Dengan ?date= tiap dokter membawa
// is_available untuk tanggal itu.
func (h *Handler) ListDoctors(c *fiber.Ctx) error {
	date, err := queryDate(c, false)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	doctors, err := h.Doctors.List(c.UserContext(), date)
	if err != nil {
		return h.serviceError(c, err, "Failed to list doctors")
	}

	if date == nil {
		plain := make([]models.Doctor, 0, len(doctors))
		for _, d := range doctors {
			plain = append(plain, d.Doctor)
		}
		return success(c, fiber.StatusOK, plain)
	}
	return success(c, fiber.StatusOK, doctors)
}

// GetDoctor - Ambil dokter berdasarkan ID
func (h *Handler) GetDoctor(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.validUUID(id) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "id must be a valid UUID")
	}

	d, err := h.Doctors.Get(c.UserContext(), id)
	if err != nil {
		return h.serviceError(c, err, "Failed to get doctor")
	}
	return success(c, fiber.StatusOK, d)
}

// SetAvailability - Upsert kehadiran dokter per tanggal
func (h *Handler) SetAvailability(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.validUUID(id) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "id must be a valid UUID")
	}

	var req models.UpsertAvailabilityRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	a, err := h.Doctors.SetAvailability(c.UserContext(), id, date, *req.IsPresent, req.Notes, req.UpdatedBy)
	if err != nil {
		return h.serviceError(c, err, "Failed to update availability")
	}
	return success(c, fiber.StatusOK, a)
}

// GetAvailability - Kehadiran dokter di satu tanggal
func (h *Handler) GetAvailability(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.validUUID(id) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "id must be a valid UUID")
	}
	date, err := queryDate(c, true)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	a, err := h.Doctors.GetAvailability(c.UserContext(), id, *date)
	if err != nil {
		return h.serviceError(c, err, "Failed to get availability")
	}
	return success(c, fiber.StatusOK, a)
}

// GetCapacity - Sisa slot dokter di satu tanggal
func (h *Handler) GetCapacity(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.validUUID(id) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "id must be a valid UUID")
	}
	date, err := queryDate(c, true)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	capacity, err := h.Doctors.Capacity(c.UserContext(), id, *date)
	if err != nil {
		return h.serviceError(c, err, "Failed to get capacity")
	}
	return success(c, fiber.StatusOK, capacity)
}
