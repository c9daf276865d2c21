package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"backend-klinik/internal/models"
)

// CreatePatient - Daftarkan pasien. Nomor telepon yang sudah terdaftar
// mengembalikan pasien lama dengan status 200.
func (h *Handler) CreatePatient(c *fiber.Ctx) error {
	var req models.CreatePatientRequest
	if err := h.parseBody(c, &req); err != nil {
		return err
	}

	p, created, err := h.Patients.Register(c.UserContext(), req)
	if err != nil {
		return h.serviceError(c, err, "Failed to register patient")
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return success(c, status, p)
}

// SearchPatient - Cari pasien berdasarkan nomor telepon
func (h *Handler) SearchPatient(c *fiber.Ctx) error {
	phone := strings.TrimSpace(c.Query("phone"))
	if phone == "" {
		return fail(c, fiber.StatusBadRequest, kindValidation, "phone query parameter is required")
	}

	p, err := h.Patients.FindByPhone(c.UserContext(), phone)
	if err != nil {
		return h.serviceError(c, err, "Failed to search patient")
	}
	return success(c, fiber.StatusOK, p)
}

// GetPatient - Ambil pasien berdasarkan ID
func (h *Handler) GetPatient(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.validUUID(id) {
		return fail(c, fiber.StatusBadRequest, kindValidation, "id must be a valid UUID")
	}

	p, err := h.Patients.Get(c.UserContext(), id)
	if err != nil {
		return h.serviceError(c, err, "Failed to get patient")
	}
	return success(c, fiber.StatusOK, p)
}
