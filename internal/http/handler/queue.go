package handler

import (
	"github.com/gofiber/fiber/v2"

	"backend-klinik/internal/helper"
)

// QueueSnapshot - Snapshot antrean semua dokter untuk satu tanggal, sama
// dengan payload yang dikirim lewat WebSocket. Tanpa ?date= pakai hari ini.
func (h *Handler) QueueSnapshot(c *fiber.Ctx) error {
	date, err := queryDate(c, false)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}
	day := helper.Today(h.Clock, h.Location)
	if date != nil {
		day = *date
	}

	snap, err := h.Snapshots.Build(c.UserContext(), day)
	if err != nil {
		return h.serviceError(c, err, "Failed to load queue snapshot")
	}
	return success(c, fiber.StatusOK, snap)
}
