package handler

import (
	"github.com/gofiber/fiber/v2"

	"backend-klinik/internal/helper"
)

// DailyStats - Counter harian dari Redis.
// Kalau Redis tidak dikonfigurasi semua nol dengan enabled=false.
func (h *Handler) DailyStats(c *fiber.Ctx) error {
	date, err := queryDate(c, false)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}
	day := helper.Today(h.Clock, h.Location)
	if date != nil {
		day = *date
	}

	daily, err := h.Stats.Daily(c.UserContext(), day)
	if err != nil {
		return h.serviceError(c, err, "Failed to read stats")
	}
	return success(c, fiber.StatusOK, daily)
}
