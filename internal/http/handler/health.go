package handler

import "github.com/gofiber/fiber/v2"

// Health - cek server hidup
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"environment": h.Environment,
	})
}
