package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"

	"backend-klinik/internal/http/middleware"
)

// NewApp builds the fiber app with middleware and every route registered.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "backend-klinik",
		CaseSensitive:         true,
		StrictRouting:         false,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(h.logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(h.logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Idempotency-Key",
		AllowMethods: "GET,POST,OPTIONS",
	}))

	h.Register(app)
	return app
}

func (h *Handler) Register(app *fiber.App) {
	app.Get("/health", h.Health)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/queue", websocket.New(h.QueueWebSocket))

	api := app.Group("/api/v1")

	patients := api.Group("/patients")
	patients.Post("/", h.CreatePatient)
	patients.Get("/search", h.SearchPatient)
	patients.Get("/:id", h.GetPatient)

	doctors := api.Group("/doctors")
	doctors.Post("/", h.CreateDoctor)
	doctors.Get("/", h.ListDoctors)
	doctors.Get("/:id", h.GetDoctor)
	doctors.Post("/:id/availability", h.SetAvailability)
	doctors.Get("/:id/availability", h.GetAvailability)
	doctors.Get("/:id/capacity", h.GetCapacity)

	appointments := api.Group("/appointments")
	appointments.Post("/", h.BookAppointment)
	appointments.Get("/doctors/:doctorId", h.ListDoctorAppointments)
	appointments.Get("/:id", h.GetAppointment)

	checkins := api.Group("/checkins")
	checkins.Post("/", h.CheckInPatient)
	checkins.Get("/doctors/:doctorId/queue", h.DoctorQueue)

	api.Get("/queue/snapshot", h.QueueSnapshot)
	api.Get("/stats", h.DailyStats)
}
