// Package handler holds the fiber REST handlers and the queue WebSocket.
package handler

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
	"backend-klinik/internal/realtime"
	"backend-klinik/internal/service"
	"backend-klinik/internal/stats"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Booking   *service.BookingEngine
	CheckIn   *service.CheckInEngine
	Doctors   *service.DoctorService
	Patients  *service.PatientService
	Hub       *realtime.Hub
	Snapshots realtime.SnapshotSource
	Stats     *stats.Recorder
	Clock     clock.Clock
	Location  *time.Location

	Environment  string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	Logger zerolog.Logger
}

type Handler struct {
	Deps
	validate *validator.Validate
	logger   zerolog.Logger
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.PingInterval <= 0 {
		d.PingInterval = 20 * time.Second
	}
	if d.PongTimeout <= 0 {
		d.PongTimeout = 60 * time.Second
	}
	if d.WriteTimeout <= 0 {
		d.WriteTimeout = 3 * time.Second
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// pesan validasi pakai nama field JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Deps:     d,
		validate: v,
		logger:   d.Logger.With().Str("component", "http").Logger(),
	}
}

/*
|--------------------------------------------------------------------------
| Response helpers
|--------------------------------------------------------------------------
*/

const (
	kindValidation       = "ValidationError"
	kindNotFound         = "NotFound"
	kindCapacityFull     = "CapacityFull"
	kindDoctorUnavail    = "DoctorUnavailable"
	kindPatientMismatch  = "PatientMismatch"
	kindInvalidDate      = "InvalidDate"
	kindAlreadyCheckedIn = "AlreadyCheckedIn"
	kindNotCheckInable   = "NotCheckInable"
	kindConflict         = "Conflict"
	kindInternal         = "InternalError"
)

func success(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func fail(c *fiber.Ctx, status int, kind, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   kind,
		"message": message,
	})
}

// serviceError memetakan error service ke kind + status HTTP. Error yang
// tidak dikenal di-log dan dibalas 500 dengan pesan generik.
func (h *Handler) serviceError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, service.ErrCapacityFull):
		return fail(c, fiber.StatusConflict, kindCapacityFull, err.Error())
	case errors.Is(err, service.ErrDoctorUnavailable):
		return fail(c, fiber.StatusUnprocessableEntity, kindDoctorUnavail, err.Error())
	case errors.Is(err, service.ErrDoctorNotFound),
		errors.Is(err, service.ErrPatientNotFound),
		errors.Is(err, service.ErrAppointmentNotFound):
		return fail(c, fiber.StatusNotFound, kindNotFound, err.Error())
	case errors.Is(err, service.ErrPatientMismatch):
		return fail(c, fiber.StatusForbidden, kindPatientMismatch, err.Error())
	case errors.Is(err, service.ErrWrongDate):
		return fail(c, fiber.StatusUnprocessableEntity, kindInvalidDate, err.Error())
	case errors.Is(err, service.ErrAlreadyCheckedIn):
		return fail(c, fiber.StatusConflict, kindAlreadyCheckedIn, err.Error())
	case errors.Is(err, service.ErrNotCheckInable):
		return fail(c, fiber.StatusConflict, kindNotCheckInable, err.Error())
	case errors.Is(err, service.ErrDuplicateDoctorCode):
		return fail(c, fiber.StatusConflict, kindConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		return fail(c, fiber.StatusBadRequest, kindValidation, err.Error())
	}

	h.logger.Error().Err(err).
		Str("path", c.Path()).
		Str("request_id", requestID(c)).
		Msg(fallback)
	return fail(c, fiber.StatusInternalServerError, kindInternal, fallback)
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

/*
|--------------------------------------------------------------------------
| Input helpers
|--------------------------------------------------------------------------
*/

// parseBody - BodyParser + validator. Error yang dikembalikan adalah
// *fiber.Error 400; ErrorHandler yang merender envelope-nya.
func (h *Handler) parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "uuid":
			msgs = append(msgs, field+" must be a valid UUID")
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		default:
			msgs = append(msgs, field+" failed "+fe.Tag()+" "+fe.Param())
		}
	}
	return strings.Join(msgs, "; ")
}

func (h *Handler) validUUID(s string) bool {
	return h.validate.Var(s, "required,uuid") == nil
}

// queryDate reads ?date=YYYY-MM-DD; required says whether it may be absent.
func queryDate(c *fiber.Ctx, required bool) (*models.Date, error) {
	raw := strings.TrimSpace(c.Query("date"))
	if raw == "" {
		if required {
			return nil, errors.New("date query parameter is required (YYYY-MM-DD)")
		}
		return nil, nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ErrorHandler menjaga envelope error tetap sama untuk error yang keluar
// dari fiber sendiri (404 route, body terlalu besar, panic yang di-recover).
func ErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			kind := kindValidation
			switch {
			case fe.Code == fiber.StatusNotFound:
				kind = kindNotFound
			case fe.Code >= fiber.StatusInternalServerError:
				kind = kindInternal
			}
			return fail(c, fe.Code, kind, fe.Message)
		}
		logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		return fail(c, fiber.StatusInternalServerError, kindInternal, "Internal server error")
	}
}
