package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
)

type DoctorService struct {
	store            store.Store
	capacity         int
	defaultAvailable bool
	clock            clock.Clock
	logger           zerolog.Logger
}

func NewDoctorService(st store.Store, cfg BookingConfig, clk clock.Clock, logger zerolog.Logger) *DoctorService {
	if clk == nil {
		clk = clock.Real()
	}
	return &DoctorService{
		store:            st,
		capacity:         cfg.Capacity,
		defaultAvailable: cfg.DefaultAvailable,
		clock:            clk,
		logger:           logger.With().Str("component", "doctor").Logger(),
	}
}

// Create - Tambah dokter baru. Kode dokter harus unik.
func (s *DoctorService) Create(ctx context.Context, req models.CreateDoctorRequest) (models.Doctor, error) {
	d := models.Doctor{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Code:      strings.ToUpper(strings.TrimSpace(req.Code)),
		Specialty: req.Specialty,
		CreatedAt: s.clock.Now().UTC(),
	}
	if d.Name == "" || d.Code == "" {
		return models.Doctor{}, ErrInvalidInput
	}

	if err := s.store.CreateDoctor(ctx, d); err != nil {
		if errors.Is(err, store.ErrDuplicateCode) {
			return models.Doctor{}, ErrDuplicateDoctorCode
		}
		return models.Doctor{}, err
	}

	s.logger.Info().Str("doctor_id", d.ID).Str("code", d.Code).Msg("doctor created")
	return d, nil
}

func (s *DoctorService) Get(ctx context.Context, id string) (models.Doctor, error) {
	d, err := s.store.GetDoctor(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Doctor{}, ErrDoctorNotFound
	}
	return d, err
}

// List returns doctors sorted by name. With a date, each carries whether
// the doctor takes bookings that day under the availability policy.
func (s *DoctorService) List(ctx context.Context, date *models.Date) ([]models.DoctorWithAvailability, error) {
	doctors, err := s.store.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}

	present := map[string]bool{}
	if date != nil {
		records, err := s.store.ListAvailability(ctx, *date)
		if err != nil {
			return nil, err
		}
		for _, a := range records {
			present[a.DoctorID] = a.IsPresent
		}
	}

	out := make([]models.DoctorWithAvailability, 0, len(doctors))
	for _, d := range doctors {
		available := true
		if date != nil {
			v, ok := present[d.ID]
			available = s.defaultAvailable
			if ok {
				available = v
			}
		}
		out = append(out, models.DoctorWithAvailability{Doctor: d, IsAvailable: available})
	}
	return out, nil
}

// SetAvailability upsert kehadiran dokter untuk satu tanggal.
func (s *DoctorService) SetAvailability(ctx context.Context, doctorID string, date models.Date, isPresent bool, notes, updatedBy *string) (models.Availability, error) {
	if _, err := s.Get(ctx, doctorID); err != nil {
		return models.Availability{}, err
	}

	id := uuid.NewString()
	now := s.clock.Now().UTC()
	a, err := s.store.UpsertAvailability(ctx, models.Availability{
		ID:        &id,
		DoctorID:  doctorID,
		Date:      date,
		IsPresent: isPresent,
		Notes:     notes,
		UpdatedBy: updatedBy,
		UpdatedAt: &now,
	})
	if err != nil {
		return models.Availability{}, err
	}

	s.logger.Info().
		Str("doctor_id", doctorID).
		Str("date", date.String()).
		Bool("is_present", isPresent).
		Msg("availability updated")
	return a, nil
}

// GetAvailability returns the stored record, or a synthetic one reflecting
// the default policy when none exists (ID and UpdatedAt nil).
func (s *DoctorService) GetAvailability(ctx context.Context, doctorID string, date models.Date) (models.Availability, error) {
	if _, err := s.Get(ctx, doctorID); err != nil {
		return models.Availability{}, err
	}

	a, err := s.store.GetAvailability(ctx, doctorID, date)
	if errors.Is(err, store.ErrNotFound) {
		return models.Availability{DoctorID: doctorID, Date: date, IsPresent: s.defaultAvailable}, nil
	}
	return a, err
}

// Capacity shows the slot counter. Before the first booking of the day no
// row exists yet, so a full one is reported.
func (s *DoctorService) Capacity(ctx context.Context, doctorID string, date models.Date) (models.DailyCapacity, error) {
	if _, err := s.Get(ctx, doctorID); err != nil {
		return models.DailyCapacity{}, err
	}

	c, err := s.store.GetCapacity(ctx, doctorID, date)
	if errors.Is(err, store.ErrNotFound) {
		return models.DailyCapacity{DoctorID: doctorID, Date: date, Capacity: s.capacity, Remaining: s.capacity}, nil
	}
	return c, err
}
