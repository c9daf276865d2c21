package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"backend-klinik/internal/clock"
	"backend-klinik/internal/helper"
	"backend-klinik/internal/models"
	"backend-klinik/internal/store"
)

type PatientService struct {
	store  store.Store
	clock  clock.Clock
	logger zerolog.Logger
}

func NewPatientService(st store.Store, clk clock.Clock, logger zerolog.Logger) *PatientService {
	if clk == nil {
		clk = clock.Real()
	}
	return &PatientService{
		store:  st,
		clock:  clk,
		logger: logger.With().Str("component", "patient").Logger(),
	}
}

// Register creates a patient or returns the existing one with the same
// normalised phone. The bool reports whether a new row was created.
func (s *PatientService) Register(ctx context.Context, req models.CreatePatientRequest) (models.Patient, bool, error) {
	phone := helper.NormalizePhone(req.Phone)
	if phone == "" || strings.TrimSpace(req.FirstName) == "" {
		return models.Patient{}, false, ErrInvalidInput
	}

	if existing, err := s.store.GetPatientByPhone(ctx, phone); err == nil {
		s.logger.Info().Str("patient_id", existing.ID).Str("phone", helper.RedactPhone(phone)).Msg("patient already registered")
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.Patient{}, false, err
	}

	p := models.Patient{
		ID:        uuid.NewString(),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  req.LastName,
		Age:       req.Age,
		Phone:     phone,
		Email:     req.Email,
		CreatedAt: s.clock.Now().UTC(),
	}
	err := s.store.CreatePatient(ctx, p)
	if errors.Is(err, store.ErrDuplicatePhone) {
		// register bersamaan dengan nomor sama
		existing, getErr := s.store.GetPatientByPhone(ctx, phone)
		if getErr != nil {
			return models.Patient{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return models.Patient{}, false, err
	}

	s.logger.Info().Str("patient_id", p.ID).Str("phone", helper.RedactPhone(phone)).Msg("patient registered")
	return p, true, nil
}

func (s *PatientService) Get(ctx context.Context, id string) (models.Patient, error) {
	p, err := s.store.GetPatient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Patient{}, ErrPatientNotFound
	}
	return p, err
}

// FindByPhone - Cari pasien berdasarkan nomor telepon (dinormalisasi dulu).
func (s *PatientService) FindByPhone(ctx context.Context, phone string) (models.Patient, error) {
	normalized := helper.NormalizePhone(phone)
	if normalized == "" {
		return models.Patient{}, ErrInvalidInput
	}
	p, err := s.store.GetPatientByPhone(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return models.Patient{}, ErrPatientNotFound
	}
	return p, err
}
