package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/types"
)

type CreatePatientInput struct {
	ExternalRef string     `json:"external_ref"`
	DisplayName string     `json:"display_name"`
	DateOfBirth *time.Time `json:"date_of_birth"`
}

type PatientService interface {
	Create(ctx context.Context, input CreatePatientInput) (*types.Patient, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Patient, error)
	List(ctx context.Context, activeOnly bool) ([]*types.Patient, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*types.Patient, error)
}

type patientService struct {
	log         *logger.Logger
	patientRepo repos.PatientRepo
}

func NewPatientService(log *logger.Logger, patientRepo repos.PatientRepo) PatientService {
	return &patientService{
		log:         log.With("service", "PatientService"),
		patientRepo: patientRepo,
	}
}

func (s *patientService) Create(ctx context.Context, input CreatePatientInput) (*types.Patient, error) {
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return nil, fmt.Errorf("display_name is required")
	}
	patient := &types.Patient{
		ID:          uuid.New(),
		ExternalRef: strings.TrimSpace(input.ExternalRef),
		DisplayName: name,
		DateOfBirth: input.DateOfBirth,
		Active:      true,
	}
	created, err := s.patientRepo.Create(ctx, nil, patient)
	if err != nil {
		return nil, err
	}
	s.log.Info("patient created", "patient_id", created.ID)
	return created, nil
}

func (s *patientService) Get(ctx context.Context, id uuid.UUID) (*types.Patient, error) {
	row, err := s.patientRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return row, nil
}

func (s *patientService) List(ctx context.Context, activeOnly bool) ([]*types.Patient, error) {
	return s.patientRepo.List(ctx, nil, activeOnly)
}

func (s *patientService) Deactivate(ctx context.Context, id uuid.UUID) (*types.Patient, error) {
	row, err := s.patientRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	if err := s.patientRepo.UpdateFields(ctx, nil, id, map[string]interface{}{"active": false}); err != nil {
		return nil, err
	}
	return s.patientRepo.GetByID(ctx, nil, id)
}
