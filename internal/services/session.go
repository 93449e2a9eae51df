package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/types"
)

type CreateSessionInput struct {
	SessionType string `json:"session_type"`
	CallRef     string `json:"call_ref"`
}

type CompleteSessionInput struct {
	Transcript          []types.TranscriptTurn `json:"transcript"`
	CallDurationSeconds int                    `json:"call_duration_seconds"`
	EndedAt             *time.Time             `json:"ended_at"`
}

type SessionService interface {
	Create(ctx context.Context, patientID uuid.UUID, input CreateSessionInput) (*types.AssessmentSession, error)
	Get(ctx context.Context, id uuid.UUID) (*types.AssessmentSession, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error)
	Start(ctx context.Context, id uuid.UUID) (*types.AssessmentSession, error)
	Cancel(ctx context.Context, id uuid.UUID) (*types.AssessmentSession, error)
	Complete(ctx context.Context, id uuid.UUID, input CompleteSessionInput) (*types.AssessmentSession, *types.ProcessingRun, error)
}

type sessionService struct {
	log         *logger.Logger
	sessionRepo repos.SessionRepo
	patientRepo repos.PatientRepo
	processing  ProcessingService
}

func NewSessionService(
	log *logger.Logger,
	sessionRepo repos.SessionRepo,
	patientRepo repos.PatientRepo,
	processing ProcessingService,
) SessionService {
	return &sessionService{
		log:         log.With("service", "SessionService"),
		sessionRepo: sessionRepo,
		patientRepo: patientRepo,
		processing:  processing,
	}
}

func (s *sessionService) Create(ctx context.Context, patientID uuid.UUID, input CreateSessionInput) (*types.AssessmentSession, error) {
	patient, err := s.patientRepo.GetByID(ctx, nil, patientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	sessionType := normalizeSessionType(input.SessionType)
	session := &types.AssessmentSession{
		ID:          uuid.New(),
		PatientID:   patientID,
		SessionType: sessionType,
		Status:      types.SessionStatusScheduled,
		CallRef:     strings.TrimSpace(input.CallRef),
	}
	created, err := s.sessionRepo.Create(ctx, nil, session)
	if err != nil {
		return nil, err
	}
	s.log.Info("session created",
		"session_id", created.ID,
		"patient_id", patientID,
		"session_type", sessionType,
	)
	return created, nil
}

func (s *sessionService) Get(ctx context.Context, id uuid.UUID) (*types.AssessmentSession, error) {
	row, err := s.sessionRepo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return row, nil
}

func (s *sessionService) ListByPatient(ctx context.Context, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error) {
	return s.sessionRepo.ListByPatient(ctx, nil, patientID, limit)
}

func (s *sessionService) Start(ctx context.Context, id uuid.UUID) (*types.AssessmentSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != types.SessionStatusScheduled {
		return nil, fmt.Errorf("%w: cannot start from status %q", ErrSessionNotReady, session.Status)
	}
	now := time.Now().UTC()
	err = s.sessionRepo.UpdateFields(ctx, nil, id, map[string]interface{}{
		"status":     types.SessionStatusInProgress,
		"started_at": now,
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *sessionService) Cancel(ctx context.Context, id uuid.UUID) (*types.AssessmentSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case types.SessionStatusScheduled, types.SessionStatusInProgress:
	case types.SessionStatusCompleted:
		return nil, ErrSessionAlreadyCompleted
	default:
		return session, nil
	}
	err = s.sessionRepo.UpdateFields(ctx, nil, id, map[string]interface{}{
		"status": types.SessionStatusCancelled,
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Complete stores the call outcome and queues analysis. A session completes
// exactly once; re-analysis of a completed session goes through a fresh
// processing run, not a second completion.
func (s *sessionService) Complete(ctx context.Context, id uuid.UUID, input CompleteSessionInput) (*types.AssessmentSession, *types.ProcessingRun, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	switch session.Status {
	case types.SessionStatusScheduled, types.SessionStatusInProgress:
	case types.SessionStatusCompleted:
		return nil, nil, ErrSessionAlreadyCompleted
	default:
		return nil, nil, fmt.Errorf("%w: cannot complete from status %q", ErrSessionNotReady, session.Status)
	}

	endedAt := time.Now().UTC()
	if input.EndedAt != nil {
		endedAt = input.EndedAt.UTC()
	}
	updates := map[string]interface{}{
		"status":   types.SessionStatusCompleted,
		"ended_at": endedAt,
	}
	if input.CallDurationSeconds > 0 {
		updates["call_duration_seconds"] = input.CallDurationSeconds
	}
	if len(input.Transcript) > 0 {
		raw, mErr := json.Marshal(input.Transcript)
		if mErr != nil {
			return nil, nil, fmt.Errorf("encode transcript: %w", mErr)
		}
		updates["transcript"] = datatypes.JSON(raw)
	}
	if err := s.sessionRepo.UpdateFields(ctx, nil, id, updates); err != nil {
		return nil, nil, err
	}

	completed, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	run, err := s.processing.EnqueueRun(ctx, id, DefaultStepFlags())
	if err != nil {
		return nil, nil, fmt.Errorf("enqueue processing: %w", err)
	}
	s.log.Info("session completed",
		"session_id", id,
		"patient_id", completed.PatientID,
		"run_id", run.ID,
	)
	return completed, run, nil
}

func normalizeSessionType(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case types.SessionTypeInitialAssessment:
		return types.SessionTypeInitialAssessment
	case types.SessionTypeFollowUp:
		return types.SessionTypeFollowUp
	default:
		return types.SessionTypeCheckIn
	}
}
