package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/types"
)

const (
	ProcessingStatusCompleted = "completed"
	ProcessingStatusPartial   = "partial"
	ProcessingStatusFailed    = "failed"
)

// StepFlags toggles each pipeline step independently. The zero value runs
// nothing; use DefaultStepFlags for a full run.
type StepFlags struct {
	ExtractSignals     bool `json:"extract_signals"`
	ScoreDomains       bool `json:"score_domains"`
	GenerateHypotheses bool `json:"generate_hypotheses"`
	DetectConcerns     bool `json:"detect_concerns"`
	GenerateSummary    bool `json:"generate_summary"`
}

func DefaultStepFlags() StepFlags {
	return StepFlags{
		ExtractSignals:     true,
		ScoreDomains:       true,
		GenerateHypotheses: true,
		DetectConcerns:     true,
		GenerateSummary:    true,
	}
}

type StepError struct {
	Step    string `json:"step"`
	Message string `json:"message"`
}

type ProcessingResult struct {
	SessionID         uuid.UUID   `json:"session_id"`
	PatientID         uuid.UUID   `json:"patient_id"`
	Status            string      `json:"status"` // completed | partial | failed
	SignalsExtracted  int         `json:"signals_extracted"`
	DomainsScored     int         `json:"domains_scored"`
	HypothesesUpdated int         `json:"hypotheses_updated"`
	ConcernCount      int         `json:"concern_count"`
	SafetyAssessment  string      `json:"safety_assessment,omitempty"`
	SummaryWritten    bool        `json:"summary_written"`
	StepErrors        []StepError `json:"step_errors"`
	ElapsedMS         int64       `json:"elapsed_ms"`
}

type ProcessingService interface {
	ProcessSession(ctx context.Context, sessionID uuid.UUID, flags StepFlags) (*ProcessingResult, error)
	EnqueueRun(ctx context.Context, sessionID uuid.UUID, flags StepFlags) (*types.ProcessingRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*types.ProcessingRun, error)
	ListRunsBySession(ctx context.Context, sessionID uuid.UUID) ([]*types.ProcessingRun, error)
}

type processingService struct {
	log         *logger.Logger
	sessionRepo repos.SessionRepo
	runRepo     repos.ProcessingRunRepo
	extraction  ExtractionService
	scoring     ScoringService
	hypothesis  HypothesisService
	concern     ConcernService
	summary     SummaryService
}

func NewProcessingService(
	log *logger.Logger,
	sessionRepo repos.SessionRepo,
	runRepo repos.ProcessingRunRepo,
	extraction ExtractionService,
	scoring ScoringService,
	hypothesis HypothesisService,
	concern ConcernService,
	summary SummaryService,
) ProcessingService {
	return &processingService{
		log:         log.With("service", "ProcessingService"),
		sessionRepo: sessionRepo,
		runRepo:     runRepo,
		extraction:  extraction,
		scoring:     scoring,
		hypothesis:  hypothesis,
		concern:     concern,
		summary:     summary,
	}
}

// ProcessSession runs the analysis pipeline for one completed session.
//
// Phase 1 runs signal extraction and concern detection concurrently; phase 2
// runs summarization concurrently with the scoring-then-hypothesis chain,
// which only launches when phase 1 produced signals and whose scores are
// committed before hypothesis reasoning reads them; phase 3 merges concern
// output into the summary row. Step failures are recorded, never raised: an
// error return means the entry guard rejected the session and nothing ran.
func (s *processingService) ProcessSession(ctx context.Context, sessionID uuid.UUID, flags StepFlags) (*ProcessingResult, error) {
	start := time.Now()

	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status != types.SessionStatusCompleted {
		return nil, fmt.Errorf("%w: status is %q", ErrSessionNotReady, session.Status)
	}
	turns, err := ParseTranscript(session.Transcript)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyTranscript, sessionID)
	}

	// Every model call below is attributed to this session in ai_call_log.
	ctx = llm.WithCallScope(ctx, session.ID, session.PatientID)

	res := &ProcessingResult{
		SessionID:  session.ID,
		PatientID:  session.PatientID,
		StepErrors: []StepError{},
	}
	var mu sync.Mutex
	record := func(step string, stepErr error) {
		mu.Lock()
		res.StepErrors = append(res.StepErrors, StepError{Step: step, Message: stepErr.Error()})
		mu.Unlock()
		s.log.Error("pipeline step failed",
			"session_id", session.ID,
			"step", step,
			"error", stepErr.Error(),
		)
	}
	runStep := func(g *errgroup.Group, step string, fn func() error) {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					record(step, fmt.Errorf("panic: %v", r))
				}
			}()
			if stepErr := fn(); stepErr != nil {
				record(step, stepErr)
			}
			return nil
		})
	}

	var signals []*types.ClinicalSignal
	var concernRes *ConcernResult

	g1, g1ctx := errgroup.WithContext(ctx)
	if flags.ExtractSignals {
		runStep(g1, "signal_extraction", func() error {
			out, stepErr := s.extraction.ExtractSignals(g1ctx, nil, session)
			if stepErr != nil {
				return stepErr
			}
			signals = out
			return nil
		})
	}
	if flags.DetectConcerns {
		runStep(g1, "concern_detection", func() error {
			out, stepErr := s.concern.DetectConcerns(g1ctx, session)
			// The conservative fallback result is kept even when the step
			// errors, so the merge phase still lands a review flag.
			concernRes = out
			return stepErr
		})
	}
	_ = g1.Wait()

	g2, g2ctx := errgroup.WithContext(ctx)
	if flags.GenerateSummary {
		runStep(g2, "session_summary", func() error {
			if _, stepErr := s.summary.Summarize(g2ctx, session, signals); stepErr != nil {
				return stepErr
			}
			mu.Lock()
			res.SummaryWritten = true
			mu.Unlock()
			return nil
		})
	}
	if len(signals) > 0 {
		g2.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					record("analysis_chain", fmt.Errorf("panic: %v", r))
				}
			}()
			if flags.ScoreDomains {
				scores, stepErr := s.scoring.ScoreSession(g2ctx, nil, session)
				if stepErr != nil {
					// Hypothesis reasoning reads committed scores; a failed
					// scoring pass aborts the rest of the chain.
					record("domain_scoring", stepErr)
					return nil
				}
				mu.Lock()
				res.DomainsScored = len(scores)
				mu.Unlock()
			}
			if flags.GenerateHypotheses {
				updated, stepErr := s.hypothesis.UpdateHypotheses(g2ctx, session)
				if stepErr != nil {
					record("hypothesis_update", stepErr)
					return nil
				}
				mu.Lock()
				res.HypothesesUpdated = len(updated)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g2.Wait()

	if flags.DetectConcerns && concernRes != nil {
		res.ConcernCount = len(concernRes.Concerns)
		res.SafetyAssessment = concernRes.OverallSafetyAssessment
		if mergeErr := s.summary.MergeConcerns(ctx, session.ID, concernRes); mergeErr != nil {
			record("concern_merge", mergeErr)
		}
	}

	res.SignalsExtracted = len(signals)
	switch {
	case len(res.StepErrors) == 0:
		res.Status = ProcessingStatusCompleted
	case len(signals) > 0:
		res.Status = ProcessingStatusPartial
	default:
		res.Status = ProcessingStatusFailed
	}
	res.ElapsedMS = time.Since(start).Milliseconds()

	s.log.Info("session processed",
		"session_id", session.ID,
		"patient_id", session.PatientID,
		"status", res.Status,
		"signals", res.SignalsExtracted,
		"domains", res.DomainsScored,
		"hypotheses", res.HypothesesUpdated,
		"errors", len(res.StepErrors),
		"elapsed_ms", res.ElapsedMS,
	)
	return res, nil
}

// EnqueueRun queues background processing for a completed session. The same
// session can be re-queued after its previous run finishes; only one queued
// run exists at a time.
func (s *processingService) EnqueueRun(ctx context.Context, sessionID uuid.UUID, flags StepFlags) (*types.ProcessingRun, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if session.Status != types.SessionStatusCompleted {
		return nil, fmt.Errorf("%w: status is %q", ErrSessionNotReady, session.Status)
	}
	payload, err := json.Marshal(flags)
	if err != nil {
		return nil, err
	}
	run := &types.ProcessingRun{
		ID:        uuid.New(),
		SessionID: session.ID,
		PatientID: session.PatientID,
		Status:    types.RunStatusQueued,
		Stage:     "pending",
		Payload:   datatypes.JSON(payload),
	}
	return s.runRepo.Enqueue(ctx, nil, run)
}

func (s *processingService) GetRun(ctx context.Context, runID uuid.UUID) (*types.ProcessingRun, error) {
	run, err := s.runRepo.GetByID(ctx, nil, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *processingService) ListRunsBySession(ctx context.Context, sessionID uuid.UUID) ([]*types.ProcessingRun, error) {
	return s.runRepo.ListBySession(ctx, nil, sessionID)
}
