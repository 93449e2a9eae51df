package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/services"
	"github.com/attunehealth/attune-backend/internal/taxonomy"
)

type Services struct {
	Patient    services.PatientService
	Session    services.SessionService
	Extraction services.ExtractionService
	Scoring    services.ScoringService
	Hypothesis services.HypothesisService
	Concern    services.ConcernService
	Summary    services.SummaryService
	Processing services.ProcessingService
	Locker     services.PatientLocker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	tax, err := taxonomy.Load()
	if err != nil {
		return Services{}, fmt.Errorf("load assessment taxonomy: %w", err)
	}

	var locker services.PatientLocker
	if clients.Redis != nil {
		locker = services.NewRedisPatientLocker(log, clients.Redis, cfg.PatientLockTTL)
	} else {
		locker = services.NewLocalPatientLocker()
	}

	extraction := services.NewExtractionService(log, clients.AI, tax, reposet.ClinicalSignal)
	scoring := services.NewScoringService(log, clients.AI, tax, reposet.ClinicalSignal, reposet.DomainScore)
	hypothesis := services.NewHypothesisService(
		db, log, clients.AI, tax, locker, scoring,
		reposet.Hypothesis,
		reposet.HypothesisHistory,
		reposet.DomainScore,
		reposet.ClinicalSignal,
		reposet.SessionSummary,
		cfg.LLM.Model,
	)
	concern := services.NewConcernService(log, clients.AI)
	summary := services.NewSummaryService(log, clients.AI, reposet.SessionSummary)
	processing := services.NewProcessingService(
		log,
		reposet.Session,
		reposet.ProcessingRun,
		extraction,
		scoring,
		hypothesis,
		concern,
		summary,
	)
	patient := services.NewPatientService(log, reposet.Patient)
	session := services.NewSessionService(log, reposet.Session, reposet.Patient, processing)

	return Services{
		Patient:    patient,
		Session:    session,
		Extraction: extraction,
		Scoring:    scoring,
		Hypothesis: hypothesis,
		Concern:    concern,
		Summary:    summary,
		Processing: processing,
		Locker:     locker,
	}, nil
}
