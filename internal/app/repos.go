package app

import (
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
)

type Repos struct {
	Patient           repos.PatientRepo
	Session           repos.SessionRepo
	ClinicalSignal    repos.ClinicalSignalRepo
	DomainScore       repos.DomainScoreRepo
	Hypothesis        repos.HypothesisRepo
	HypothesisHistory repos.HypothesisHistoryRepo
	SessionSummary    repos.SessionSummaryRepo
	ProcessingRun     repos.ProcessingRunRepo
	AICallLog         repos.AICallLogRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Patient:           repos.NewPatientRepo(db, log),
		Session:           repos.NewSessionRepo(db, log),
		ClinicalSignal:    repos.NewClinicalSignalRepo(db, log),
		DomainScore:       repos.NewDomainScoreRepo(db, log),
		Hypothesis:        repos.NewHypothesisRepo(db, log),
		HypothesisHistory: repos.NewHypothesisHistoryRepo(db, log),
		SessionSummary:    repos.NewSessionSummaryRepo(db, log),
		ProcessingRun:     repos.NewProcessingRunRepo(db, log),
		AICallLog:         repos.NewAICallLogRepo(db, log),
	}
}
