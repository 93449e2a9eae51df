package app

import (
	"github.com/attunehealth/attune-backend/internal/handlers"
	"github.com/attunehealth/attune-backend/internal/logger"
)

type Handlers struct {
	Patient    *handlers.PatientHandler
	Session    *handlers.SessionHandler
	Signal     *handlers.SignalHandler
	Score      *handlers.ScoreHandler
	Hypothesis *handlers.HypothesisHandler
	Run        *handlers.RunHandler
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Patient:    handlers.NewPatientHandler(serviceset.Patient, serviceset.Hypothesis),
		Session:    handlers.NewSessionHandler(serviceset.Session, serviceset.Summary),
		Signal:     handlers.NewSignalHandler(serviceset.Extraction),
		Score:      handlers.NewScoreHandler(serviceset.Scoring),
		Hypothesis: handlers.NewHypothesisHandler(serviceset.Hypothesis),
		Run:        handlers.NewRunHandler(serviceset.Processing),
	}
}
