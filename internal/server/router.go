package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/attunehealth/attune-backend/internal/handlers"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/middleware"
)

type RouterConfig struct {
	Log               *logger.Logger
	AuthMiddleware    *middleware.AuthMiddleware
	PatientHandler    *handlers.PatientHandler
	SessionHandler    *handlers.SessionHandler
	SignalHandler     *handlers.SignalHandler
	ScoreHandler      *handlers.ScoreHandler
	HypothesisHandler *handlers.HypothesisHandler
	RunHandler        *handlers.RunHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Log))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// Patients
	api.POST("/patients", cfg.PatientHandler.Create)
	api.GET("/patients", cfg.PatientHandler.List)
	api.GET("/patients/:id", cfg.PatientHandler.Get)
	api.POST("/patients/:id/deactivate", cfg.PatientHandler.Deactivate)
	api.GET("/patients/:id/progress", cfg.PatientHandler.Progress)

	// Sessions
	api.POST("/patients/:id/sessions", cfg.SessionHandler.Create)
	api.GET("/patients/:id/sessions", cfg.SessionHandler.ListByPatient)
	api.GET("/sessions/:id", cfg.SessionHandler.Get)
	api.POST("/sessions/:id/start", cfg.SessionHandler.Start)
	api.POST("/sessions/:id/cancel", cfg.SessionHandler.Cancel)
	api.POST("/sessions/:id/complete", cfg.SessionHandler.Complete)
	api.GET("/sessions/:id/summary", cfg.SessionHandler.Summary)

	// Signals
	api.GET("/sessions/:id/signals", cfg.SignalHandler.ListBySession)
	api.GET("/patients/:id/signals", cfg.SignalHandler.ListByPatient)
	api.POST("/signals/:id/verify", cfg.SignalHandler.Verify)
	api.GET("/patients/:id/evidence-gaps", cfg.SignalHandler.EvidenceGaps)
	api.GET("/patients/:id/differentials", cfg.SignalHandler.Differentials)

	// Domain scores
	api.GET("/patients/:id/domain-scores", cfg.ScoreHandler.Latest)
	api.GET("/patients/:id/domain-scores/:domain/trend", cfg.ScoreHandler.Trend)
	api.GET("/patients/:id/needs-exploration", cfg.ScoreHandler.NeedsExploration)

	// Hypotheses
	api.GET("/patients/:id/hypotheses", cfg.HypothesisHandler.ListByPatient)
	api.GET("/patients/:id/hypotheses/primary", cfg.HypothesisHandler.Primary)
	api.GET("/hypotheses/:id/history", cfg.HypothesisHandler.History)

	// Processing runs
	api.POST("/sessions/:id/process", cfg.RunHandler.Enqueue)
	api.GET("/sessions/:id/runs", cfg.RunHandler.ListBySession)
	api.GET("/runs/:id", cfg.RunHandler.Get)

	return router
}
