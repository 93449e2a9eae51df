package app

import (
	"github.com/gin-gonic/gin"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/server"
)

func wireRouter(log *logger.Logger, handlerset Handlers, middlewareset Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:               log,
		AuthMiddleware:    middlewareset.Auth,
		PatientHandler:    handlerset.Patient,
		SessionHandler:    handlerset.Session,
		SignalHandler:     handlerset.Signal,
		ScoreHandler:      handlerset.Score,
		HypothesisHandler: handlerset.Hypothesis,
		RunHandler:        handlerset.Run,
	})
}
