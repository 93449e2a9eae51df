package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/services"
)

type ScoreHandler struct {
	scoring services.ScoringService
}

func NewScoreHandler(scoring services.ScoringService) *ScoreHandler {
	return &ScoreHandler{scoring: scoring}
}

// GET /api/patients/:id/domain-scores
func (h *ScoreHandler) Latest(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	scores, err := h.scoring.LatestScores(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "latest_scores_failed", err)
		return
	}
	RespondOK(c, gin.H{"scores": scores})
}

// GET /api/patients/:id/domain-scores/:domain/trend?window=5
func (h *ScoreHandler) Trend(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	window, _ := strconv.Atoi(c.Query("window"))
	trend, err := h.scoring.DomainTrend(c.Request.Context(), patientID, c.Param("domain"), window)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "domain_trend_failed", err)
		return
	}
	// trend is nil when fewer than two scores exist for the domain.
	RespondOK(c, gin.H{"trend": trend})
}

// GET /api/patients/:id/needs-exploration
func (h *ScoreHandler) NeedsExploration(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	attention, err := h.scoring.NeedsExploration(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "needs_exploration_failed", err)
		return
	}
	RespondOK(c, gin.H{"domains": attention})
}
