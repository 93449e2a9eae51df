package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/services"
)

type HypothesisHandler struct {
	hypotheses services.HypothesisService
}

func NewHypothesisHandler(hypotheses services.HypothesisService) *HypothesisHandler {
	return &HypothesisHandler{hypotheses: hypotheses}
}

// GET /api/patients/:id/hypotheses
func (h *HypothesisHandler) ListByPatient(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	hypotheses, err := h.hypotheses.ListByPatient(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_hypotheses_failed", err)
		return
	}
	RespondOK(c, gin.H{"hypotheses": hypotheses})
}

// GET /api/patients/:id/hypotheses/primary
func (h *HypothesisHandler) Primary(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	primary, err := h.hypotheses.GetPrimary(c.Request.Context(), patientID)
	if err != nil {
		respondServiceError(c, "primary_hypothesis_not_found", err)
		return
	}
	RespondOK(c, gin.H{"hypothesis": primary})
}

// GET /api/hypotheses/:id/history
func (h *HypothesisHandler) History(c *gin.Context) {
	hypothesisID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_hypothesis_id", err)
		return
	}
	history, err := h.hypotheses.History(c.Request.Context(), hypothesisID)
	if err != nil {
		respondServiceError(c, "hypothesis_history_failed", err)
		return
	}
	RespondOK(c, gin.H{"history": history})
}
