package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/requestdata"
	"github.com/attunehealth/attune-backend/internal/services"
)

type SignalHandler struct {
	extraction services.ExtractionService
}

func NewSignalHandler(extraction services.ExtractionService) *SignalHandler {
	return &SignalHandler{extraction: extraction}
}

// GET /api/sessions/:id/signals
func (h *SignalHandler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	signals, err := h.extraction.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_signals_failed", err)
		return
	}
	RespondOK(c, gin.H{"signals": signals})
}

// GET /api/patients/:id/signals?signal_type=&domain_code=&dsm5_criterion=&min_significance=&verified=&limit=
func (h *SignalHandler) ListByPatient(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	filter := repos.SignalFilter{
		SignalType:      c.Query("signal_type"),
		DomainCode:      c.Query("domain_code"),
		DSM5Criterion:   c.Query("dsm5_criterion"),
		MinSignificance: c.Query("min_significance"),
	}
	if v := c.Query("verified"); v != "" {
		verified := v == "true"
		filter.Verified = &verified
	}
	if v := c.Query("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	signals, err := h.extraction.ListByPatient(c.Request.Context(), patientID, filter)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_signals_failed", err)
		return
	}
	RespondOK(c, gin.H{"signals": signals})
}

type verifySignalRequest struct {
	Verified bool   `json:"verified"`
	Notes    string `json:"notes"`
}

// POST /api/signals/:id/verify
func (h *SignalHandler) Verify(c *gin.Context) {
	signalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_signal_id", err)
		return
	}
	var req verifySignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	clinicianID := requestdata.ClinicianID(c.Request.Context())
	signal, err := h.extraction.VerifySignal(c.Request.Context(), signalID, req.Verified, req.Notes, clinicianID)
	if err != nil {
		respondServiceError(c, "verify_signal_failed", err)
		return
	}
	RespondOK(c, gin.H{"signal": signal})
}

// GET /api/patients/:id/evidence-gaps
func (h *SignalHandler) EvidenceGaps(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	report, err := h.extraction.EvidenceGaps(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "evidence_gaps_failed", err)
		return
	}
	RespondOK(c, gin.H{"report": report})
}

// GET /api/patients/:id/differentials
func (h *SignalHandler) Differentials(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	indicators, err := h.extraction.DifferentialScan(c.Request.Context(), patientID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "differential_scan_failed", err)
		return
	}
	RespondOK(c, gin.H{"differentials": indicators})
}
