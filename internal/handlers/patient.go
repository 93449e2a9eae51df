package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/services"
)

type PatientHandler struct {
	patients   services.PatientService
	hypotheses services.HypothesisService
}

func NewPatientHandler(patients services.PatientService, hypotheses services.HypothesisService) *PatientHandler {
	return &PatientHandler{patients: patients, hypotheses: hypotheses}
}

type createPatientRequest struct {
	ExternalRef string     `json:"external_ref"`
	DisplayName string     `json:"display_name"`
	DateOfBirth *time.Time `json:"date_of_birth"`
}

// POST /api/patients
func (h *PatientHandler) Create(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	patient, err := h.patients.Create(c.Request.Context(), services.CreatePatientInput{
		ExternalRef: req.ExternalRef,
		DisplayName: req.DisplayName,
		DateOfBirth: req.DateOfBirth,
	})
	if err != nil {
		RespondError(c, http.StatusBadRequest, "create_patient_failed", err)
		return
	}
	RespondOK(c, gin.H{"patient": patient})
}

// GET /api/patients?active=true
func (h *PatientHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	patients, err := h.patients.List(c.Request.Context(), activeOnly)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_patients_failed", err)
		return
	}
	RespondOK(c, gin.H{"patients": patients})
}

// GET /api/patients/:id
func (h *PatientHandler) Get(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	patient, err := h.patients.Get(c.Request.Context(), patientID)
	if err != nil {
		respondServiceError(c, "patient_not_found", err)
		return
	}
	RespondOK(c, gin.H{"patient": patient})
}

// POST /api/patients/:id/deactivate
func (h *PatientHandler) Deactivate(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	patient, err := h.patients.Deactivate(c.Request.Context(), patientID)
	if err != nil {
		respondServiceError(c, "deactivate_patient_failed", err)
		return
	}
	RespondOK(c, gin.H{"patient": patient})
}

// GET /api/patients/:id/progress
func (h *PatientHandler) Progress(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	progress, err := h.hypotheses.Progress(c.Request.Context(), patientID)
	if err != nil {
		respondServiceError(c, "patient_progress_failed", err)
		return
	}
	RespondOK(c, gin.H{"progress": progress})
}
