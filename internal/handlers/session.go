package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/services"
	"github.com/attunehealth/attune-backend/internal/types"
)

type SessionHandler struct {
	sessions  services.SessionService
	summaries services.SummaryService
}

func NewSessionHandler(sessions services.SessionService, summaries services.SummaryService) *SessionHandler {
	return &SessionHandler{sessions: sessions, summaries: summaries}
}

type createSessionRequest struct {
	SessionType string `json:"session_type"`
	CallRef     string `json:"call_ref"`
}

// POST /api/patients/:id/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), patientID, services.CreateSessionInput{
		SessionType: req.SessionType,
		CallRef:     req.CallRef,
	})
	if err != nil {
		respondServiceError(c, "create_session_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// GET /api/patients/:id/sessions?limit=20
func (h *SessionHandler) ListByPatient(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_patient_id", err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := h.sessions.ListByPatient(c.Request.Context(), patientID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_sessions_failed", err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

// GET /api/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, "session_not_found", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/sessions/:id/start
func (h *SessionHandler) Start(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	session, err := h.sessions.Start(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, "start_session_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

// POST /api/sessions/:id/cancel
func (h *SessionHandler) Cancel(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	session, err := h.sessions.Cancel(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, "cancel_session_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}

type completeSessionRequest struct {
	Transcript          []types.TranscriptTurn `json:"transcript"`
	CallDurationSeconds int                    `json:"call_duration_seconds"`
	EndedAt             *time.Time             `json:"ended_at"`
}

// POST /api/sessions/:id/complete
func (h *SessionHandler) Complete(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req completeSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	session, run, err := h.sessions.Complete(c.Request.Context(), sessionID, services.CompleteSessionInput{
		Transcript:          req.Transcript,
		CallDurationSeconds: req.CallDurationSeconds,
		EndedAt:             req.EndedAt,
	})
	if err != nil {
		respondServiceError(c, "complete_session_failed", err)
		return
	}
	RespondOK(c, gin.H{"session": session, "run": run})
}

// GET /api/sessions/:id/summary
func (h *SessionHandler) Summary(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	summary, err := h.summaries.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondServiceError(c, "summary_not_found", err)
		return
	}
	RespondOK(c, gin.H{"summary": summary})
}
