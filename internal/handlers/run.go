package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/services"
)

type RunHandler struct {
	processing services.ProcessingService
}

func NewRunHandler(processing services.ProcessingService) *RunHandler {
	return &RunHandler{processing: processing}
}

type processSessionRequest struct {
	Flags *services.StepFlags `json:"flags"`
}

// POST /api/sessions/:id/process
//
// Queues a processing run for an already-completed session. Omitting flags
// runs every step; passing flags re-runs a chosen subset.
func (h *RunHandler) Enqueue(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	// An empty body means "run every step".
	var req processSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	flags := services.DefaultStepFlags()
	if req.Flags != nil {
		flags = *req.Flags
	}
	run, err := h.processing.EnqueueRun(c.Request.Context(), sessionID, flags)
	if err != nil {
		respondServiceError(c, "enqueue_run_failed", err)
		return
	}
	RespondOK(c, gin.H{"run": run})
}

// GET /api/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	run, err := h.processing.GetRun(c.Request.Context(), runID)
	if err != nil {
		respondServiceError(c, "run_not_found", err)
		return
	}
	RespondOK(c, gin.H{"run": run})
}

// GET /api/sessions/:id/runs
func (h *RunHandler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	runs, err := h.processing.ListRunsBySession(c.Request.Context(), sessionID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_runs_failed", err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}
