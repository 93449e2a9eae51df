package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/attunehealth/attune-backend/internal/services"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// respondServiceError maps known service sentinels onto HTTP statuses.
func respondServiceError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, services.ErrPatientNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrSignalNotFound),
		errors.Is(err, services.ErrHypothesisNotFound),
		errors.Is(err, services.ErrSummaryMissing),
		errors.Is(err, services.ErrRunNotFound):
		RespondError(c, http.StatusNotFound, code, err)
	case errors.Is(err, services.ErrSessionAlreadyCompleted),
		errors.Is(err, services.ErrSessionNotReady):
		RespondError(c, http.StatusConflict, code, err)
	case errors.Is(err, services.ErrEmptyTranscript):
		RespondError(c, http.StatusBadRequest, code, err)
	default:
		RespondError(c, http.StatusInternalServerError, code, err)
	}
}
