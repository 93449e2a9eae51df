package services

import "errors"

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSignalNotFound     = errors.New("clinical signal not found")
	ErrHypothesisNotFound = errors.New("diagnostic hypothesis not found")
	ErrSummaryMissing     = errors.New("session summary not found")
	ErrRunNotFound        = errors.New("processing run not found")

	// ErrSessionNotReady rejects pipeline entry for sessions that are not in
	// the completed state.
	ErrSessionNotReady = errors.New("session is not ready for processing")
	// ErrEmptyTranscript rejects pipeline entry when the session has no
	// conversation turns to analyze.
	ErrEmptyTranscript = errors.New("session transcript is empty")
	// ErrSessionAlreadyCompleted rejects a second completion of the same
	// session; re-analysis goes through a new processing run instead.
	ErrSessionAlreadyCompleted = errors.New("session already completed")
)
