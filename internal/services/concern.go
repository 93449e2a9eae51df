package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type Concern struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // monitor | review | urgent
	Quote       string `json:"quote,omitempty"`
}

type ConcernResult struct {
	Concerns                []Concern `json:"concerns"`
	OverallSafetyAssessment string    `json:"overall_safety_assessment"` // safe | monitor | review | urgent
	Notes                   string    `json:"notes,omitempty"`
}

type ConcernService interface {
	DetectConcerns(ctx context.Context, session *types.AssessmentSession) (*ConcernResult, error)
}

type concernService struct {
	log *logger.Logger
	ai  llm.Client
}

func NewConcernService(log *logger.Logger, ai llm.Client) ConcernService {
	return &concernService{
		log: log.With("service", "ConcernService"),
		ai:  ai,
	}
}

// DetectConcerns screens a transcript for safety-relevant content. It fails
// closed: any failure returns a result demanding clinician review alongside
// the error, so a broken screen can never read as a clean one.
func (s *concernService) DetectConcerns(ctx context.Context, session *types.AssessmentSession) (*ConcernResult, error) {
	turns, err := ParseTranscript(session.Transcript)
	if err != nil {
		return reviewFallback(err), err
	}
	if len(turns) == 0 {
		return reviewFallback(ErrEmptyTranscript), ErrEmptyTranscript
	}

	raw, err := s.ai.CompleteJSON(ctx, llm.CompletionRequest{
		CallType:    "concern_detection",
		System:      concernSystemPrompt(),
		User:        "TRANSCRIPT:\n" + RenderTranscript(turns) + "\n",
		Temperature: 0,
		MaxTokens:   2048,
	})
	if err != nil {
		wrapped := fmt.Errorf("concern detection call: %w", err)
		s.log.Error("concern detection failed", "session_id", session.ID, "error", err.Error())
		return reviewFallback(wrapped), wrapped
	}

	var result ConcernResult
	if err := json.Unmarshal(raw, &result); err != nil {
		wrapped := fmt.Errorf("concern payload: %w: %s", llm.ErrInvalidJSON, err.Error())
		s.log.Error("concern detection payload invalid", "session_id", session.ID, "error", err.Error())
		return reviewFallback(wrapped), wrapped
	}

	if result.Concerns == nil {
		result.Concerns = []Concern{}
	}
	for i := range result.Concerns {
		result.Concerns[i].Severity = normalizeSeverity(result.Concerns[i].Severity)
	}
	result.OverallSafetyAssessment = normalizeSafety(result.OverallSafetyAssessment, len(result.Concerns))
	return &result, nil
}

func concernSystemPrompt() string {
	return strings.TrimSpace(strings.Join([]string{
		"You are a clinical safety screener for a developmental assessment service.",
		"Read the transcript and flag anything a supervising clinician must see: safety risks, severe distress, regression reports, harm mentions, or urgent family situations.",
		"",
		"Rules:",
		"- Be conservative. A missed concern is far worse than a flagged non-concern.",
		"- Each concern carries a type (e.g. safety, regression, distress, family, sleep, eating), a description, a severity (monitor, review, urgent), and the supporting quote when one exists.",
		"- overall_safety_assessment is one of: safe, monitor, review, urgent. Use 'safe' ONLY when the transcript gives positive reason for confidence.",
		"",
		`Respond with JSON: {"concerns":[{"type":"...","description":"...","severity":"...","quote":"..."}],"overall_safety_assessment":"...","notes":"..."}`,
	}, "\n"))
}

// reviewFallback is the conservative default for a failed screen. It is never
// "safe": a result we could not compute is a result a clinician must look at.
func reviewFallback(cause error) *ConcernResult {
	return &ConcernResult{
		Concerns:                []Concern{},
		OverallSafetyAssessment: types.SafetyReview,
		Notes:                   fmt.Sprintf("concern detection did not complete: %v", cause),
	}
}

func normalizeSeverity(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case types.SafetyMonitor:
		return types.SafetyMonitor
	case types.SafetyUrgent:
		return types.SafetyUrgent
	default:
		return types.SafetyReview
	}
}

// normalizeSafety keeps model output inside the enum. An unrecognized value
// degrades to review; "safe" with concerns attached degrades to monitor.
func normalizeSafety(v string, concernCount int) string {
	assessment := strings.ToLower(strings.TrimSpace(v))
	switch assessment {
	case types.SafetySafe, types.SafetyMonitor, types.SafetyReview, types.SafetyUrgent:
	default:
		assessment = types.SafetyReview
	}
	if assessment == types.SafetySafe && concernCount > 0 {
		assessment = types.SafetyMonitor
	}
	return assessment
}
