package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/types"
)

type SummaryService interface {
	Summarize(ctx context.Context, session *types.AssessmentSession, signals []*types.ClinicalSignal) (*types.SessionSummary, error)
	MergeConcerns(ctx context.Context, sessionID uuid.UUID, result *ConcernResult) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*types.SessionSummary, error)
}

type summaryService struct {
	log         *logger.Logger
	ai          llm.Client
	summaryRepo repos.SessionSummaryRepo
}

func NewSummaryService(log *logger.Logger, ai llm.Client, summaryRepo repos.SessionSummaryRepo) SummaryService {
	return &summaryService{
		log:         log.With("service", "SummaryService"),
		ai:          ai,
		summaryRepo: summaryRepo,
	}
}

type summaryPayload struct {
	BriefSummary  string   `json:"brief_summary"`
	DetailedSum   string   `json:"detailed_summary"`
	KeyTopics     []string `json:"key_topics"`
	EmotionalTone string   `json:"emotional_tone"`
	NotableQuotes []string `json:"notable_quotes"`
	Observations  []string `json:"clinical_observations"`
	FollowUps     []string `json:"follow_up_items"`
}

// Summarize writes the session's narrative row. One summary exists per
// session; a re-run replaces the narrative rather than appending another.
// When the pipeline extracted signals, the strongest ones are rendered into
// the prompt so the narrative can reference them; with none the summary
// relies on the transcript alone.
func (s *summaryService) Summarize(ctx context.Context, session *types.AssessmentSession, signals []*types.ClinicalSignal) (*types.SessionSummary, error) {
	turns, err := ParseTranscript(session.Transcript)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrEmptyTranscript
	}

	user := "TRANSCRIPT:\n" + RenderTranscript(turns) + "\n"
	if digest := summaryDigest(signals); digest != "" {
		user += "\n" + digest
	}

	raw, err := s.ai.CompleteJSON(ctx, llm.CompletionRequest{
		CallType:    "session_summary",
		System:      summarySystemPrompt(),
		User:        user,
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("summary call: %w", err)
	}
	var payload summaryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("summary payload: %w: %s", llm.ErrInvalidJSON, err.Error())
	}

	row := &types.SessionSummary{
		ID:              uuid.New(),
		SessionID:       session.ID,
		PatientID:       session.PatientID,
		BriefSummary:    strings.TrimSpace(payload.BriefSummary),
		DetailedSummary: strings.TrimSpace(payload.DetailedSum),
		KeyTopics:       jsonField(payload.KeyTopics),
		EmotionalTone:   strings.TrimSpace(payload.EmotionalTone),
		NotableQuotes:   jsonField(payload.NotableQuotes),
		Observations:    jsonField(payload.Observations),
		FollowUps:       jsonField(payload.FollowUps),
		SignalCount:     len(signals),
	}
	saved, err := s.summaryRepo.Upsert(ctx, nil, row)
	if err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}
	s.log.Info("session summarized", "session_id", session.ID, "patient_id", session.PatientID)
	return saved, nil
}

// MergeConcerns patches concern-detection output onto the session's summary
// row. A missing row is a recorded error, not a write: the merge phase never
// invents a summary.
func (s *summaryService) MergeConcerns(ctx context.Context, sessionID uuid.UUID, result *ConcernResult) error {
	if result == nil {
		return nil
	}
	row, err := s.summaryRepo.GetBySession(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("%w: cannot merge concerns for session %s", ErrSummaryMissing, sessionID)
	}
	return s.summaryRepo.UpdateConcernFields(ctx, nil, sessionID, map[string]interface{}{
		"concerns":          jsonField(result.Concerns),
		"safety_assessment": result.OverallSafetyAssessment,
	})
}

func (s *summaryService) GetBySession(ctx context.Context, sessionID uuid.UUID) (*types.SessionSummary, error) {
	row, err := s.summaryRepo.GetBySession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSummaryMissing
	}
	return row, nil
}

// summaryDigest renders the strongest extracted signals for the narrative
// prompt, ranked by intensity and capped at ten.
func summaryDigest(signals []*types.ClinicalSignal) string {
	if len(signals) == 0 {
		return ""
	}
	ranked := make([]*types.ClinicalSignal, len(signals))
	copy(ranked, signals)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Intensity > ranked[j].Intensity
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "EXTRACTED SIGNALS (%d this session):\n", len(signals))
	for _, sig := range ranked {
		fmt.Fprintf(&b, "- %s [%s, %s significance]: %s\n",
			sig.SignalName, sig.SignalType, sig.ClinicalSignificance, excerptOf(sig))
	}
	return b.String()
}

func summarySystemPrompt() string {
	return strings.TrimSpace(strings.Join([]string{
		"You are a clinical scribe for a developmental assessment service.",
		"Write the session summary a supervising clinician reads before the next appointment.",
		"",
		"Rules:",
		"- brief_summary: 2-3 sentences a clinician can scan in ten seconds.",
		"- detailed_summary: one paragraph covering content, engagement, and anything unusual.",
		"- key_topics: short noun phrases.",
		"- emotional_tone: one phrase describing the patient's overall affect.",
		"- notable_quotes: verbatim quotes worth preserving, if any.",
		"- clinical_observations: observations phrased neutrally; never diagnostic claims.",
		"- follow_up_items: concrete things to probe next session.",
		"",
		`Respond with JSON: {"brief_summary":"...","detailed_summary":"...","key_topics":["..."],"emotional_tone":"...","notable_quotes":["..."],"clinical_observations":["..."],"follow_up_items":["..."]}`,
	}, "\n"))
}
