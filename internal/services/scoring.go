package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/taxonomy"
	"github.com/attunehealth/attune-backend/internal/types"
)

// trendEpsilon is the score movement below which a domain or hypothesis is
// considered unchanged between assessments.
const trendEpsilon = 0.05

type TrendPoint struct {
	SessionID  uuid.UUID `json:"session_id"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	AssessedAt time.Time `json:"assessed_at"`
}

// DomainTrend compares the first and last points of a score window. It is
// nil-valued (not zero-valued) when fewer than two assessments exist.
type DomainTrend struct {
	DomainCode string       `json:"domain_code"`
	DomainName string       `json:"domain_name"`
	Window     int          `json:"window"`
	Points     []TrendPoint `json:"points"`
	FirstScore float64      `json:"first_score"`
	LastScore  float64      `json:"last_score"`
	Delta      float64      `json:"delta"`
	Direction  string       `json:"direction"` // increasing | stable | decreasing
}

// DomainAttention marks a domain the next session should probe: either never
// scored, or last scored with weak confidence.
type DomainAttention struct {
	DomainCode string   `json:"domain_code"`
	DomainName string   `json:"domain_name"`
	Reason     string   `json:"reason"` // unscored | low_confidence
	Confidence *float64 `json:"confidence,omitempty"`
}

type ScoringService interface {
	ScoreSession(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) ([]*types.AssessmentDomainScore, error)
	LatestScores(ctx context.Context, patientID uuid.UUID) ([]*types.AssessmentDomainScore, error)
	DomainTrend(ctx context.Context, patientID uuid.UUID, domainCode string, window int) (*DomainTrend, error)
	NeedsExploration(ctx context.Context, patientID uuid.UUID) ([]DomainAttention, error)
}

type scoringService struct {
	log        *logger.Logger
	ai         llm.Client
	tax        *taxonomy.Provider
	signalRepo repos.ClinicalSignalRepo
	scoreRepo  repos.DomainScoreRepo
}

func NewScoringService(
	log *logger.Logger,
	ai llm.Client,
	tax *taxonomy.Provider,
	signalRepo repos.ClinicalSignalRepo,
	scoreRepo repos.DomainScoreRepo,
) ScoringService {
	return &scoringService{
		log:        log.With("service", "ScoringService"),
		ai:         ai,
		tax:        tax,
		signalRepo: signalRepo,
		scoreRepo:  scoreRepo,
	}
}

type domainScorePayload struct {
	RawScore        float64 `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
	Confidence      float64 `json:"confidence"`
	KeyEvidence     string  `json:"key_evidence"`
}

// ScoreSession scores each assessment domain that this session produced
// signals for. A session with no signals is scored for nothing: no model
// calls are made and an empty list is returned.
func (s *scoringService) ScoreSession(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) ([]*types.AssessmentDomainScore, error) {
	signals, err := s.signalRepo.GetBySession(ctx, tx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return []*types.AssessmentDomainScore{}, nil
	}

	byDomain := map[string][]*types.ClinicalSignal{}
	for _, sig := range signals {
		code := sig.DomainCode
		if code == "" {
			continue
		}
		if _, ok := s.tax.DomainByCode(code); !ok {
			s.log.Warn("dropping signals for unknown domain",
				"session_id", session.ID,
				"domain_code", code,
			)
			continue
		}
		byDomain[code] = append(byDomain[code], sig)
	}

	assessedAt := time.Now().UTC()
	rows := make([]*types.AssessmentDomainScore, 0, len(byDomain))
	for _, domain := range s.tax.Domains() {
		group := byDomain[domain.Code]
		if len(group) == 0 {
			continue
		}
		raw, err := s.ai.CompleteJSON(ctx, llm.CompletionRequest{
			CallType:    "domain_scoring",
			System:      s.scoringSystemPrompt(),
			User:        s.scoringUserPrompt(domain, group),
			Temperature: 0.1,
			MaxTokens:   1024,
		})
		if err != nil {
			return nil, fmt.Errorf("score domain %s: %w", domain.Code, err)
		}
		var payload domainScorePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("score payload for %s: %w: %s", domain.Code, llm.ErrInvalidJSON, err.Error())
		}
		rows = append(rows, &types.AssessmentDomainScore{
			ID:              uuid.New(),
			PatientID:       session.PatientID,
			SessionID:       session.ID,
			DomainCode:      domain.Code,
			DomainName:      domain.Name,
			Category:        domain.Category,
			RawScore:        payload.RawScore,
			NormalizedScore: clampUnit(payload.NormalizedScore),
			Confidence:      clampUnit(payload.Confidence),
			EvidenceCount:   len(group),
			KeyEvidence:     strings.TrimSpace(payload.KeyEvidence),
			AssessedAt:      assessedAt,
		})
	}

	created, err := s.scoreRepo.CreateBatch(ctx, tx, rows)
	if err != nil {
		return nil, fmt.Errorf("persist domain scores: %w", err)
	}
	s.log.Info("domains scored",
		"session_id", session.ID,
		"patient_id", session.PatientID,
		"count", len(created),
	)
	return created, nil
}

func (s *scoringService) scoringSystemPrompt() string {
	return strings.TrimSpace(strings.Join([]string{
		"You are a clinical assessment scorer.",
		"Given the clinical signals observed for ONE assessment domain in one session, rate how strongly that domain showed assessment-relevant findings.",
		"",
		"Rules:",
		"- You quantify observations. You NEVER diagnose.",
		"- normalized_score is a float in [0,1]: 0 means no assessment-relevant findings, 1 means pervasive strong findings.",
		"- raw_score is your unnormalized judgment on a 0-10 scale.",
		"- confidence reflects the quality and quantity of the evidence, in [0,1].",
		"- key_evidence is a one-sentence justification citing the strongest signal.",
		"",
		`Respond with JSON: {"raw_score":0.0,"normalized_score":0.0,"confidence":0.0,"key_evidence":"..."}`,
	}, "\n"))
}

func (s *scoringService) scoringUserPrompt(domain taxonomy.Domain, group []*types.ClinicalSignal) string {
	var user strings.Builder
	user.WriteString("DOMAIN:\n")
	user.WriteString(fmt.Sprintf("- code: %s\n- name: %s\n- category: %s\n- description: %s\n",
		domain.Code, domain.Name, domain.Category, domain.Description))
	user.WriteString("\nSIGNALS:\n")
	for i, sig := range group {
		user.WriteString(fmt.Sprintf("%d. [%s/%s] %s\n", i+1, sig.SignalType, sig.ClinicalSignificance, sig.SignalName))
		user.WriteString(fmt.Sprintf("   evidence: %s\n", sig.Evidence))
		if sig.Quote != "" {
			user.WriteString(fmt.Sprintf("   quote: %q\n", sig.Quote))
		}
		user.WriteString(fmt.Sprintf("   intensity: %.2f confidence: %.2f\n", sig.Intensity, sig.Confidence))
	}
	return user.String()
}

func (s *scoringService) LatestScores(ctx context.Context, patientID uuid.UUID) ([]*types.AssessmentDomainScore, error) {
	return s.scoreRepo.LatestPerDomain(ctx, nil, patientID)
}

func (s *scoringService) DomainTrend(ctx context.Context, patientID uuid.UUID, domainCode string, window int) (*DomainTrend, error) {
	if _, ok := s.tax.DomainByCode(domainCode); !ok {
		return nil, fmt.Errorf("unknown domain code %q", domainCode)
	}
	if window <= 0 {
		window = 5
	}
	series, err := s.scoreRepo.SeriesForDomain(ctx, nil, patientID, domainCode, window)
	if err != nil {
		return nil, err
	}
	if len(series) < 2 {
		return nil, nil
	}
	domain, _ := s.tax.DomainByCode(domainCode)
	trend := &DomainTrend{
		DomainCode: domainCode,
		DomainName: domain.Name,
		Window:     window,
		FirstScore: series[0].NormalizedScore,
		LastScore:  series[len(series)-1].NormalizedScore,
	}
	for _, row := range series {
		trend.Points = append(trend.Points, TrendPoint{
			SessionID:  row.SessionID,
			Score:      row.NormalizedScore,
			Confidence: row.Confidence,
			AssessedAt: row.AssessedAt,
		})
	}
	trend.Delta = trend.LastScore - trend.FirstScore
	trend.Direction = trendDirection(trend.Delta)
	return trend, nil
}

func (s *scoringService) NeedsExploration(ctx context.Context, patientID uuid.UUID) ([]DomainAttention, error) {
	latest, err := s.scoreRepo.LatestPerDomain(ctx, nil, patientID)
	if err != nil {
		return nil, err
	}
	byCode := map[string]*types.AssessmentDomainScore{}
	for _, row := range latest {
		byCode[row.DomainCode] = row
	}

	out := []DomainAttention{}
	for _, domain := range s.tax.Domains() {
		row, ok := byCode[domain.Code]
		if !ok {
			out = append(out, DomainAttention{
				DomainCode: domain.Code,
				DomainName: domain.Name,
				Reason:     "unscored",
			})
			continue
		}
		if row.Confidence < 0.5 {
			conf := row.Confidence
			out = append(out, DomainAttention{
				DomainCode: domain.Code,
				DomainName: domain.Name,
				Reason:     "low_confidence",
				Confidence: &conf,
			})
		}
	}
	return out, nil
}

// trendDirection classifies a score delta. Movement below trendEpsilon in
// either direction is stable; exactly trendEpsilon counts as movement.
func trendDirection(delta float64) string {
	if math.Abs(delta) < trendEpsilon {
		return types.TrendStable
	}
	if delta > 0 {
		return types.TrendIncreasing
	}
	return types.TrendDecreasing
}
