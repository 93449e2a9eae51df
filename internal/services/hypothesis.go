package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/taxonomy"
	"github.com/attunehealth/attune-backend/internal/types"
)

// uncertaintyVolatile is the uncertainty above which a hypothesis is too
// unsettled to call anything but volatile.
const uncertaintyVolatile = 0.3

type HypothesisProgress struct {
	Hypothesis *types.DiagnosticHypothesis `json:"hypothesis"`
	Stability  string                      `json:"stability"`
	History    []*types.HypothesisHistory  `json:"history"`
}

type PatientProgress struct {
	PatientID    uuid.UUID            `json:"patient_id"`
	Hypotheses   []HypothesisProgress `json:"hypotheses"`
	DomainTrends []*DomainTrend       `json:"domain_trends"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

type HypothesisService interface {
	UpdateHypotheses(ctx context.Context, session *types.AssessmentSession) ([]*types.DiagnosticHypothesis, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*types.DiagnosticHypothesis, error)
	GetPrimary(ctx context.Context, patientID uuid.UUID) (*types.DiagnosticHypothesis, error)
	History(ctx context.Context, hypothesisID uuid.UUID) ([]*types.HypothesisHistory, error)
	Progress(ctx context.Context, patientID uuid.UUID) (*PatientProgress, error)
}

type hypothesisService struct {
	db           *gorm.DB
	log          *logger.Logger
	ai           llm.Client
	tax          *taxonomy.Provider
	locker       PatientLocker
	scoring      ScoringService
	hypoRepo     repos.HypothesisRepo
	histRepo     repos.HypothesisHistoryRepo
	scoreRepo    repos.DomainScoreRepo
	signalRepo   repos.ClinicalSignalRepo
	summaryRepo  repos.SessionSummaryRepo
	modelVersion string
}

func NewHypothesisService(
	db *gorm.DB,
	log *logger.Logger,
	ai llm.Client,
	tax *taxonomy.Provider,
	locker PatientLocker,
	scoring ScoringService,
	hypoRepo repos.HypothesisRepo,
	histRepo repos.HypothesisHistoryRepo,
	scoreRepo repos.DomainScoreRepo,
	signalRepo repos.ClinicalSignalRepo,
	summaryRepo repos.SessionSummaryRepo,
	modelVersion string,
) HypothesisService {
	return &hypothesisService{
		db:           db,
		log:          log.With("service", "HypothesisService"),
		ai:           ai,
		tax:          tax,
		locker:       locker,
		scoring:      scoring,
		hypoRepo:     hypoRepo,
		histRepo:     histRepo,
		scoreRepo:    scoreRepo,
		signalRepo:   signalRepo,
		summaryRepo:  summaryRepo,
		modelVersion: modelVersion,
	}
}

type differentialNote struct {
	ConditionCode string `json:"condition_code"`
	ConditionName string `json:"condition_name"`
	Reasoning     string `json:"reasoning"`
}

type hypothesisAssessment struct {
	ConditionCode                 string             `json:"condition_code"`
	ConditionName                 string             `json:"condition_name"`
	EvidenceStrength              float64            `json:"evidence_strength"`
	Uncertainty                   float64            `json:"uncertainty"`
	CILower                       *float64           `json:"ci_lower"`
	CIUpper                       *float64           `json:"ci_upper"`
	SupportingPoints              []string           `json:"supporting_points"`
	ContradictingPoints           []string           `json:"contradicting_points"`
	ReasoningChain                []string           `json:"reasoning_chain"`
	CriterionStatus               map[string]string  `json:"criterion_status"`
	FunctionalImpactDocumented    bool               `json:"functional_impact_documented"`
	DevelopmentalPeriodDocumented bool               `json:"developmental_period_documented"`
	Differentials                 []differentialNote `json:"differentials"`
	Explanation                   string             `json:"explanation"`
	Limitations                   string             `json:"limitations"`
}

type hypothesisPayload struct {
	Hypotheses []hypothesisAssessment `json:"hypotheses"`
}

// evidenceSignal is the compact per-signal view the reasoning prompt sees.
type evidenceSignal struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	EvidenceType string    `json:"evidence_type"`
	Significance string    `json:"significance"`
	Confidence   float64   `json:"confidence"`
	Excerpt      string    `json:"excerpt"`
}

// UpdateHypotheses re-assesses every tracked condition from the patient's
// accumulated evidence. The whole update is serialized per patient and
// written atomically: each current-state upsert lands with its paired
// history row, or nothing lands at all.
func (s *hypothesisService) UpdateHypotheses(ctx context.Context, session *types.AssessmentSession) ([]*types.DiagnosticHypothesis, error) {
	release, err := s.locker.Acquire(ctx, session.PatientID)
	if err != nil {
		return nil, fmt.Errorf("acquire patient lock: %w", err)
	}
	defer release()

	scores, err := s.scoreRepo.LatestPerDomain(ctx, nil, session.PatientID)
	if err != nil {
		return nil, err
	}
	signals, err := s.signalRepo.GetByPatient(ctx, nil, session.PatientID, repos.SignalFilter{})
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 && len(signals) == 0 {
		s.log.Debug("no evidence to reason over", "patient_id", session.PatientID)
		return s.hypoRepo.ListByPatient(ctx, nil, session.PatientID)
	}
	narratives, err := s.summaryRepo.RecentByPatient(ctx, nil, session.PatientID, 5)
	if err != nil {
		return nil, err
	}
	existing, err := s.hypoRepo.ListByPatient(ctx, nil, session.PatientID)
	if err != nil {
		return nil, err
	}

	raw, err := s.ai.CompleteJSON(ctx, llm.CompletionRequest{
		CallType:    "hypothesis_update",
		System:      s.hypothesisSystemPrompt(),
		User:        s.hypothesisUserPrompt(scores, signals, narratives, existing),
		Temperature: 0.2,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, fmt.Errorf("hypothesis call: %w", err)
	}
	var payload hypothesisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("hypothesis payload: %w: %s", llm.ErrInvalidJSON, err.Error())
	}

	now := time.Now().UTC()
	updated := make([]*types.DiagnosticHypothesis, 0, len(payload.Hypotheses))
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		for _, asm := range payload.Hypotheses {
			code := strings.ToLower(strings.TrimSpace(asm.ConditionCode))
			if code == "" {
				continue
			}
			prev, pErr := s.hypoRepo.GetByPatientAndCondition(ctx, txx, session.PatientID, code)
			if pErr != nil {
				return pErr
			}
			row, delta := s.buildRow(session, code, asm, prev, now)
			surviving, uErr := s.hypoRepo.Upsert(ctx, txx, row)
			if uErr != nil {
				return uErr
			}
			sessionID := session.ID
			entry := &types.HypothesisHistory{
				ID:               uuid.New(),
				HypothesisID:     surviving.ID,
				PatientID:        session.PatientID,
				SessionID:        &sessionID,
				EvidenceStrength: surviving.EvidenceStrength,
				Uncertainty:      surviving.Uncertainty,
				CILower:          surviving.CILower,
				CIUpper:          surviving.CIUpper,
				Trend:            surviving.Trend,
				Delta:            delta,
				ModelVersion:     s.modelVersion,
				CreatedAt:        now,
			}
			if _, hErr := s.histRepo.Create(ctx, txx, entry); hErr != nil {
				return hErr
			}
			updated = append(updated, surviving)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist hypotheses: %w", err)
	}

	s.log.Info("hypotheses updated",
		"session_id", session.ID,
		"patient_id", session.PatientID,
		"count", len(updated),
	)
	return updated, nil
}

// buildRow folds a model assessment and the previous state into the next
// current-state row. The returned delta is nil for first-ever assessments.
func (s *hypothesisService) buildRow(session *types.AssessmentSession, code string, asm hypothesisAssessment, prev *types.DiagnosticHypothesis, now time.Time) (*types.DiagnosticHypothesis, *float64) {
	strength := clampUnit(asm.EvidenceStrength)
	uncertainty := clampUnit(asm.Uncertainty)

	// Derive the interval from strength and uncertainty when the model omits
	// it; a strength estimate must never travel without its error bars.
	lower := clampUnit(strength - uncertainty)
	upper := clampUnit(strength + uncertainty)
	if asm.CILower != nil {
		lower = clampUnit(*asm.CILower)
	}
	if asm.CIUpper != nil {
		upper = clampUnit(*asm.CIUpper)
	}
	if lower > upper {
		lower, upper = upper, lower
	}

	aCount, bCount := criterionCounts(asm.CriterionStatus)

	row := &types.DiagnosticHypothesis{
		ID:               uuid.New(),
		PatientID:        session.PatientID,
		ConditionCode:    code,
		ConditionName:    strings.TrimSpace(asm.ConditionName),
		EvidenceStrength: strength,
		Uncertainty:      uncertainty,
		CILower:          lower,
		CIUpper:          upper,
		SupportingCount:  len(asm.SupportingPoints),
		ContradictCount:  len(asm.ContradictingPoints),
		SupportingPoints: jsonField(asm.SupportingPoints),
		ContradictPoints: jsonField(asm.ContradictingPoints),
		ReasoningChain:   jsonField(asm.ReasoningChain),
		CriterionStatus:  jsonField(normalizeCriterionStatus(asm.CriterionStatus)),
		CriterionAMet:    aCount >= 3,
		CriterionBMet:    bCount >= 2,
		CriterionACount:  aCount,
		CriterionBCount:  bCount,
		FunctionalImpact: asm.FunctionalImpactDocumented,
		DevPeriodOnset:   asm.DevelopmentalPeriodDocumented,
		Differentials:    jsonField(asm.Differentials),
		Explanation:      strings.TrimSpace(asm.Explanation),
		Limitations:      strings.TrimSpace(asm.Limitations),
		ModelVersion:     s.modelVersion,
		FirstIndicatedAt: now,
		LastUpdatedAt:    now,
	}
	sessionID := session.ID
	row.LastSessionID = &sessionID

	if row.ConditionName == "" {
		row.ConditionName = code
	}

	if prev == nil {
		row.Trend = types.TrendStable
		row.SessionsStable = 0
		return row, nil
	}

	row.FirstIndicatedAt = prev.FirstIndicatedAt
	delta := strength - prev.EvidenceStrength
	row.LastSessionDelta = &delta
	if math.Abs(delta) < trendEpsilon {
		row.Trend = types.TrendStable
		row.SessionsStable = prev.SessionsStable + 1
	} else {
		if delta > 0 {
			row.Trend = types.TrendIncreasing
		} else {
			row.Trend = types.TrendDecreasing
		}
		row.SessionsStable = 0
	}
	return row, &delta
}

func (s *hypothesisService) hypothesisSystemPrompt() string {
	return strings.TrimSpace(strings.Join([]string{
		"You are a diagnostic-reasoning assistant supporting a developmental assessment team.",
		"Given a patient's accumulated evidence (domain scores, clinical signals, session narratives, and prior hypothesis state), re-assess each plausible condition.",
		"",
		"Rules:",
		"- A hypothesis is NEVER a diagnosis. Express strength with calibrated uncertainty and state what the evidence cannot support.",
		"- evidence_strength and uncertainty are floats in [0,1]. Optionally include ci_lower/ci_upper.",
		"- criterion_status maps criterion codes from CRITERIA to one of: met, partial, unmet, unknown.",
		"- supporting_points and contradicting_points must each be grounded in the provided evidence; never invent observations.",
		"- reasoning_chain lists your inference steps in order.",
		"- differentials lists alternative conditions worth ruling out, with reasoning.",
		"- limitations must state explicitly what conclusions the current evidence cannot carry.",
		"- Assess every condition in EXISTING_HYPOTHESES plus any new condition the evidence meaningfully raises. Omit conditions with no meaningful signal.",
		"",
		`Respond with JSON: {"hypotheses":[{"condition_code":"...","condition_name":"...","evidence_strength":0.0,"uncertainty":0.0,"ci_lower":0.0,"ci_upper":0.0,"supporting_points":["..."],"contradicting_points":["..."],"reasoning_chain":["..."],"criterion_status":{"A1":"met"},"functional_impact_documented":false,"developmental_period_documented":false,"differentials":[{"condition_code":"...","condition_name":"...","reasoning":"..."}],"explanation":"...","limitations":"..."}]}`,
	}, "\n"))
}

func (s *hypothesisService) hypothesisUserPrompt(
	scores []*types.AssessmentDomainScore,
	signals []*types.ClinicalSignal,
	narratives []*types.SessionSummary,
	existing []*types.DiagnosticHypothesis,
) string {
	var user strings.Builder

	user.WriteString("CRITERIA:\n")
	user.WriteString(s.tax.RenderCriteria())

	user.WriteString("\n\nLATEST_DOMAIN_SCORES:\n")
	if len(scores) == 0 {
		user.WriteString("(none)\n")
	}
	for _, sc := range scores {
		user.WriteString(fmt.Sprintf("- %s (%s): score=%.2f confidence=%.2f evidence_count=%d\n",
			sc.DomainCode, sc.Category, sc.NormalizedScore, sc.Confidence, sc.EvidenceCount))
		if sc.KeyEvidence != "" {
			user.WriteString(fmt.Sprintf("  key_evidence: %s\n", sc.KeyEvidence))
		}
	}

	user.WriteString("\nTOP_SIGNALS_PER_DOMAIN:\n")
	topSignals := topSignalsPerDomain(signals, 5)
	if len(topSignals) == 0 {
		user.WriteString("(none)\n")
	}
	for domain, group := range topSignals {
		user.WriteString(fmt.Sprintf("%s:\n", domainOrUnassigned(domain)))
		for _, es := range group {
			b, _ := json.Marshal(es)
			user.WriteString("  ")
			user.Write(b)
			user.WriteString("\n")
		}
	}

	user.WriteString("\nRECENT_SESSION_NARRATIVES:\n")
	if len(narratives) == 0 {
		user.WriteString("(none)\n")
	}
	for _, n := range narratives {
		user.WriteString(fmt.Sprintf("- [%s] %s\n", n.CreatedAt.Format("2006-01-02"), n.BriefSummary))
	}

	user.WriteString("\nEXISTING_HYPOTHESES:\n")
	if len(existing) == 0 {
		user.WriteString("(none)\n")
	}
	for _, h := range existing {
		user.WriteString(fmt.Sprintf("- %s: strength=%.2f uncertainty=%.2f trend=%s\n",
			h.ConditionCode, h.EvidenceStrength, h.Uncertainty, h.Trend))
	}

	return user.String()
}

func (s *hypothesisService) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*types.DiagnosticHypothesis, error) {
	return s.hypoRepo.ListByPatient(ctx, nil, patientID)
}

func (s *hypothesisService) GetPrimary(ctx context.Context, patientID uuid.UUID) (*types.DiagnosticHypothesis, error) {
	row, err := s.hypoRepo.GetPrimary(ctx, nil, patientID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrHypothesisNotFound
	}
	return row, nil
}

func (s *hypothesisService) History(ctx context.Context, hypothesisID uuid.UUID) ([]*types.HypothesisHistory, error) {
	row, err := s.hypoRepo.GetByID(ctx, nil, hypothesisID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrHypothesisNotFound
	}
	return s.histRepo.ListByHypothesis(ctx, nil, hypothesisID)
}

func (s *hypothesisService) Progress(ctx context.Context, patientID uuid.UUID) (*PatientProgress, error) {
	hypotheses, err := s.hypoRepo.ListByPatient(ctx, nil, patientID)
	if err != nil {
		return nil, err
	}
	progress := &PatientProgress{
		PatientID:    patientID,
		Hypotheses:   []HypothesisProgress{},
		DomainTrends: []*DomainTrend{},
		GeneratedAt:  time.Now().UTC(),
	}
	for _, h := range hypotheses {
		history, hErr := s.histRepo.ListByHypothesis(ctx, nil, h.ID)
		if hErr != nil {
			return nil, hErr
		}
		progress.Hypotheses = append(progress.Hypotheses, HypothesisProgress{
			Hypothesis: h,
			Stability:  StabilityOf(h),
			History:    history,
		})
	}
	for _, domain := range s.tax.Domains() {
		trend, tErr := s.scoring.DomainTrend(ctx, patientID, domain.Code, 5)
		if tErr != nil {
			return nil, tErr
		}
		if trend != nil {
			progress.DomainTrends = append(progress.DomainTrends, trend)
		}
	}
	return progress, nil
}

// StabilityOf classifies how settled a hypothesis is. High uncertainty
// dominates: a volatile estimate is volatile no matter how flat its trend.
func StabilityOf(h *types.DiagnosticHypothesis) string {
	if h.Uncertainty > uncertaintyVolatile {
		return types.StabilityVolatile
	}
	if h.Trend == types.TrendIncreasing || h.Trend == types.TrendDecreasing {
		return types.StabilityStabilizing
	}
	return types.StabilityStable
}

func criterionCounts(status map[string]string) (aCount, bCount int) {
	for code, value := range status {
		if !strings.EqualFold(strings.TrimSpace(value), "met") {
			continue
		}
		c := strings.ToUpper(strings.TrimSpace(code))
		switch {
		case strings.HasPrefix(c, "A"):
			aCount++
		case strings.HasPrefix(c, "B"):
			bCount++
		}
	}
	return aCount, bCount
}

func normalizeCriterionStatus(status map[string]string) map[string]string {
	if len(status) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(status))
	for code, value := range status {
		v := strings.ToLower(strings.TrimSpace(value))
		switch v {
		case "met", "partial", "unmet", "unknown":
		default:
			v = "unknown"
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = v
	}
	return out
}

// topSignalsPerDomain keeps the strongest evidence per domain, by intensity.
func topSignalsPerDomain(signals []*types.ClinicalSignal, limit int) map[string][]evidenceSignal {
	byDomain := map[string][]*types.ClinicalSignal{}
	for _, sig := range signals {
		byDomain[sig.DomainCode] = append(byDomain[sig.DomainCode], sig)
	}
	out := map[string][]evidenceSignal{}
	for domain, group := range byDomain {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Intensity > group[j].Intensity
		})
		if len(group) > limit {
			group = group[:limit]
		}
		views := make([]evidenceSignal, 0, len(group))
		for _, sig := range group {
			views = append(views, evidenceSignal{
				ID:           sig.ID,
				Name:         sig.SignalName,
				Type:         sig.SignalType,
				EvidenceType: sig.EvidenceType,
				Significance: sig.ClinicalSignificance,
				Confidence:   sig.Confidence,
				Excerpt:      excerptOf(sig),
			})
		}
		out[domain] = views
	}
	return out
}

func excerptOf(sig *types.ClinicalSignal) string {
	text := sig.Quote
	if text == "" {
		text = sig.Evidence
	}
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}

func domainOrUnassigned(code string) string {
	if code == "" {
		return "(unassigned)"
	}
	return code
}

func jsonField(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
