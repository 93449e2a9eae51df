package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
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

// EvidenceGap flags one diagnostic criterion whose evidence base is too thin
// to lean on.
type EvidenceGap struct {
	CriterionCode        string  `json:"criterion_code"`
	CriterionDescription string  `json:"criterion_description"`
	Status               string  `json:"status"` // no_evidence | low_confidence | needs_confirmation
	SignalCount          int     `json:"signal_count"`
	AvgConfidence        float64 `json:"avg_confidence"`
	SuggestedFocus       string  `json:"suggested_focus"`
}

type EvidenceGapReport struct {
	PatientID   uuid.UUID     `json:"patient_id"`
	Gaps        []EvidenceGap `json:"gaps"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// DifferentialIndicator surfaces a condition other than the working
// hypothesis whose keyword profile shows up in the extracted evidence. It is
// a prompt for clinician review, not a claim.
type DifferentialIndicator struct {
	ConditionCode     string                  `json:"condition_code"`
	ConditionName     string                  `json:"condition_name"`
	MatchCount        int                     `json:"match_count"`
	MatchedKeywords   []string                `json:"matched_keywords"`
	SupportingSignals []*types.ClinicalSignal `json:"supporting_signals"`
}

type ExtractionService interface {
	ExtractSignals(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) ([]*types.ClinicalSignal, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*types.ClinicalSignal, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, filter repos.SignalFilter) ([]*types.ClinicalSignal, error)
	EvidenceGaps(ctx context.Context, patientID uuid.UUID) (*EvidenceGapReport, error)
	DifferentialScan(ctx context.Context, patientID uuid.UUID) ([]DifferentialIndicator, error)
	VerifySignal(ctx context.Context, signalID uuid.UUID, verified bool, notes string, clinicianID uuid.UUID) (*types.ClinicalSignal, error)
}

type extractionService struct {
	log        *logger.Logger
	ai         llm.Client
	tax        *taxonomy.Provider
	signalRepo repos.ClinicalSignalRepo
}

func NewExtractionService(
	log *logger.Logger,
	ai llm.Client,
	tax *taxonomy.Provider,
	signalRepo repos.ClinicalSignalRepo,
) ExtractionService {
	return &extractionService{
		log:        log.With("service", "ExtractionService"),
		ai:         ai,
		tax:        tax,
		signalRepo: signalRepo,
	}
}

type extractedSignal struct {
	SignalType           string   `json:"signal_type"`
	SignalName           string   `json:"signal_name"`
	Evidence             string   `json:"evidence"`
	EvidenceType         string   `json:"evidence_type"`
	Reasoning            string   `json:"reasoning"`
	Quote                string   `json:"quote"`
	QuoteContext         string   `json:"quote_context"`
	StartChar            *int     `json:"start_char"`
	EndChar              *int     `json:"end_char"`
	LineNumber           *int     `json:"line_number"`
	Intensity            *float64 `json:"intensity"`
	Confidence           *float64 `json:"confidence"`
	DomainCode           string   `json:"domain_code"`
	DSM5Criterion        string   `json:"dsm5_criterion"`
	ClinicalSignificance string   `json:"clinical_significance"`
}

type extractionPayload struct {
	Signals []extractedSignal `json:"signals"`
}

// ExtractSignals runs one analysis pass over the session transcript and
// appends every resulting signal. Extraction never rewrites earlier rows:
// re-running a session adds a second set, and clinicians reconcile through
// verification.
func (s *extractionService) ExtractSignals(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) ([]*types.ClinicalSignal, error) {
	turns, err := ParseTranscript(session.Transcript)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrEmptyTranscript
	}
	rendered := RenderTranscript(turns)

	raw, err := s.ai.CompleteJSON(ctx, llm.CompletionRequest{
		CallType:    "signal_extraction",
		System:      s.extractionSystemPrompt(),
		User:        s.extractionUserPrompt(rendered),
		Temperature: 0.2,
		MaxTokens:   4096,
	})
	if err != nil {
		return nil, fmt.Errorf("signal extraction call: %w", err)
	}

	var payload extractionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("signal extraction payload: %w: %s", llm.ErrInvalidJSON, err.Error())
	}

	rows := make([]*types.ClinicalSignal, 0, len(payload.Signals))
	for _, es := range payload.Signals {
		if strings.TrimSpace(es.SignalName) == "" {
			continue
		}
		row := &types.ClinicalSignal{
			ID:                   uuid.New(),
			PatientID:            session.PatientID,
			SessionID:            session.ID,
			SignalType:           normalizeSignalType(es.SignalType),
			SignalName:           strings.TrimSpace(es.SignalName),
			Evidence:             strings.TrimSpace(es.Evidence),
			EvidenceType:         normalizeEvidenceType(es.EvidenceType),
			Reasoning:            strings.TrimSpace(es.Reasoning),
			Quote:                strings.TrimSpace(es.Quote),
			QuoteContext:         strings.TrimSpace(es.QuoteContext),
			StartChar:            es.StartChar,
			EndChar:              es.EndChar,
			LineNumber:           es.LineNumber,
			Intensity:            clampUnitDefault(es.Intensity, 0.5),
			Confidence:           clampUnitDefault(es.Confidence, 0.5),
			DomainCode:           strings.TrimSpace(es.DomainCode),
			DSM5Criterion:        strings.TrimSpace(strings.ToUpper(es.DSM5Criterion)),
			ClinicalSignificance: normalizeSignificance(es.ClinicalSignificance),
		}
		if start, end, line, ok := locateQuote(rendered, row.Quote); ok {
			row.StartChar = start
			row.EndChar = end
			row.LineNumber = line
		}
		if row.DomainCode != "" {
			if _, ok := s.tax.DomainByCode(row.DomainCode); !ok {
				s.log.Warn("extracted signal references unknown domain",
					"session_id", session.ID,
					"signal_name", row.SignalName,
					"domain_code", row.DomainCode,
				)
			}
		}
		rows = append(rows, row)
	}

	created, err := s.signalRepo.CreateBatch(ctx, tx, rows)
	if err != nil {
		return nil, fmt.Errorf("persist signals: %w", err)
	}
	s.log.Info("signals extracted",
		"session_id", session.ID,
		"patient_id", session.PatientID,
		"count", len(created),
	)
	return created, nil
}

func (s *extractionService) extractionSystemPrompt() string {
	return strings.TrimSpace(strings.Join([]string{
		"You are a clinical observation assistant supporting a developmental assessment team.",
		"Read an assessment-call transcript and extract discrete clinical signals: concrete, observable indicators relevant to neurodevelopmental assessment.",
		"",
		"Rules:",
		"- You observe and document. You NEVER diagnose, and you never speculate beyond the transcript.",
		"- Every signal must carry the exact supporting quote, copied verbatim from the transcript.",
		"- evidence_type is 'observed' (behavior shown during the call), 'self_reported' (the patient describes it), or 'inferred' (indirectly indicated).",
		"- signal_type is one of: communication, social, sensory, behavioral, emotional.",
		"- clinical_significance is one of: low, moderate, high.",
		"- intensity and confidence are floats in [0,1].",
		"- domain_code must come from DOMAINS below; dsm5_criterion must come from CRITERIA below. Leave them empty if nothing fits.",
		"- Prefer fewer, well-evidenced signals over exhaustive weak ones.",
		"",
		`Respond with JSON: {"signals":[{"signal_type":"...","signal_name":"...","evidence":"...","evidence_type":"...","reasoning":"...","quote":"...","quote_context":"...","intensity":0.0,"confidence":0.0,"domain_code":"...","dsm5_criterion":"...","clinical_significance":"..."}]}`,
	}, "\n"))
}

func (s *extractionService) extractionUserPrompt(rendered string) string {
	var user strings.Builder
	user.WriteString("DOMAINS:\n")
	user.WriteString(s.tax.RenderDomains())
	user.WriteString("\n\nCRITERIA:\n")
	user.WriteString(s.tax.RenderCriteria())
	user.WriteString("\n\nTRANSCRIPT:\n")
	user.WriteString(rendered)
	user.WriteString("\n")
	return user.String()
}

func (s *extractionService) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*types.ClinicalSignal, error) {
	return s.signalRepo.GetBySession(ctx, nil, sessionID)
}

func (s *extractionService) ListByPatient(ctx context.Context, patientID uuid.UUID, filter repos.SignalFilter) ([]*types.ClinicalSignal, error) {
	return s.signalRepo.GetByPatient(ctx, nil, patientID, filter)
}

// EvidenceGaps buckets every diagnostic criterion by the state of its
// collected evidence. Criteria with solid coverage are omitted.
func (s *extractionService) EvidenceGaps(ctx context.Context, patientID uuid.UUID) (*EvidenceGapReport, error) {
	signals, err := s.signalRepo.GetByPatient(ctx, nil, patientID, repos.SignalFilter{})
	if err != nil {
		return nil, err
	}

	byCriterion := make(map[string][]*types.ClinicalSignal)
	for _, sig := range signals {
		if sig.DSM5Criterion == "" {
			continue
		}
		byCriterion[sig.DSM5Criterion] = append(byCriterion[sig.DSM5Criterion], sig)
	}

	report := &EvidenceGapReport{
		PatientID:   patientID,
		Gaps:        []EvidenceGap{},
		GeneratedAt: time.Now().UTC(),
	}
	for _, code := range s.tax.CriterionCodes() {
		desc, _ := s.tax.CriterionDescription(code)
		group := byCriterion[code]
		gap := EvidenceGap{
			CriterionCode:        code,
			CriterionDescription: desc,
			SignalCount:          len(group),
		}
		switch {
		case len(group) == 0:
			gap.Status = "no_evidence"
			gap.SuggestedFocus = fmt.Sprintf("No signals collected yet; probe directly for: %s", desc)
		default:
			var sum float64
			hasHigh := false
			for _, sig := range group {
				sum += sig.Confidence
				if sig.ClinicalSignificance == types.SignificanceHigh {
					hasHigh = true
				}
			}
			gap.AvgConfidence = sum / float64(len(group))
			switch {
			case gap.AvgConfidence < 0.5:
				gap.Status = "low_confidence"
				gap.SuggestedFocus = fmt.Sprintf("Existing signals are low-confidence; seek clearer examples of: %s", desc)
			case !hasHigh && len(group) < 3:
				gap.Status = "needs_confirmation"
				gap.SuggestedFocus = fmt.Sprintf("Evidence is thin; confirm with additional observations of: %s", desc)
			default:
				continue
			}
		}
		report.Gaps = append(report.Gaps, gap)
	}
	return report, nil
}

// DifferentialScan checks the evidence base against keyword profiles of
// conditions that can mimic or co-occur with the working hypothesis.
func (s *extractionService) DifferentialScan(ctx context.Context, patientID uuid.UUID) ([]DifferentialIndicator, error) {
	signals, err := s.signalRepo.GetByPatient(ctx, nil, patientID, repos.SignalFilter{})
	if err != nil {
		return nil, err
	}

	out := []DifferentialIndicator{}
	for _, diff := range s.tax.Differentials() {
		matched := []*types.ClinicalSignal{}
		keywordHits := map[string]bool{}
		for _, sig := range signals {
			haystack := strings.ToLower(sig.SignalName + " " + sig.Evidence + " " + sig.Quote)
			hit := false
			for _, kw := range diff.Keywords {
				if strings.Contains(haystack, strings.ToLower(kw)) {
					keywordHits[kw] = true
					hit = true
				}
			}
			if hit {
				matched = append(matched, sig)
			}
		}
		if len(matched) == 0 {
			continue
		}
		total := len(matched)
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Confidence > matched[j].Confidence
		})
		if len(matched) > 5 {
			matched = matched[:5]
		}
		keywords := make([]string, 0, len(keywordHits))
		for kw := range keywordHits {
			keywords = append(keywords, kw)
		}
		sort.Strings(keywords)
		out = append(out, DifferentialIndicator{
			ConditionCode:     diff.Code,
			ConditionName:     diff.Name,
			MatchCount:        total,
			MatchedKeywords:   keywords,
			SupportingSignals: matched,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MatchCount > out[j].MatchCount
	})
	return out, nil
}

// VerifySignal records a clinician's judgment on one extracted signal. It is
// the only mutation extraction output ever receives.
func (s *extractionService) VerifySignal(ctx context.Context, signalID uuid.UUID, verified bool, notes string, clinicianID uuid.UUID) (*types.ClinicalSignal, error) {
	row, err := s.signalRepo.GetByID(ctx, nil, signalID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSignalNotFound
	}
	if err := s.signalRepo.UpdateVerification(ctx, nil, signalID, verified, notes, clinicianID); err != nil {
		return nil, err
	}
	return s.signalRepo.GetByID(ctx, nil, signalID)
}

func normalizeSignalType(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case types.SignalTypeCommunication:
		return types.SignalTypeCommunication
	case types.SignalTypeSocial:
		return types.SignalTypeSocial
	case types.SignalTypeSensory:
		return types.SignalTypeSensory
	case types.SignalTypeEmotional:
		return types.SignalTypeEmotional
	default:
		return types.SignalTypeBehavioral
	}
}

func normalizeEvidenceType(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case types.EvidenceTypeObserved:
		return types.EvidenceTypeObserved
	case types.EvidenceTypeSelfReported, "self-reported":
		return types.EvidenceTypeSelfReported
	default:
		return types.EvidenceTypeInferred
	}
}

func normalizeSignificance(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case types.SignificanceHigh:
		return types.SignificanceHigh
	case types.SignificanceModerate:
		return types.SignificanceModerate
	default:
		return types.SignificanceLow
	}
}

func clampUnitDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return clampUnit(*v)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
