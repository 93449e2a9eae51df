package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/attunehealth/attune-backend/internal/types"
)

func sessionWithTranscript(t *testing.T, turns []types.TranscriptTurn) *types.AssessmentSession {
	t.Helper()
	raw, err := json.Marshal(turns)
	if err != nil {
		t.Fatalf("marshal transcript: %v", err)
	}
	return &types.AssessmentSession{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		Status:     types.SessionStatusCompleted,
		Transcript: datatypes.JSON(raw),
	}
}

func newExtraction(t *testing.T, ai *fakeLLM, signals *fakeSignalRepo) ExtractionService {
	t.Helper()
	return NewExtractionService(testLogger(t), ai, testTaxonomy(t), signals)
}

func TestExtractSignalsNormalizesModelOutput(t *testing.T) {
	ai := newFakeLLM()
	ai.respond("signal_extraction", `{"signals":[
		{"signal_name":"eye contact avoidance","signal_type":"social","evidence_type":"self-reported",
		 "quote":"I ate lunch alone again.","intensity":1.4,"domain_code":"peer_relationships",
		 "dsm5_criterion":"a3","clinical_significance":"severe"},
		{"signal_name":"","evidence":"dropped for having no name"},
		{"signal_name":"hand flapping","signal_type":"stimming","evidence_type":"watched",
		 "quote":"not in the transcript at all","start_char":7,"end_char":9,"line_number":42}
	]}`)
	repo := &fakeSignalRepo{}
	svc := newExtraction(t, ai, repo)

	session := sessionWithTranscript(t, []types.TranscriptTurn{
		{Role: "assistant", Text: "How was school today?"},
		{Role: "user", Text: "I ate lunch alone again."},
	})
	signals, err := svc.ExtractSignals(context.Background(), nil, session)
	if err != nil {
		t.Fatalf("ExtractSignals: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("signal count: want=2 got=%d", len(signals))
	}

	first := signals[0]
	if first.Intensity != 1.0 {
		t.Fatalf("intensity clamp: want=1.0 got=%v", first.Intensity)
	}
	if first.Confidence != 0.5 {
		t.Fatalf("missing confidence default: want=0.5 got=%v", first.Confidence)
	}
	if first.EvidenceType != types.EvidenceTypeSelfReported {
		t.Fatalf("evidence type: want=self_reported got=%s", first.EvidenceType)
	}
	if first.ClinicalSignificance != types.SignificanceLow {
		t.Fatalf("unknown significance: want=low got=%s", first.ClinicalSignificance)
	}
	if first.DSM5Criterion != "A3" {
		t.Fatalf("criterion uppercased: got=%s", first.DSM5Criterion)
	}
	if first.StartChar == nil || first.EndChar == nil || first.LineNumber == nil {
		t.Fatalf("located quote must carry offsets")
	}
	rendered := RenderTranscript([]types.TranscriptTurn{
		{Role: "assistant", Text: "How was school today?"},
		{Role: "user", Text: "I ate lunch alone again."},
	})
	if rendered[*first.StartChar:*first.EndChar] != "I ate lunch alone again." {
		t.Fatalf("recomputed offsets slice wrong text")
	}
	if *first.LineNumber != 3 {
		t.Fatalf("line number: want=3 got=%d", *first.LineNumber)
	}

	second := signals[1]
	if second.SignalType != types.SignalTypeBehavioral {
		t.Fatalf("unknown signal type: want=behavioral got=%s", second.SignalType)
	}
	if second.EvidenceType != types.EvidenceTypeInferred {
		t.Fatalf("unknown evidence type: want=inferred got=%s", second.EvidenceType)
	}
	// Quote not present verbatim: the model's own offsets survive.
	if second.StartChar == nil || *second.StartChar != 7 || *second.LineNumber != 42 {
		t.Fatalf("unfindable quote must keep model offsets: %+v", second)
	}

	persisted, _ := repo.GetBySession(context.Background(), nil, session.ID)
	if len(persisted) != 2 {
		t.Fatalf("persisted count: want=2 got=%d", len(persisted))
	}
}

func TestExtractSignalsEmptyTranscript(t *testing.T) {
	ai := newFakeLLM()
	svc := newExtraction(t, ai, &fakeSignalRepo{})

	session := &types.AssessmentSession{ID: uuid.New(), PatientID: uuid.New()}
	_, err := svc.ExtractSignals(context.Background(), nil, session)
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("want ErrEmptyTranscript got %v", err)
	}
	if ai.callCount("signal_extraction") != 0 {
		t.Fatalf("empty transcript must not reach the model")
	}
}

func TestExtractSignalsAppendsOnRerun(t *testing.T) {
	ai := newFakeLLM()
	ai.respond("signal_extraction", `{"signals":[{"signal_name":"echolalia","quote":"I ate lunch alone."}]}`)
	repo := &fakeSignalRepo{}
	svc := newExtraction(t, ai, repo)

	session := sessionWithTranscript(t, []types.TranscriptTurn{
		{Role: "user", Text: "I ate lunch alone."},
	})
	for i := 0; i < 2; i++ {
		if _, err := svc.ExtractSignals(context.Background(), nil, session); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	persisted, _ := repo.GetBySession(context.Background(), nil, session.ID)
	if len(persisted) != 2 {
		t.Fatalf("re-extraction must append, not replace: want=2 got=%d", len(persisted))
	}
}

func seedCriterionSignal(repo *fakeSignalRepo, patientID uuid.UUID, criterion string, confidence float64, significance string) {
	repo.signals = append(repo.signals, &types.ClinicalSignal{
		ID:                   uuid.New(),
		PatientID:            patientID,
		SessionID:            uuid.New(),
		SignalName:           "seeded",
		DSM5Criterion:        criterion,
		Confidence:           confidence,
		ClinicalSignificance: significance,
	})
}

func TestEvidenceGapBuckets(t *testing.T) {
	repo := &fakeSignalRepo{}
	patientID := uuid.New()

	// A2: two signals averaging 0.4 confidence.
	seedCriterionSignal(repo, patientID, "A2", 0.3, types.SignificanceModerate)
	seedCriterionSignal(repo, patientID, "A2", 0.5, types.SignificanceModerate)
	// A3: confident but thin, nothing high-significance.
	seedCriterionSignal(repo, patientID, "A3", 0.8, types.SignificanceModerate)
	seedCriterionSignal(repo, patientID, "A3", 0.9, types.SignificanceLow)
	// B1: three confident signals, solid coverage.
	seedCriterionSignal(repo, patientID, "B1", 0.8, types.SignificanceModerate)
	seedCriterionSignal(repo, patientID, "B1", 0.8, types.SignificanceModerate)
	seedCriterionSignal(repo, patientID, "B1", 0.8, types.SignificanceModerate)
	// B2: one high-significance confident signal, also solid.
	seedCriterionSignal(repo, patientID, "B2", 0.9, types.SignificanceHigh)

	svc := newExtraction(t, newFakeLLM(), repo)
	report, err := svc.EvidenceGaps(context.Background(), patientID)
	if err != nil {
		t.Fatalf("EvidenceGaps: %v", err)
	}

	byCode := map[string]EvidenceGap{}
	for _, gap := range report.Gaps {
		byCode[gap.CriterionCode] = gap
	}

	if got := byCode["A1"].Status; got != "no_evidence" {
		t.Fatalf("A1: want=no_evidence got=%q", got)
	}
	if got := byCode["A2"].Status; got != "low_confidence" {
		t.Fatalf("A2: want=low_confidence got=%q", got)
	}
	if math.Abs(byCode["A2"].AvgConfidence-0.4) > 1e-9 {
		t.Fatalf("A2 avg confidence: want=0.4 got=%v", byCode["A2"].AvgConfidence)
	}
	if got := byCode["A3"].Status; got != "needs_confirmation" {
		t.Fatalf("A3: want=needs_confirmation got=%q", got)
	}
	if _, present := byCode["B1"]; present {
		t.Fatalf("B1 has sufficient evidence and must be omitted")
	}
	if _, present := byCode["B2"]; present {
		t.Fatalf("B2 has sufficient evidence and must be omitted")
	}
	if got := byCode["B3"].Status; got != "no_evidence" {
		t.Fatalf("B3: want=no_evidence got=%q", got)
	}
	if len(report.Gaps) != 5 {
		t.Fatalf("gap count: want=5 got=%d", len(report.Gaps))
	}
}

func TestDifferentialScanRanksByMatches(t *testing.T) {
	repo := &fakeSignalRepo{}
	patientID := uuid.New()
	quotes := []string{
		"She seems worried about everything lately.",
		"He said he was too nervous to raise his hand.",
		"He cannot focus on homework for more than a minute.",
		"He lined up all his toy cars by color.",
	}
	for i, quote := range quotes {
		repo.signals = append(repo.signals, &types.ClinicalSignal{
			ID:         uuid.New(),
			PatientID:  patientID,
			SignalName: "seeded",
			Quote:      quote,
			Confidence: 0.5 + float64(i)*0.1,
		})
	}

	svc := newExtraction(t, newFakeLLM(), repo)
	out, err := svc.DifferentialScan(context.Background(), patientID)
	if err != nil {
		t.Fatalf("DifferentialScan: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("conditions flagged: want=2 got=%d", len(out))
	}
	if out[0].ConditionCode != "anxiety" || out[0].MatchCount != 2 {
		t.Fatalf("top condition: want anxiety x2 got %s x%d", out[0].ConditionCode, out[0].MatchCount)
	}
	if out[1].ConditionCode != "adhd" || out[1].MatchCount != 1 {
		t.Fatalf("second condition: want adhd x1 got %s x%d", out[1].ConditionCode, out[1].MatchCount)
	}
	// "worried" also contains the keyword "worry", so three keywords hit.
	if len(out[0].MatchedKeywords) != 3 {
		t.Fatalf("anxiety keywords: want=3 got=%v", out[0].MatchedKeywords)
	}
	// Supporting signals ranked by confidence.
	if out[0].SupportingSignals[0].Confidence < out[0].SupportingSignals[1].Confidence {
		t.Fatalf("supporting signals must rank by confidence")
	}
}

func TestDifferentialScanCapsSupportingSignals(t *testing.T) {
	repo := &fakeSignalRepo{}
	patientID := uuid.New()
	for i := 0; i < 7; i++ {
		repo.signals = append(repo.signals, &types.ClinicalSignal{
			ID:        uuid.New(),
			PatientID: patientID,
			Quote:     "very anxious before school",
		})
	}
	svc := newExtraction(t, newFakeLLM(), repo)
	out, err := svc.DifferentialScan(context.Background(), patientID)
	if err != nil {
		t.Fatalf("DifferentialScan: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("conditions flagged: want=1 got=%d", len(out))
	}
	if out[0].MatchCount != 7 {
		t.Fatalf("match count reflects all matches: want=7 got=%d", out[0].MatchCount)
	}
	if len(out[0].SupportingSignals) != 5 {
		t.Fatalf("supporting signals capped: want=5 got=%d", len(out[0].SupportingSignals))
	}
}

func TestVerifySignal(t *testing.T) {
	repo := &fakeSignalRepo{}
	svc := newExtraction(t, newFakeLLM(), repo)

	_, err := svc.VerifySignal(context.Background(), uuid.New(), true, "", uuid.New())
	if !errors.Is(err, ErrSignalNotFound) {
		t.Fatalf("missing signal: want ErrSignalNotFound got %v", err)
	}

	sig := &types.ClinicalSignal{ID: uuid.New(), PatientID: uuid.New(), SignalName: "flat affect"}
	repo.signals = append(repo.signals, sig)

	clinician := uuid.New()
	updated, err := svc.VerifySignal(context.Background(), sig.ID, true, "observed in clinic too", clinician)
	if err != nil {
		t.Fatalf("VerifySignal: %v", err)
	}
	if !updated.Verified || updated.VerificationNotes != "observed in clinic too" {
		t.Fatalf("verification fields not applied: %+v", updated)
	}
	if updated.VerifiedBy == nil || *updated.VerifiedBy != clinician {
		t.Fatalf("verified_by not recorded")
	}
	if updated.VerifiedAt == nil {
		t.Fatalf("verified_at not stamped")
	}
}
