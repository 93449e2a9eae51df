package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
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

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("new test logger: %v", err)
	}
	return log
}

func testTaxonomy(t *testing.T) *taxonomy.Provider {
	t.Helper()
	tax, err := taxonomy.Load()
	if err != nil {
		t.Fatalf("load taxonomy: %v", err)
	}
	return tax
}

// fakeLLM returns scripted JSON per call type and records every request.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	errs      map[string]error
	requests  []llm.CompletionRequest
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		responses: map[string]json.RawMessage{},
		errs:      map[string]error{},
	}
}

func (f *fakeLLM) respond(callType, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[callType] = json.RawMessage(payload)
}

func (f *fakeLLM) fail(callType string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[callType] = err
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, req llm.CompletionRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.CallType]; ok {
		return nil, err
	}
	if resp, ok := f.responses[req.CallType]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("no scripted response for call type %q", req.CallType)
}

func (f *fakeLLM) callCount(callType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.CallType == callType {
			n++
		}
	}
	return n
}

type fakeSignalRepo struct {
	mu      sync.Mutex
	signals []*types.ClinicalSignal
}

func (f *fakeSignalRepo) CreateBatch(ctx context.Context, tx *gorm.DB, signals []*types.ClinicalSignal) ([]*types.ClinicalSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signals...)
	return signals, nil
}

func (f *fakeSignalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ClinicalSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sig := range f.signals {
		if sig.ID == id {
			return sig, nil
		}
	}
	return nil, nil
}

func (f *fakeSignalRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ClinicalSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ClinicalSignal
	for _, sig := range f.signals {
		if sig.SessionID == sessionID {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSignalRepo) GetByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, filter repos.SignalFilter) ([]*types.ClinicalSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ClinicalSignal
	for _, sig := range f.signals {
		if sig.PatientID == patientID {
			out = append(out, sig)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeSignalRepo) UpdateVerification(ctx context.Context, tx *gorm.DB, id uuid.UUID, verified bool, notes string, verifiedBy uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sig := range f.signals {
		if sig.ID == id {
			now := time.Now().UTC()
			sig.Verified = verified
			sig.VerificationNotes = notes
			sig.VerifiedAt = &now
			if verifiedBy != uuid.Nil {
				sig.VerifiedBy = &verifiedBy
			}
			return nil
		}
	}
	return nil
}

type fakeScoreRepo struct {
	mu     sync.Mutex
	scores []*types.AssessmentDomainScore
}

func (f *fakeScoreRepo) CreateBatch(ctx context.Context, tx *gorm.DB, scores []*types.AssessmentDomainScore) ([]*types.AssessmentDomainScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, scores...)
	return scores, nil
}

func (f *fakeScoreRepo) LatestPerDomain(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.AssessmentDomainScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := map[string]*types.AssessmentDomainScore{}
	for _, sc := range f.scores {
		if sc.PatientID != patientID {
			continue
		}
		cur, ok := latest[sc.DomainCode]
		if !ok || sc.AssessedAt.After(cur.AssessedAt) {
			latest[sc.DomainCode] = sc
		}
	}
	var out []*types.AssessmentDomainScore
	for _, sc := range latest {
		out = append(out, sc)
	}
	return out, nil
}

func (f *fakeScoreRepo) SeriesForDomain(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, domainCode string, window int) ([]*types.AssessmentDomainScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var series []*types.AssessmentDomainScore
	for _, sc := range f.scores {
		if sc.PatientID == patientID && sc.DomainCode == domainCode {
			series = append(series, sc)
		}
	}
	// Assumes inserts arrive in chronological order, which the tests do.
	if window > 0 && len(series) > window {
		series = series[len(series)-window:]
	}
	return series, nil
}

func (f *fakeScoreRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.AssessmentDomainScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AssessmentDomainScore
	for _, sc := range f.scores {
		if sc.SessionID == sessionID {
			out = append(out, sc)
		}
	}
	return out, nil
}

type fakeSummaryRepo struct {
	mu        sync.Mutex
	summaries map[uuid.UUID]*types.SessionSummary
}

func newFakeSummaryRepo() *fakeSummaryRepo {
	return &fakeSummaryRepo{summaries: map[uuid.UUID]*types.SessionSummary{}}
}

func (f *fakeSummaryRepo) Upsert(ctx context.Context, tx *gorm.DB, summary *types.SessionSummary) (*types.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.summaries[summary.SessionID]; ok {
		existing.BriefSummary = summary.BriefSummary
		existing.DetailedSummary = summary.DetailedSummary
		existing.KeyTopics = summary.KeyTopics
		existing.EmotionalTone = summary.EmotionalTone
		existing.NotableQuotes = summary.NotableQuotes
		existing.Observations = summary.Observations
		existing.FollowUps = summary.FollowUps
		existing.SignalCount = summary.SignalCount
		return existing, nil
	}
	f.summaries[summary.SessionID] = summary
	return summary, nil
}

func (f *fakeSummaryRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries[sessionID], nil
}

func (f *fakeSummaryRepo) UpdateConcernFields(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.summaries[sessionID]
	if !ok {
		return nil
	}
	if v, ok := updates["safety_assessment"].(string); ok {
		row.SafetyAssessment = v
	}
	if v, ok := updates["concerns"].(datatypes.JSON); ok {
		row.Concerns = v
	}
	return nil
}

func (f *fakeSummaryRepo) RecentByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.SessionSummary
	for _, row := range f.summaries {
		if row.PatientID == patientID {
			out = append(out, row)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*types.AssessmentSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uuid.UUID]*types.AssessmentSession{}}
}

func (f *fakeSessionRepo) put(s *types.AssessmentSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
}

func (f *fakeSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) (*types.AssessmentSession, error) {
	f.put(session)
	return session, nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssessmentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id], nil
}

func (f *fakeSessionRepo) ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AssessmentSession
	for _, s := range f.sessions {
		if s.PatientID == patientID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) RecentCompleted(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AssessmentSession
	for _, s := range f.sessions {
		if s.PatientID == patientID && s.Status == types.SessionStatusCompleted {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	if v, ok := updates["status"].(string); ok {
		s.Status = v
	}
	if v, ok := updates["started_at"].(time.Time); ok {
		s.StartedAt = &v
	}
	if v, ok := updates["ended_at"].(time.Time); ok {
		s.EndedAt = &v
	}
	if v, ok := updates["call_duration_seconds"].(int); ok {
		s.CallDuration = v
	}
	if v, ok := updates["transcript"].(datatypes.JSON); ok {
		s.Transcript = v
	}
	return nil
}

type fakePatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*types.Patient
}

func newFakePatientRepo() *fakePatientRepo {
	return &fakePatientRepo{patients: map[uuid.UUID]*types.Patient{}}
}

func (f *fakePatientRepo) Create(ctx context.Context, tx *gorm.DB, patient *types.Patient) (*types.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patients[patient.ID] = patient
	return patient, nil
}

func (f *fakePatientRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patients[id], nil
}

func (f *fakePatientRepo) List(ctx context.Context, tx *gorm.DB, activeOnly bool) ([]*types.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Patient
	for _, p := range f.patients {
		if !activeOnly || p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePatientRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil
	}
	if v, ok := updates["active"].(bool); ok {
		p.Active = v
	}
	return nil
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*types.ProcessingRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: map[uuid.UUID]*types.ProcessingRun{}}
}

func (f *fakeRunRepo) Enqueue(ctx context.Context, tx *gorm.DB, run *types.ProcessingRun) (*types.ProcessingRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.runs {
		if existing.SessionID == run.SessionID && existing.Status == types.RunStatusQueued {
			return existing, nil
		}
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id], nil
}

func (f *fakeRunRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ProcessingRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.ProcessingRun
	for _, run := range f.runs {
		if run.SessionID == sessionID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.ProcessingRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.Status == types.RunStatusQueued {
			now := time.Now()
			run.Status = types.RunStatusRunning
			run.Attempts++
			run.LockedAt = &now
			run.HeartbeatAt = &now
			return run, nil
		}
	}
	return nil, nil
}

func (f *fakeRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil
	}
	if v, ok := updates["status"].(string); ok {
		run.Status = v
	}
	if v, ok := updates["stage"].(string); ok {
		run.Stage = v
	}
	if v, ok := updates["error"].(string); ok {
		run.Error = v
	}
	if v, ok := updates["result"].(datatypes.JSON); ok {
		run.Result = v
	}
	if v, ok := updates["last_error_at"].(time.Time); ok {
		run.LastErrorAt = &v
	}
	return nil
}

func (f *fakeRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}
