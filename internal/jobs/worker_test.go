package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/services"
	"github.com/attunehealth/attune-backend/internal/types"
)

type fakeRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*types.ProcessingRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: map[uuid.UUID]*types.ProcessingRun{}}
}

func (f *fakeRunStore) put(run *types.ProcessingRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
}

func (f *fakeRunStore) get(id uuid.UUID) *types.ProcessingRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

func (f *fakeRunStore) statusOf(id uuid.UUID) (string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return "", 0
	}
	return run.Status, run.Attempts
}

func (f *fakeRunStore) Enqueue(ctx context.Context, tx *gorm.DB, run *types.ProcessingRun) (*types.ProcessingRun, error) {
	f.put(run)
	return run, nil
}

func (f *fakeRunStore) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingRun, error) {
	return f.get(id), nil
}

func (f *fakeRunStore) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ProcessingRun, error) {
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

func (f *fakeRunStore) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.ProcessingRun, error) {
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

func (f *fakeRunStore) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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

func (f *fakeRunStore) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok {
		now := time.Now()
		run.HeartbeatAt = &now
	}
	return nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	calls     int
	lastFlags services.StepFlags
	result    *services.ProcessingResult
	err       error
	panics    bool
}

func (f *fakeProcessor) ProcessSession(ctx context.Context, sessionID uuid.UUID, flags services.StepFlags) (*services.ProcessingResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastFlags = flags
	f.mu.Unlock()
	if f.panics {
		panic("pipeline exploded")
	}
	return f.result, f.err
}

func (f *fakeProcessor) EnqueueRun(ctx context.Context, sessionID uuid.UUID, flags services.StepFlags) (*types.ProcessingRun, error) {
	return nil, nil
}

func (f *fakeProcessor) GetRun(ctx context.Context, runID uuid.UUID) (*types.ProcessingRun, error) {
	return nil, nil
}

func (f *fakeProcessor) ListRunsBySession(ctx context.Context, sessionID uuid.UUID) ([]*types.ProcessingRun, error) {
	return nil, nil
}

func testWorker(t *testing.T, store *fakeRunStore, processor *fakeProcessor) *Worker {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("new test logger: %v", err)
	}
	return NewWorker(nil, log, store, processor)
}

func queuedRun(store *fakeRunStore) *types.ProcessingRun {
	run := &types.ProcessingRun{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		PatientID: uuid.New(),
		Status:    types.RunStatusQueued,
		Stage:     "pending",
	}
	store.put(run)
	return run
}

func TestHandleMarksSucceeded(t *testing.T) {
	store := newFakeRunStore()
	run := queuedRun(store)
	processor := &fakeProcessor{
		result: &services.ProcessingResult{
			SessionID:        run.SessionID,
			Status:           services.ProcessingStatusCompleted,
			SignalsExtracted: 3,
		},
	}
	w := testWorker(t, store, processor)

	w.handle(context.Background(), run)

	got := store.get(run.ID)
	if got.Status != types.RunStatusSucceeded {
		t.Fatalf("status: want=succeeded got=%s", got.Status)
	}
	if got.Stage != services.ProcessingStatusCompleted {
		t.Fatalf("stage: want=completed got=%s", got.Stage)
	}
	var decoded services.ProcessingResult
	if err := json.Unmarshal(got.Result, &decoded); err != nil || decoded.SignalsExtracted != 3 {
		t.Fatalf("result payload: %s err=%v", got.Result, err)
	}
}

func TestHandlePartialRunStillSucceeds(t *testing.T) {
	store := newFakeRunStore()
	run := queuedRun(store)
	processor := &fakeProcessor{
		result: &services.ProcessingResult{
			Status: services.ProcessingStatusPartial,
			StepErrors: []services.StepError{
				{Step: "domain_scoring", Message: "model unavailable"},
			},
		},
	}
	w := testWorker(t, store, processor)

	w.handle(context.Background(), run)

	got := store.get(run.ID)
	if got.Status != types.RunStatusSucceeded {
		t.Fatalf("partial pipeline still succeeds the run: got=%s", got.Status)
	}
	if got.Stage != services.ProcessingStatusPartial {
		t.Fatalf("stage: want=partial got=%s", got.Stage)
	}
}

func TestHandleFailedPipelineFailsRun(t *testing.T) {
	store := newFakeRunStore()
	run := queuedRun(store)
	processor := &fakeProcessor{
		result: &services.ProcessingResult{
			Status: services.ProcessingStatusFailed,
			StepErrors: []services.StepError{
				{Step: "signal_extraction", Message: "model unavailable"},
				{Step: "concern_detection", Message: "timeout"},
			},
		},
	}
	w := testWorker(t, store, processor)

	w.handle(context.Background(), run)

	got := store.get(run.ID)
	if got.Status != types.RunStatusFailed {
		t.Fatalf("status: want=failed got=%s", got.Status)
	}
	if !strings.Contains(got.Error, "signal_extraction: model unavailable") {
		t.Fatalf("error summary: got=%q", got.Error)
	}
	if got.LastErrorAt == nil {
		t.Fatalf("last_error_at not stamped")
	}
}

func TestHandleGuardErrorFailsRun(t *testing.T) {
	store := newFakeRunStore()
	run := queuedRun(store)
	processor := &fakeProcessor{err: services.ErrSessionNotReady}
	w := testWorker(t, store, processor)

	w.handle(context.Background(), run)

	got := store.get(run.ID)
	if got.Status != types.RunStatusFailed {
		t.Fatalf("status: want=failed got=%s", got.Status)
	}
	if !strings.Contains(got.Error, "not ready") {
		t.Fatalf("error: got=%q", got.Error)
	}
}

func TestHandlePanicFailsRun(t *testing.T) {
	store := newFakeRunStore()
	run := queuedRun(store)
	processor := &fakeProcessor{panics: true}
	w := testWorker(t, store, processor)

	w.handle(context.Background(), run)

	got := store.get(run.ID)
	if got.Status != types.RunStatusFailed {
		t.Fatalf("status: want=failed got=%s", got.Status)
	}
	if !strings.Contains(got.Error, "panic") {
		t.Fatalf("error: got=%q", got.Error)
	}
}

func TestParseFlagsFallsBackToFullRun(t *testing.T) {
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("new test logger: %v", err)
	}

	run := &types.ProcessingRun{ID: uuid.New()}
	if got := parseFlags(log, run); got != services.DefaultStepFlags() {
		t.Fatalf("empty payload: want full run got %+v", got)
	}

	run.Payload = datatypes.JSON(`{"extract_signals": "maybe"}`)
	if got := parseFlags(log, run); got != services.DefaultStepFlags() {
		t.Fatalf("unreadable payload: want full run got %+v", got)
	}

	run.Payload = datatypes.JSON(`{"extract_signals":true,"generate_summary":true}`)
	got := parseFlags(log, run)
	if !got.ExtractSignals || !got.GenerateSummary || got.ScoreDomains {
		t.Fatalf("explicit payload not honored: %+v", got)
	}
}

func TestStartDrainsQueue(t *testing.T) {
	store := newFakeRunStore()
	run := queuedRun(store)
	processor := &fakeProcessor{
		result: &services.ProcessingResult{Status: services.ProcessingStatusCompleted},
	}
	w := testWorker(t, store, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	deadline := time.After(5 * time.Second)
	for {
		if status, attempts := store.statusOf(run.ID); status == types.RunStatusSucceeded {
			if attempts != 1 {
				t.Fatalf("attempts: want=1 got=%d", attempts)
			}
			return
		}
		select {
		case <-deadline:
			status, _ := store.statusOf(run.ID)
			t.Fatalf("run not processed before deadline: status=%s", status)
		case <-time.After(50 * time.Millisecond):
		}
	}
}
