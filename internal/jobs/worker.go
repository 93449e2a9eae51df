package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/services"
	"github.com/attunehealth/attune-backend/internal/types"
)

const (
	pollInterval      = 1 * time.Second
	heartbeatInterval = 30 * time.Second
	maxAttempts       = 5
	retryDelay        = 30 * time.Second
	staleRunning      = 2 * time.Minute
)

// Worker drains the processing-run queue. One claimed run is processed at a
// time; retries and stale-claim recovery live in the claim query.
type Worker struct {
	db         *gorm.DB
	log        *logger.Logger
	runRepo    repos.ProcessingRunRepo
	processing services.ProcessingService
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, runRepo repos.ProcessingRunRepo, processing services.ProcessingService) *Worker {
	return &Worker{
		db:         db,
		log:        baseLog.With("component", "ProcessingWorker"),
		runRepo:    runRepo,
		processing: processing,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run, err := w.runRepo.ClaimNextRunnable(ctx, w.db, maxAttempts, retryDelay, staleRunning)
				if err != nil {
					w.log.Warn("claim next runnable failed", "error", err)
					continue
				}
				if run == nil {
					continue
				}
				w.handle(ctx, run)
			}
		}
	}()
}

func (w *Worker) handle(ctx context.Context, run *types.ProcessingRun) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("run handler panic", "run_id", run.ID, "panic", r)
			w.fail(ctx, run, fmt.Errorf("panic: %v", r))
		}
	}()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(heartbeatCtx, run)

	flags := parseFlags(w.log, run)
	result, err := w.processing.ProcessSession(ctx, run.SessionID, flags)
	if err != nil {
		w.fail(ctx, run, err)
		return
	}

	updates := map[string]interface{}{
		"stage": result.Status,
	}
	if encoded, mErr := json.Marshal(result); mErr == nil {
		updates["result"] = datatypes.JSON(encoded)
	}
	if result.Status == services.ProcessingStatusFailed {
		updates["status"] = types.RunStatusFailed
		updates["error"] = stepErrorSummary(result)
		updates["last_error_at"] = time.Now().UTC()
	} else {
		updates["status"] = types.RunStatusSucceeded
	}
	if uErr := w.runRepo.UpdateFields(ctx, nil, run.ID, updates); uErr != nil {
		w.log.Error("finalize run failed", "run_id", run.ID, "error", uErr)
		return
	}
	w.log.Info("run finished",
		"run_id", run.ID,
		"session_id", run.SessionID,
		"status", updates["status"],
		"pipeline_status", result.Status,
	)
}

func (w *Worker) heartbeatLoop(ctx context.Context, run *types.ProcessingRun) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runRepo.Heartbeat(ctx, nil, run.ID); err != nil {
				w.log.Warn("heartbeat failed", "run_id", run.ID, "error", err)
			}
		}
	}
}

func (w *Worker) fail(ctx context.Context, run *types.ProcessingRun, cause error) {
	err := w.runRepo.UpdateFields(ctx, nil, run.ID, map[string]interface{}{
		"status":        types.RunStatusFailed,
		"error":         cause.Error(),
		"last_error_at": time.Now().UTC(),
	})
	if err != nil {
		w.log.Error("mark run failed errored", "run_id", run.ID, "error", err)
	}
	w.log.Warn("run failed",
		"run_id", run.ID,
		"session_id", run.SessionID,
		"attempts", run.Attempts,
		"error", cause.Error(),
	)
}

// parseFlags reads step flags from the run payload. A missing or unreadable
// payload falls back to a full run.
func parseFlags(log *logger.Logger, run *types.ProcessingRun) services.StepFlags {
	if len(run.Payload) == 0 {
		return services.DefaultStepFlags()
	}
	var flags services.StepFlags
	if err := json.Unmarshal(run.Payload, &flags); err != nil {
		log.Warn("unreadable run payload, running all steps", "run_id", run.ID, "error", err)
		return services.DefaultStepFlags()
	}
	return flags
}

func stepErrorSummary(result *services.ProcessingResult) string {
	parts := make([]string, 0, len(result.StepErrors))
	for _, se := range result.StepErrors {
		parts = append(parts, fmt.Sprintf("%s: %s", se.Step, se.Message))
	}
	return strings.Join(parts, "; ")
}
