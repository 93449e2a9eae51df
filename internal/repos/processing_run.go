package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type ProcessingRunRepo interface {
	Enqueue(ctx context.Context, tx *gorm.DB, run *types.ProcessingRun) (*types.ProcessingRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingRun, error)
	ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ProcessingRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.ProcessingRun, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type processingRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingRunRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingRunRepo {
	return &processingRunRepo{
		db:  db,
		log: baseLog.With("repo", "ProcessingRunRepo"),
	}
}

// Enqueue inserts a queued run for the session unless one is already waiting.
// Re-processing a session is allowed, so only the queued state is deduped.
func (r *processingRunRepo) Enqueue(ctx context.Context, tx *gorm.DB, run *types.ProcessingRun) (*types.ProcessingRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out *types.ProcessingRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var existing types.ProcessingRun
		qErr := txx.
			Where("session_id = ? AND status = ?", run.SessionID, types.RunStatusQueued).
			Limit(1).
			Find(&existing).Error
		if qErr != nil {
			return qErr
		}
		if existing.ID != uuid.Nil {
			out = &existing
			return nil
		}
		if cErr := txx.Create(run).Error; cErr != nil {
			return cErr
		}
		out = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *processingRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.ProcessingRun
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *processingRunRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ProcessingRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return []*types.ProcessingRun{}, nil
	}
	var rows []*types.ProcessingRun
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ClaimNextRunnable picks the oldest run that is queued, failed-but-retryable,
// or running with a stale heartbeat, marks it running, and bumps attempts.
// SKIP LOCKED keeps concurrent workers off the same row.
func (r *processingRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.ProcessingRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.ProcessingRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var run types.ProcessingRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.RunStatusQueued, types.RunStatusFailed, maxAttempts, retryCutoff, types.RunStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.ProcessingRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       types.RunStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *processingRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ProcessingRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *processingRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ProcessingRun{}).
		Where("id = ? AND status = ?", id, types.RunStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
