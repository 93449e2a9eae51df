package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type SessionSummaryRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, summary *types.SessionSummary) (*types.SessionSummary, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.SessionSummary, error)
	UpdateConcernFields(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, updates map[string]interface{}) error
	RecentByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.SessionSummary, error)
}

type sessionSummaryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionSummaryRepo(db *gorm.DB, baseLog *logger.Logger) SessionSummaryRepo {
	return &sessionSummaryRepo{
		db:  db,
		log: baseLog.With("repo", "SessionSummaryRepo"),
	}
}

// Upsert keeps one summary row per session: a re-run replaces the narrative
// content instead of appending a sibling.
func (r *sessionSummaryRepo) Upsert(ctx context.Context, tx *gorm.DB, summary *types.SessionSummary) (*types.SessionSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"brief_summary",
				"detailed_summary",
				"key_topics",
				"emotional_tone",
				"notable_quotes",
				"clinical_observations",
				"follow_ups",
				"signal_count",
				"updated_at",
			}),
		}).
		Create(summary).Error
	if err != nil {
		return nil, err
	}
	return r.GetBySession(ctx, transaction, summary.SessionID)
}

func (r *sessionSummaryRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.SessionSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return nil, nil
	}
	var row types.SessionSummary
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
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

// UpdateConcernFields patches concern output onto an existing summary row.
// It intentionally does not create the row: the merge phase treats a missing
// summary as a recorded error, not an excuse to invent one.
func (r *sessionSummaryRepo) UpdateConcernFields(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.SessionSummary{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

func (r *sessionSummaryRepo) RecentByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.SessionSummary, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return []*types.SessionSummary{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	var rows []*types.SessionSummary
	err := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
