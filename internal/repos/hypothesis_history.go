package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type HypothesisHistoryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.HypothesisHistory) (*types.HypothesisHistory, error)
	ListByHypothesis(ctx context.Context, tx *gorm.DB, hypothesisID uuid.UUID) ([]*types.HypothesisHistory, error)
}

type hypothesisHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHypothesisHistoryRepo(db *gorm.DB, baseLog *logger.Logger) HypothesisHistoryRepo {
	return &hypothesisHistoryRepo{
		db:  db,
		log: baseLog.With("repo", "HypothesisHistoryRepo"),
	}
}

func (r *hypothesisHistoryRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.HypothesisHistory) (*types.HypothesisHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// ListByHypothesis returns trajectory points oldest first, which is the order
// progress views plot them in.
func (r *hypothesisHistoryRepo) ListByHypothesis(ctx context.Context, tx *gorm.DB, hypothesisID uuid.UUID) ([]*types.HypothesisHistory, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if hypothesisID == uuid.Nil {
		return []*types.HypothesisHistory{}, nil
	}
	var rows []*types.HypothesisHistory
	err := transaction.WithContext(ctx).
		Where("hypothesis_id = ?", hypothesisID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
