package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) (*types.AssessmentSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssessmentSession, error)
	ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error)
	RecentCompleted(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{
		db:  db,
		log: baseLog.With("repo", "SessionRepo"),
	}
}

func (r *sessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.AssessmentSession) (*types.AssessmentSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AssessmentSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.AssessmentSession
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

func (r *sessionRepo) ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return []*types.AssessmentSession{}, nil
	}
	q := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []*types.AssessmentSession
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// RecentCompleted returns the most recent completed sessions for a patient,
// newest first. Hypothesis evidence packages read narrative context from it.
func (r *sessionRepo) RecentCompleted(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, limit int) ([]*types.AssessmentSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return []*types.AssessmentSession{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	var rows []*types.AssessmentSession
	err := transaction.WithContext(ctx).
		Where("patient_id = ? AND status = ?", patientID, types.SessionStatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *sessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.AssessmentSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}
