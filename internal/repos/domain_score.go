package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type DomainScoreRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, scores []*types.AssessmentDomainScore) ([]*types.AssessmentDomainScore, error)
	LatestPerDomain(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.AssessmentDomainScore, error)
	SeriesForDomain(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, domainCode string, window int) ([]*types.AssessmentDomainScore, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.AssessmentDomainScore, error)
}

type domainScoreRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDomainScoreRepo(db *gorm.DB, baseLog *logger.Logger) DomainScoreRepo {
	return &domainScoreRepo{
		db:  db,
		log: baseLog.With("repo", "DomainScoreRepo"),
	}
}

func (r *domainScoreRepo) CreateBatch(ctx context.Context, tx *gorm.DB, scores []*types.AssessmentDomainScore) ([]*types.AssessmentDomainScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(scores) == 0 {
		return []*types.AssessmentDomainScore{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}

// LatestPerDomain returns the newest score row per domain code for the
// patient. Scores are append-only; the latest assessed_at row is canonical.
func (r *domainScoreRepo) LatestPerDomain(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.AssessmentDomainScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return []*types.AssessmentDomainScore{}, nil
	}
	var rows []*types.AssessmentDomainScore
	err := transaction.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (domain_code) *
		     FROM assessment_domain_score
		     WHERE patient_id = ?
		     ORDER BY domain_code, assessed_at DESC`, patientID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SeriesForDomain returns the patient's score history for one domain in
// chronological order, truncated to the last `window` rows when window > 0.
func (r *domainScoreRepo) SeriesForDomain(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, domainCode string, window int) ([]*types.AssessmentDomainScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil || domainCode == "" {
		return []*types.AssessmentDomainScore{}, nil
	}
	q := transaction.WithContext(ctx).
		Where("patient_id = ? AND domain_code = ?", patientID, domainCode).
		Order("assessed_at DESC")
	if window > 0 {
		q = q.Limit(window)
	}
	var rows []*types.AssessmentDomainScore
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *domainScoreRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.AssessmentDomainScore, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return []*types.AssessmentDomainScore{}, nil
	}
	var rows []*types.AssessmentDomainScore
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("domain_code ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
