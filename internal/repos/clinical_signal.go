package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

// SignalFilter narrows patient-level signal reads. Zero values mean "no
// filter" for that field.
type SignalFilter struct {
	SignalType      string
	DomainCode      string
	DSM5Criterion   string
	MinSignificance string
	Verified        *bool
	Limit           int
}

type ClinicalSignalRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, signals []*types.ClinicalSignal) ([]*types.ClinicalSignal, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ClinicalSignal, error)
	GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ClinicalSignal, error)
	GetByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, filter SignalFilter) ([]*types.ClinicalSignal, error)
	UpdateVerification(ctx context.Context, tx *gorm.DB, id uuid.UUID, verified bool, notes string, verifiedBy uuid.UUID) error
}

type clinicalSignalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClinicalSignalRepo(db *gorm.DB, baseLog *logger.Logger) ClinicalSignalRepo {
	return &clinicalSignalRepo{
		db:  db,
		log: baseLog.With("repo", "ClinicalSignalRepo"),
	}
}

func (r *clinicalSignalRepo) CreateBatch(ctx context.Context, tx *gorm.DB, signals []*types.ClinicalSignal) ([]*types.ClinicalSignal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(signals) == 0 {
		return []*types.ClinicalSignal{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&signals).Error; err != nil {
		return nil, err
	}
	return signals, nil
}

func (r *clinicalSignalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ClinicalSignal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.ClinicalSignal
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

func (r *clinicalSignalRepo) GetBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ClinicalSignal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return []*types.ClinicalSignal{}, nil
	}
	var rows []*types.ClinicalSignal
	err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *clinicalSignalRepo) GetByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, filter SignalFilter) ([]*types.ClinicalSignal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return []*types.ClinicalSignal{}, nil
	}
	q := transaction.WithContext(ctx).Where("patient_id = ?", patientID)
	if filter.SignalType != "" {
		q = q.Where("signal_type = ?", filter.SignalType)
	}
	if filter.DomainCode != "" {
		q = q.Where("domain_code = ?", filter.DomainCode)
	}
	if filter.DSM5Criterion != "" {
		q = q.Where("dsm5_criterion = ?", filter.DSM5Criterion)
	}
	if filter.MinSignificance != "" {
		switch filter.MinSignificance {
		case types.SignificanceHigh:
			q = q.Where("clinical_significance = ?", types.SignificanceHigh)
		case types.SignificanceModerate:
			q = q.Where("clinical_significance IN ?", []string{types.SignificanceModerate, types.SignificanceHigh})
		}
	}
	if filter.Verified != nil {
		q = q.Where("verified = ?", *filter.Verified)
	}
	q = q.Order("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []*types.ClinicalSignal
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateVerification touches only the clinician-owned verification fields.
// Extracted content is append-only and never rewritten here.
func (r *clinicalSignalRepo) UpdateVerification(ctx context.Context, tx *gorm.DB, id uuid.UUID, verified bool, notes string, verifiedBy uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"verified":           verified,
		"verification_notes": notes,
		"verified_at":        now,
	}
	if verifiedBy != uuid.Nil {
		updates["verified_by"] = verifiedBy
	}
	return transaction.WithContext(ctx).
		Model(&types.ClinicalSignal{}).
		Where("id = ?", id).
		Updates(updates).Error
}
