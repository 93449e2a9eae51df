package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/types"
)

type HypothesisRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, hypothesis *types.DiagnosticHypothesis) (*types.DiagnosticHypothesis, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DiagnosticHypothesis, error)
	GetByPatientAndCondition(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, conditionCode string) (*types.DiagnosticHypothesis, error)
	ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.DiagnosticHypothesis, error)
	GetPrimary(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) (*types.DiagnosticHypothesis, error)
}

type hypothesisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHypothesisRepo(db *gorm.DB, baseLog *logger.Logger) HypothesisRepo {
	return &hypothesisRepo{
		db:  db,
		log: baseLog.With("repo", "HypothesisRepo"),
	}
}

// Upsert writes the current-state row keyed by (patient_id, condition_code).
// History rows are appended separately; this row always reflects the latest
// assessment.
func (r *hypothesisRepo) Upsert(ctx context.Context, tx *gorm.DB, hypothesis *types.DiagnosticHypothesis) (*types.DiagnosticHypothesis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "patient_id"}, {Name: "condition_code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"condition_name",
				"evidence_strength",
				"uncertainty",
				"ci_lower",
				"ci_upper",
				"trend",
				"last_session_delta",
				"sessions_since_stable",
				"supporting_count",
				"contradicting_count",
				"supporting_points",
				"contradicting_points",
				"reasoning_chain",
				"criterion_status",
				"differentials",
				"criterion_a_met",
				"criterion_b_met",
				"criterion_a_count",
				"criterion_b_count",
				"functional_impact_documented",
				"developmental_period_documented",
				"explanation",
				"limitations",
				"model_version",
				"last_session_id",
				"last_updated_at",
				"updated_at",
			}),
		}).
		Create(hypothesis).Error
	if err != nil {
		return nil, err
	}
	// Re-read so callers see the surviving row's ID on conflict updates.
	return r.GetByPatientAndCondition(ctx, transaction, hypothesis.PatientID, hypothesis.ConditionCode)
}

func (r *hypothesisRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.DiagnosticHypothesis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.DiagnosticHypothesis
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

func (r *hypothesisRepo) GetByPatientAndCondition(ctx context.Context, tx *gorm.DB, patientID uuid.UUID, conditionCode string) (*types.DiagnosticHypothesis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil || conditionCode == "" {
		return nil, nil
	}
	var row types.DiagnosticHypothesis
	err := transaction.WithContext(ctx).
		Where("patient_id = ? AND condition_code = ?", patientID, conditionCode).
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

// ListByPatient ranks hypotheses strongest first.
func (r *hypothesisRepo) ListByPatient(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) ([]*types.DiagnosticHypothesis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return []*types.DiagnosticHypothesis{}, nil
	}
	var rows []*types.DiagnosticHypothesis
	err := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("evidence_strength DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *hypothesisRepo) GetPrimary(ctx context.Context, tx *gorm.DB, patientID uuid.UUID) (*types.DiagnosticHypothesis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if patientID == uuid.Nil {
		return nil, nil
	}
	var row types.DiagnosticHypothesis
	err := transaction.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("evidence_strength DESC").
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
