package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TrendIncreasing = "increasing"
	TrendStable     = "stable"
	TrendDecreasing = "decreasing"
)

const (
	StabilityVolatile    = "volatile"
	StabilityStabilizing = "stabilizing"
	StabilityStable      = "stable"
)

// DiagnosticHypothesis is the running belief for one (patient, condition).
// It is the only entity mutated in place; every update appends a paired
// HypothesisHistory row. A hypothesis is never a diagnosis: strength always
// travels with uncertainty.
type DiagnosticHypothesis struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_hypothesis_patient_condition,unique" json:"patient_id"`
	ConditionCode    string         `gorm:"column:condition_code;not null;index:idx_hypothesis_patient_condition,unique" json:"condition_code"`
	ConditionName    string         `gorm:"column:condition_name;not null" json:"condition_name"`
	EvidenceStrength float64        `gorm:"column:evidence_strength;not null;default:0" json:"evidence_strength"`
	Uncertainty      float64        `gorm:"column:uncertainty;not null;default:1" json:"uncertainty"`
	CILower          float64        `gorm:"column:ci_lower;not null;default:0" json:"ci_lower"`
	CIUpper          float64        `gorm:"column:ci_upper;not null;default:1" json:"ci_upper"`
	Trend            string         `gorm:"column:trend;not null;default:'stable'" json:"trend"`
	LastSessionDelta *float64       `gorm:"column:last_session_delta" json:"last_session_delta,omitempty"`
	SessionsStable   int            `gorm:"column:sessions_since_stable;not null;default:0" json:"sessions_since_stable"`
	SupportingCount  int            `gorm:"column:supporting_count;not null;default:0" json:"supporting_count"`
	ContradictCount  int            `gorm:"column:contradicting_count;not null;default:0" json:"contradicting_count"`
	SupportingPoints datatypes.JSON `gorm:"column:supporting_points;type:jsonb" json:"supporting_points,omitempty"`
	ContradictPoints datatypes.JSON `gorm:"column:contradicting_points;type:jsonb" json:"contradicting_points,omitempty"`
	ReasoningChain   datatypes.JSON `gorm:"column:reasoning_chain;type:jsonb" json:"reasoning_chain,omitempty"`
	CriterionAMet    bool           `gorm:"column:criterion_a_met;not null;default:false" json:"criterion_a_met"`
	CriterionBMet    bool           `gorm:"column:criterion_b_met;not null;default:false" json:"criterion_b_met"`
	CriterionACount  int            `gorm:"column:criterion_a_count;not null;default:0" json:"criterion_a_count"`
	CriterionBCount  int            `gorm:"column:criterion_b_count;not null;default:0" json:"criterion_b_count"`
	CriterionStatus  datatypes.JSON `gorm:"column:criterion_status;type:jsonb" json:"criterion_status,omitempty"`
	FunctionalImpact bool           `gorm:"column:functional_impact_documented;not null;default:false" json:"functional_impact_documented"`
	DevPeriodOnset   bool           `gorm:"column:developmental_period_documented;not null;default:false" json:"developmental_period_documented"`
	Differentials    datatypes.JSON `gorm:"column:differentials;type:jsonb" json:"differentials,omitempty"`
	Explanation      string         `gorm:"column:explanation;type:text" json:"explanation,omitempty"`
	Limitations      string         `gorm:"column:limitations;type:text" json:"limitations,omitempty"`
	ModelVersion     string         `gorm:"column:model_version" json:"model_version,omitempty"`
	LastSessionID    *uuid.UUID     `gorm:"type:uuid;column:last_session_id" json:"last_session_id,omitempty"`
	FirstIndicatedAt time.Time      `gorm:"column:first_indicated_at;not null;default:now()" json:"first_indicated_at"`
	LastUpdatedAt    time.Time      `gorm:"column:last_updated_at;not null;default:now()" json:"last_updated_at"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (DiagnosticHypothesis) TableName() string { return "diagnostic_hypothesis" }
