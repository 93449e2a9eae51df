package types

import (
	"time"

	"github.com/google/uuid"
)

// HypothesisHistory is the append-only ledger paired with
// DiagnosticHypothesis: one row per upsert, never mutated. Delta is nil on
// the row recording the hypothesis creation.
type HypothesisHistory struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	HypothesisID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"hypothesis_id"`
	PatientID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"patient_id"`
	SessionID        *uuid.UUID `gorm:"type:uuid;column:session_id;index" json:"session_id,omitempty"`
	EvidenceStrength float64    `gorm:"column:evidence_strength;not null" json:"evidence_strength"`
	Uncertainty      float64    `gorm:"column:uncertainty;not null" json:"uncertainty"`
	CILower          float64    `gorm:"column:ci_lower;not null" json:"ci_lower"`
	CIUpper          float64    `gorm:"column:ci_upper;not null" json:"ci_upper"`
	Trend            string     `gorm:"column:trend;not null" json:"trend"`
	Delta            *float64   `gorm:"column:delta" json:"delta,omitempty"`
	ModelVersion     string     `gorm:"column:model_version" json:"model_version,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (HypothesisHistory) TableName() string { return "hypothesis_history" }
