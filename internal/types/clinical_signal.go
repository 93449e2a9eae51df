package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SignalTypeCommunication = "communication"
	SignalTypeSocial        = "social"
	SignalTypeSensory       = "sensory"
	SignalTypeBehavioral    = "behavioral"
	SignalTypeEmotional     = "emotional"
)

const (
	EvidenceTypeObserved     = "observed"
	EvidenceTypeSelfReported = "self_reported"
	EvidenceTypeInferred     = "inferred"
)

const (
	SignificanceLow      = "low"
	SignificanceModerate = "moderate"
	SignificanceHigh     = "high"
)

// ClinicalSignal is one discrete observation extracted from a session
// transcript. Rows are append-only; only the verification fields are ever
// mutated, and only by a clinician.
type ClinicalSignal struct {
	ID                   uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID            uuid.UUID  `gorm:"type:uuid;not null;index" json:"patient_id"`
	SessionID            uuid.UUID  `gorm:"type:uuid;not null;index" json:"session_id"`
	SignalType           string     `gorm:"column:signal_type;not null;index" json:"signal_type"`
	SignalName           string     `gorm:"column:signal_name;not null" json:"signal_name"`
	Evidence             string     `gorm:"column:evidence;type:text" json:"evidence"`
	EvidenceType         string     `gorm:"column:evidence_type;not null" json:"evidence_type"`
	Reasoning            string     `gorm:"column:reasoning;type:text" json:"reasoning,omitempty"`
	Quote                string     `gorm:"column:quote;type:text" json:"quote,omitempty"`
	QuoteContext         string     `gorm:"column:quote_context;type:text" json:"quote_context,omitempty"`
	StartChar            *int       `gorm:"column:start_char" json:"start_char,omitempty"`
	EndChar              *int       `gorm:"column:end_char" json:"end_char,omitempty"`
	LineNumber           *int       `gorm:"column:line_number" json:"line_number,omitempty"`
	Intensity            float64    `gorm:"column:intensity;not null;default:0.5" json:"intensity"`
	Confidence           float64    `gorm:"column:confidence;not null;default:0.5" json:"confidence"`
	DomainCode           string     `gorm:"column:domain_code;index" json:"domain_code,omitempty"`
	DSM5Criterion        string     `gorm:"column:dsm5_criterion;index" json:"dsm5_criterion,omitempty"`
	ClinicalSignificance string     `gorm:"column:clinical_significance;not null;default:'low'" json:"clinical_significance"`
	Verified             bool       `gorm:"column:verified;not null;default:false" json:"verified"`
	VerificationNotes    string     `gorm:"column:verification_notes;type:text" json:"verification_notes,omitempty"`
	VerifiedBy           *uuid.UUID `gorm:"type:uuid;column:verified_by" json:"verified_by,omitempty"`
	VerifiedAt           *time.Time `gorm:"column:verified_at" json:"verified_at,omitempty"`
	CreatedAt            time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ClinicalSignal) TableName() string { return "clinical_signal" }
