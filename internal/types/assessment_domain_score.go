package types

import (
	"time"

	"github.com/google/uuid"
)

// AssessmentDomainScore is one domain's score from one session. Rows are
// append-only; the canonical "current" state of a domain is the row with the
// latest assessed_at per (patient, domain).
type AssessmentDomainScore struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID       uuid.UUID `gorm:"type:uuid;not null;index" json:"patient_id"`
	SessionID       uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	DomainCode      string    `gorm:"column:domain_code;not null;index" json:"domain_code"`
	DomainName      string    `gorm:"column:domain_name;not null" json:"domain_name"`
	Category        string    `gorm:"column:category;not null" json:"category"`
	RawScore        float64   `gorm:"column:raw_score;not null;default:0" json:"raw_score"`
	NormalizedScore float64   `gorm:"column:normalized_score;not null;default:0" json:"normalized_score"`
	Confidence      float64   `gorm:"column:confidence;not null;default:0.5" json:"confidence"`
	EvidenceCount   int       `gorm:"column:evidence_count;not null;default:0" json:"evidence_count"`
	KeyEvidence     string    `gorm:"column:key_evidence;type:text" json:"key_evidence,omitempty"`
	AssessedAt      time.Time `gorm:"column:assessed_at;not null;index" json:"assessed_at"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (AssessmentDomainScore) TableName() string { return "assessment_domain_score" }
