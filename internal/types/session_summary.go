package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SafetySafe    = "safe"
	SafetyMonitor = "monitor"
	SafetyReview  = "review"
	SafetyUrgent  = "urgent"
)

// SessionSummary is the single narrative row per session. The summarizer
// creates or replaces it; the concern-merge phase later patches concerns and
// safety_assessment onto the same row.
type SessionSummary struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	PatientID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"patient_id"`
	BriefSummary     string         `gorm:"column:brief_summary;type:text" json:"brief_summary"`
	DetailedSummary  string         `gorm:"column:detailed_summary;type:text" json:"detailed_summary,omitempty"`
	KeyTopics        datatypes.JSON `gorm:"column:key_topics;type:jsonb" json:"key_topics,omitempty"`
	EmotionalTone    string         `gorm:"column:emotional_tone" json:"emotional_tone,omitempty"`
	NotableQuotes    datatypes.JSON `gorm:"column:notable_quotes;type:jsonb" json:"notable_quotes,omitempty"`
	Observations     datatypes.JSON `gorm:"column:clinical_observations;type:jsonb" json:"clinical_observations,omitempty"`
	FollowUps        datatypes.JSON `gorm:"column:follow_ups;type:jsonb" json:"follow_ups,omitempty"`
	Concerns         datatypes.JSON `gorm:"column:concerns;type:jsonb" json:"concerns,omitempty"`
	SafetyAssessment string         `gorm:"column:safety_assessment" json:"safety_assessment,omitempty"`
	SignalCount      int            `gorm:"column:signal_count;not null;default:0" json:"signal_count"`
	CreatedAt        time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (SessionSummary) TableName() string { return "session_summary" }
