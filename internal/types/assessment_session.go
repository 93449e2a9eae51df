package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SessionStatusScheduled  = "scheduled"
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
	SessionStatusCancelled  = "cancelled"
)

const (
	SessionTypeInitialAssessment = "initial_assessment"
	SessionTypeFollowUp          = "follow_up"
	SessionTypeCheckIn           = "check_in"
)

// TranscriptTurn is one utterance of the stored call transcript. Role is
// "assistant" or "user".
type TranscriptTurn struct {
	Role string     `json:"role"`
	Text string     `json:"text"`
	At   *time.Time `json:"at,omitempty"`
}

type AssessmentSession struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PatientID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"patient_id"`
	SessionType  string         `gorm:"column:session_type;not null;default:'check_in'" json:"session_type"`
	Status       string         `gorm:"column:status;not null;index;default:'scheduled'" json:"status"`
	Transcript   datatypes.JSON `gorm:"column:transcript;type:jsonb" json:"transcript,omitempty"`
	CallDuration int            `gorm:"column:call_duration_seconds;not null;default:0" json:"call_duration_seconds"`
	CallRef      string         `gorm:"column:call_ref" json:"call_ref,omitempty"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	EndedAt      *time.Time     `gorm:"column:ended_at" json:"ended_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AssessmentSession) TableName() string { return "assessment_session" }
