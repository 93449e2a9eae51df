package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AICallLog records one LLM call made by the pipeline, truncated prompt and
// response included. Append-only.
type AICallLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID *uuid.UUID     `gorm:"type:uuid;index" json:"session_id,omitempty"`
	PatientID *uuid.UUID     `gorm:"type:uuid;index" json:"patient_id,omitempty"`
	CallType  string         `gorm:"column:call_type;not null;index" json:"call_type"`
	Model     string         `gorm:"column:model;not null" json:"model"`
	Prompt    string         `gorm:"column:prompt;type:text" json:"prompt"`
	Response  string         `gorm:"column:response;type:text" json:"response"`
	Success   bool           `gorm:"column:success;not null" json:"success"`
	Error     string         `gorm:"column:error" json:"error,omitempty"`
	LatencyMS int64          `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	Usage     datatypes.JSON `gorm:"type:jsonb;column:usage" json:"usage,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
