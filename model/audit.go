package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records mutating requests against the character store and ledger.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_audit_trace;size:64;not null" json:"trace_id"`
	Action     string         `gorm:"size:64;not null;index:idx_audit_action" json:"action"`
	Subject    string         `gorm:"size:160" json:"subject"`
	Request    datatypes.JSON `json:"request"`
	Outcome    string         `gorm:"size:32" json:"outcome"`
	Error      string         `gorm:"type:text" json:"error"`
	IP         string         `gorm:"size:45" json:"ip"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
