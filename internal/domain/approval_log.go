package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	LogTypeWorkflow = "WORKFLOW"
	LogTypeAuth     = "AUTH"
	LogTypeCRUD     = "CRUD"
	LogTypeSystem   = "SYSTEM"
)

// ApprovalLog is the append-only audit row. Application code only ever inserts it.
type ApprovalLog struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	EntryID      *int64         `gorm:"column:entry_id;index" json:"entry"`
	FromStatus   string         `gorm:"column:from_status;size:20" json:"from_status"`
	ToStatus     string         `gorm:"column:to_status;size:20" json:"to_status"`
	ActorID      *int64         `gorm:"column:actor_id;index" json:"actor"`
	LogType      string         `gorm:"column:log_type;size:20;not null;default:WORKFLOW;index" json:"log_type"`
	Action       string         `gorm:"column:action;size:50;not null;default:STATUS_CHANGE;index" json:"action"`
	ResourceType string         `gorm:"column:resource_type;size:50;index" json:"resource_type"`
	ResourceID   string         `gorm:"column:resource_id;size:64;index" json:"resource_id"`
	Method       string         `gorm:"column:method;size:10" json:"method"`
	Path         string         `gorm:"column:path;size:255" json:"path"`
	StatusCode   *int           `gorm:"column:status_code;index" json:"status_code"`
	IPAddress    *string        `gorm:"column:ip_address;size:64" json:"ip_address"`
	UserAgent    string         `gorm:"column:user_agent;size:255" json:"user_agent"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	Reason       string         `gorm:"column:reason;type:text" json:"reason"`
	CreatedAt    time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (ApprovalLog) TableName() string {
	return "approval_logs"
}
