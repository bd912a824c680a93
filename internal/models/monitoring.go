package models

import (
	"time"

	"gorm.io/datatypes"
)

// ErrorLog keeps per-item failures of automation runs for later diagnosis.
type ErrorLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Level        string         `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN
	Source       string         `gorm:"size:100;not null;index" json:"source"` // automation, completion, usage
	WorkflowID   *uint          `gorm:"index" json:"workflow_id"`
	CandidateRef string         `gorm:"size:255;index" json:"candidate_ref"`
	Title        string         `gorm:"size:500;not null" json:"title"`
	Message      string         `gorm:"type:text;not null" json:"message"`
	Context      datatypes.JSON `json:"context"`
	Resolved     bool           `gorm:"default:false;index" json:"resolved"`
	ResolvedAt   *time.Time     `json:"resolved_at"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// All lists every model owned by the service, in migration order.
func All() []any {
	return []any{
		&Organization{},
		&Workflow{},
		&WorkflowItem{},
		&Product{},
		&Keyword{},
		&Page{},
		&CandidateLabel{},
		&CandidateAttribute{},
		&CandidateContent{},
		&PromptTemplate{},
		&UsageLog{},
		&ErrorLog{},
	}
}
