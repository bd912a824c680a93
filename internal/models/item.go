package models

import (
	"time"

	"gorm.io/datatypes"
)

// WorkflowItem records one candidate's outcome inside a workflow. A nil
// DateCompleted means the item is pending and the candidate is still queued.
type WorkflowItem struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	WorkflowID     uint           `gorm:"not null;index;uniqueIndex:idx_workflow_items_completed,priority:1,where:date_completed IS NOT NULL" json:"workflow_id"`
	OrganizationID uint           `gorm:"not null;index" json:"organization_id"`
	ItemType       WorkflowType   `gorm:"size:20;not null;uniqueIndex:idx_workflow_items_completed,priority:2" json:"item_type"`
	ItemRef        string         `gorm:"size:255;not null;index;uniqueIndex:idx_workflow_items_completed,priority:3" json:"item_ref"`
	InputContent   datatypes.JSON `json:"input_content"`
	OutputContent  datatypes.JSON `json:"output_content"`
	WorkflowAction string         `gorm:"size:50" json:"workflow_action"`
	CompletedBy    string         `gorm:"size:255" json:"completed_by"`
	DateCompleted  *time.Time     `gorm:"index" json:"date_completed"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *WorkflowItem) IsCompleted() bool {
	return i.DateCompleted != nil
}
