package models

import (
	"time"

	"gorm.io/datatypes"
)

// WorkflowType decides which inventory a workflow iterates.
type WorkflowType string

const (
	WorkflowTypeProduct WorkflowType = "Product"
	WorkflowTypeIdea    WorkflowType = "Idea"
	WorkflowTypePage    WorkflowType = "Page"
	WorkflowTypeFile    WorkflowType = "File"
)

func (t WorkflowType) Valid() bool {
	switch t {
	case WorkflowTypeProduct, WorkflowTypeIdea, WorkflowTypePage, WorkflowTypeFile:
		return true
	}
	return false
}

type WorkflowStatus string

const (
	WorkflowStatusActive  WorkflowStatus = "ACTIVE"
	WorkflowStatusDeleted WorkflowStatus = "DELETED"
)

// MatchType controls how label and attribute constraints combine.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

type AttributeFilter struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// SearchParams is the stored candidate filter of a workflow.
type SearchParams struct {
	Categories     []string          `json:"categories,omitempty"`
	Attributes     []AttributeFilter `json:"attributes,omitempty"`
	Labels         []string          `json:"labels,omitempty"`
	ExcludedLabels []string          `json:"excluded_labels,omitempty"`
	MatchType      MatchType         `json:"match_type,omitempty"`
	MissingContent string            `json:"missing_content,omitempty"`
}

type Workflow struct {
	ID               uint                             `gorm:"primaryKey" json:"id"`
	OrganizationID   uint                             `gorm:"not null;index" json:"organization_id"`
	Name             string                           `gorm:"not null;size:255" json:"name"`
	WorkflowType     WorkflowType                     `gorm:"size:20;not null" json:"workflow_type"`
	SearchParams     datatypes.JSONType[SearchParams] `json:"search_params"`
	ContentTypes     datatypes.JSONSlice[string]      `json:"content_types"`
	AssignedTo       datatypes.JSONSlice[string]      `json:"assigned_to"`
	AutomationStatus AutomationStatus                 `gorm:"size:20;not null;default:'IDLE';index" json:"automation_status"`
	Status           WorkflowStatus                   `gorm:"size:20;not null;default:'ACTIVE';index" json:"status"`
	CreatedAt        time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (w *Workflow) IsDeleted() bool {
	return w.Status == WorkflowStatusDeleted
}
