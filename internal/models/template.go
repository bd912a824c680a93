package models

import (
	"time"

	"gorm.io/datatypes"
)

// ContentShape is the structural form a completion is post-processed into.
type ContentShape string

const (
	ShapeParagraph     ContentShape = "paragraph"
	ShapeUnorderedList ContentShape = "unordered_list"
	ShapeOrderedList   ContentShape = "ordered_list"
)

type Replacement struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PromptTemplate is a reusable generation component. Rows with an empty
// OrganizationID are global and act as fallback for every organization.
type PromptTemplate struct {
	ID                  uint                             `gorm:"primaryKey" json:"id"`
	OrganizationID      uint                             `gorm:"index:idx_prompt_templates_name" json:"organization_id"`
	Name                string                           `gorm:"size:100;not null;index:idx_prompt_templates_name" json:"name"`
	Shape               ContentShape                     `gorm:"size:30;not null;default:'paragraph'" json:"shape"`
	Prompt              string                           `gorm:"type:text;not null" json:"prompt"`
	Intros              datatypes.JSONSlice[string]      `json:"intros"`
	Starters            datatypes.JSONSlice[string]      `json:"starters"`
	BoostedKeywords     datatypes.JSONSlice[string]      `json:"boosted_keywords"`
	SuppressedKeywords  datatypes.JSONSlice[string]      `json:"suppressed_keywords"`
	StopSequences       datatypes.JSONSlice[string]      `json:"stop_sequences"`
	Replacements        datatypes.JSONSlice[Replacement] `json:"replacements"`
	Engine              string                           `gorm:"size:100" json:"engine"`
	Temperature         *float64                         `json:"temperature"`
	TopP                *float64                         `json:"top_p"`
	FrequencyPenalty    *float64                         `json:"frequency_penalty"`
	PresencePenalty     *float64                         `json:"presence_penalty"`
	NumUnits            int                              `gorm:"default:0" json:"num_units"`
	MaxFragmentLength   int                              `gorm:"default:0" json:"max_fragment_length"`
	LinkFree            bool                             `gorm:"default:false" json:"link_free"`
	SuppressFirstPerson bool                             `gorm:"default:false" json:"suppress_first_person"`
	RequiresTopic       bool                             `gorm:"default:false" json:"requires_topic"`
	RequiresHeader      bool                             `gorm:"default:false" json:"requires_header"`
	CreatedAt           time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}
