package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageLog is the append-only audit row written for every successful completion.
type UsageLog struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	RequestID        string         `gorm:"size:36;index" json:"request_id"`
	OrganizationID   uint           `gorm:"not null;index" json:"organization_id"`
	AccountID        string         `gorm:"size:255;index" json:"account_id"`
	ComponentName    string         `gorm:"size:100;index" json:"component_name"`
	Topic            string         `gorm:"size:1000" json:"topic"`
	Prompt           string         `gorm:"type:text" json:"prompt"`
	RequestParams    datatypes.JSON `json:"request_params"`
	ProviderResponse datatypes.JSON `json:"provider_response"`
	FinalText        string         `gorm:"type:text" json:"final_text"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
