package models

import (
	"time"

	"gorm.io/datatypes"
)

// Organization carries the account-wide generation defaults.
type Organization struct {
	ID                 uint                        `gorm:"primaryKey" json:"id"`
	Name               string                      `gorm:"size:255;not null" json:"name"`
	ProductType        string                      `gorm:"size:255" json:"product_type"`
	BoostedKeywords    datatypes.JSONSlice[string] `json:"boosted_keywords"`
	SuppressedKeywords datatypes.JSONSlice[string] `json:"suppressed_keywords"`
	DefaultEngine      string                      `gorm:"size:100" json:"default_engine"`
	DefaultTemperature *float64                    `json:"default_temperature"`
	CreatedAt          time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}
