package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/ifuryst/quill/pkg/util"
)

// Product is a catalog row processed by Product workflows.
type Product struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"not null;uniqueIndex:idx_products_org_ref" json:"organization_id"`
	Ref            string         `gorm:"not null;size:255;uniqueIndex:idx_products_org_ref" json:"ref"` // SKU
	Name           string         `gorm:"size:500" json:"name"`
	Brand          string         `gorm:"size:255" json:"brand"`
	Category       string         `gorm:"size:255;index" json:"category"`
	Description    string         `gorm:"type:text" json:"description"`
	Features       string         `gorm:"type:text" json:"features"`
	Pros           string         `gorm:"type:text" json:"pros"`
	UsedFor        string         `gorm:"type:text" json:"used_for"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (p *Product) ToCandidate() Candidate {
	return Candidate{
		Type:           WorkflowTypeProduct,
		OrganizationID: p.OrganizationID,
		Ref:            p.Ref,
		Name:           p.Name,
		Category:       p.Category,
		Description:    p.Description,
		Features:       p.Features,
		Pros:           p.Pros,
		UsedFor:        p.UsedFor,
		Brand:          p.Brand,
	}
}

// Keyword is a topic idea processed by Idea workflows.
type Keyword struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"not null;uniqueIndex:idx_keywords_org_ref" json:"organization_id"`
	Ref            string         `gorm:"not null;size:255;uniqueIndex:idx_keywords_org_ref" json:"ref"`
	Name           string         `gorm:"size:500" json:"name"`
	Category       string         `gorm:"size:255;index" json:"category"`
	Description    string         `gorm:"type:text" json:"description"`
	SearchVolume   int            `gorm:"default:0" json:"search_volume"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

// BeforeSave derives the ref from the keyword text when none is given.
func (k *Keyword) BeforeSave(*gorm.DB) error {
	if k.Ref == "" {
		k.Ref = util.GenerateSlug(k.Name)
	}
	return nil
}

func (k *Keyword) ToCandidate() Candidate {
	return Candidate{
		Type:           WorkflowTypeIdea,
		OrganizationID: k.OrganizationID,
		Ref:            k.Ref,
		Name:           k.Name,
		Category:       k.Category,
		Description:    k.Description,
	}
}

// Page is a site page processed by Page workflows.
type Page struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"not null;uniqueIndex:idx_pages_org_ref" json:"organization_id"`
	Ref            string         `gorm:"not null;size:255;uniqueIndex:idx_pages_org_ref" json:"ref"`
	Name           string         `gorm:"size:500" json:"name"`
	Category       string         `gorm:"size:255;index" json:"category"`
	Description    string         `gorm:"type:text" json:"description"`
	URL            string         `gorm:"size:1000" json:"url"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at"`
}

func (p *Page) ToCandidate() Candidate {
	return Candidate{
		Type:           WorkflowTypePage,
		OrganizationID: p.OrganizationID,
		Ref:            p.Ref,
		Name:           p.Name,
		Category:       p.Category,
		Description:    p.Description,
	}
}

// CandidateLabel, CandidateAttribute and CandidateContent are shared side
// tables keyed by (organization, candidate type, candidate ref).
type CandidateLabel struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	OrganizationID uint         `gorm:"not null;index:idx_candidate_labels_lookup" json:"organization_id"`
	CandidateType  WorkflowType `gorm:"size:20;not null;index:idx_candidate_labels_lookup" json:"candidate_type"`
	CandidateRef   string       `gorm:"size:255;not null;index:idx_candidate_labels_lookup" json:"candidate_ref"`
	Label          string       `gorm:"size:255;not null;index" json:"label"`
}

type CandidateAttribute struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	OrganizationID uint         `gorm:"not null;index:idx_candidate_attributes_lookup" json:"organization_id"`
	CandidateType  WorkflowType `gorm:"size:20;not null;index:idx_candidate_attributes_lookup" json:"candidate_type"`
	CandidateRef   string       `gorm:"size:255;not null;index:idx_candidate_attributes_lookup" json:"candidate_ref"`
	Name           string       `gorm:"size:255;not null" json:"name"`
	Value          string       `gorm:"size:1000" json:"value"`
}

// CandidateContent marks that content of a given type already exists for a
// candidate; the "missing content" filter looks for its absence.
type CandidateContent struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	OrganizationID uint         `gorm:"not null;index:idx_candidate_contents_lookup" json:"organization_id"`
	CandidateType  WorkflowType `gorm:"size:20;not null;index:idx_candidate_contents_lookup" json:"candidate_type"`
	CandidateRef   string       `gorm:"size:255;not null;index:idx_candidate_contents_lookup" json:"candidate_ref"`
	ContentType    string       `gorm:"size:100;not null" json:"content_type"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// Candidate is the inventory-independent view the queue hands out.
type Candidate struct {
	Type           WorkflowType `json:"type"`
	OrganizationID uint         `json:"organization_id"`
	Ref            string       `json:"ref"`
	Name           string       `json:"name"`
	Category       string       `json:"category,omitempty"`
	Description    string       `json:"description,omitempty"`
	Features       string       `json:"features,omitempty"`
	Pros           string       `json:"pros,omitempty"`
	UsedFor        string       `json:"used_for,omitempty"`
	Brand          string       `json:"brand,omitempty"`
}
