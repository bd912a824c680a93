// Package template loads prompt templates and organization defaults.
package template

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/models"
)

var (
	ErrTemplateNotFound     = errors.New("prompt template not found")
	ErrOrganizationNotFound = errors.New("organization not found")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Organization(ctx context.Context, id uint) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to load organization %d: %w", id, err)
	}
	return &org, nil
}

// Template returns the organization's template of that name, falling back
// to the global one.
func (s *Store) Template(ctx context.Context, orgID uint, name string) (*models.PromptTemplate, error) {
	var templates []models.PromptTemplate
	err := s.db.WithContext(ctx).
		Where("name = ? AND organization_id IN ?", name, []uint{orgID, 0}).
		Order("organization_id DESC").
		Limit(1).
		Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load template %q: %w", name, err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return &templates[0], nil
}

func (s *Store) SaveTemplate(ctx context.Context, tmpl *models.PromptTemplate) error {
	if err := s.db.WithContext(ctx).Save(tmpl).Error; err != nil {
		return fmt.Errorf("failed to save template %q: %w", tmpl.Name, err)
	}
	return nil
}

func (s *Store) SaveOrganization(ctx context.Context, org *models.Organization) error {
	if err := s.db.WithContext(ctx).Save(org).Error; err != nil {
		return fmt.Errorf("failed to save organization: %w", err)
	}
	return nil
}
