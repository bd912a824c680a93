package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/models"
)

var (
	ErrNotFound            = errors.New("workflow not found")
	ErrItemNotFound        = errors.New("workflow item not found")
	ErrDuplicateCompletion = errors.New("candidate already completed in workflow")
	ErrInvalidWorkflow     = errors.New("invalid workflow")
)

// Store persists workflows and their items.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Get returns an active workflow of the organization, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id, orgID uint) (*models.Workflow, error) {
	return s.load(ctx, id, orgID, false)
}

func (s *Store) load(ctx context.Context, id, orgID uint, includeDeleted bool) (*models.Workflow, error) {
	var wf models.Workflow
	tx := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID)
	if !includeDeleted {
		tx = tx.Where("status = ?", models.WorkflowStatusActive)
	}
	if err := tx.First(&wf).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load workflow %d: %w", id, err)
	}
	return &wf, nil
}

func (s *Store) Create(ctx context.Context, wf *models.Workflow) error {
	if wf.OrganizationID == 0 || strings.TrimSpace(wf.Name) == "" {
		return fmt.Errorf("%w: organization and name are required", ErrInvalidWorkflow)
	}
	if !wf.WorkflowType.Valid() {
		return fmt.Errorf("%w: unknown workflow type %q", ErrInvalidWorkflow, wf.WorkflowType)
	}
	wf.ID = 0
	wf.Status = models.WorkflowStatusActive
	wf.AutomationStatus = models.AutomationIdle

	if err := s.db.WithContext(ctx).Create(wf).Error; err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// Save updates the user-editable definition. Automation and lifecycle
// status only move through Transition and UpdateStatus.
func (s *Store) Save(ctx context.Context, wf *models.Workflow) error {
	if !wf.WorkflowType.Valid() {
		return fmt.Errorf("%w: unknown workflow type %q", ErrInvalidWorkflow, wf.WorkflowType)
	}
	res := s.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ? AND organization_id = ? AND status = ?", wf.ID, wf.OrganizationID, models.WorkflowStatusActive).
		Select("name", "workflow_type", "search_params", "content_types", "assigned_to").
		Updates(wf)
	if res.Error != nil {
		return fmt.Errorf("failed to save workflow %d: %w", wf.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes the lifecycle status. Deleting a workflow also parks
// its automation so a live loop winds down on its next iteration.
func (s *Store) UpdateStatus(ctx context.Context, id, orgID uint, status models.WorkflowStatus) error {
	for attempt := 0; attempt < 3; attempt++ {
		wf, err := s.load(ctx, id, orgID, true)
		if err != nil {
			return err
		}

		updates := map[string]any{"status": status}
		tx := s.db.WithContext(ctx).
			Model(&models.Workflow{}).
			Where("id = ? AND organization_id = ?", id, orgID)
		if status == models.WorkflowStatusDeleted {
			next, err := models.NextAutomationStatus(wf.AutomationStatus, models.EventDeleted)
			if err != nil {
				return err
			}
			updates["automation_status"] = next
			tx = tx.Where("automation_status = ?", wf.AutomationStatus)
		}

		res := tx.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update workflow %d status: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return fmt.Errorf("automation status of workflow %d kept changing", id)
}

// Transition applies an automation event with compare-and-set semantics.
// It returns the resulting status; illegal events are rejected with
// models.ErrIllegalTransition and leave the stored status untouched.
func (s *Store) Transition(ctx context.Context, id, orgID uint, event models.AutomationEvent) (models.AutomationStatus, error) {
	for attempt := 0; attempt < 3; attempt++ {
		// Only start requires a live workflow; winding down works on deleted ones too.
		wf, err := s.load(ctx, id, orgID, event != models.EventStart)
		if err != nil {
			return "", err
		}

		next, err := models.NextAutomationStatus(wf.AutomationStatus, event)
		if err != nil {
			return wf.AutomationStatus, err
		}

		res := s.db.WithContext(ctx).
			Model(&models.Workflow{}).
			Where("id = ? AND organization_id = ? AND automation_status = ?", id, orgID, wf.AutomationStatus).
			Update("automation_status", next)
		if res.Error != nil {
			return wf.AutomationStatus, fmt.Errorf("failed to persist automation status: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
		// Lost the race to another writer; re-evaluate against the new state.
	}
	return "", fmt.Errorf("automation status of workflow %d kept changing", id)
}

// ListByAutomationStatus returns active workflows currently in status.
func (s *Store) ListByAutomationStatus(ctx context.Context, status models.AutomationStatus) ([]models.Workflow, error) {
	var workflows []models.Workflow
	err := s.db.WithContext(ctx).
		Where("automation_status = ? AND status = ?", status, models.WorkflowStatusActive).
		Order("id").
		Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return workflows, nil
}

// RecordCompletion marks a candidate completed for a workflow. A pending
// (reset) row for the pair is claimed first, otherwise a new row is inserted.
// The partial unique index on completed rows turns a concurrent second
// completion into ErrDuplicateCompletion.
func (s *Store) RecordCompletion(ctx context.Context, item *models.WorkflowItem) error {
	now := time.Now().UTC()
	item.DateCompleted = &now

	db := s.db.WithContext(ctx)

	var pending models.WorkflowItem
	err := db.Where("workflow_id = ? AND item_type = ? AND item_ref = ? AND date_completed IS NULL",
		item.WorkflowID, item.ItemType, item.ItemRef).
		Order("id").
		Take(&pending).Error
	switch {
	case err == nil:
		res := db.Model(&models.WorkflowItem{}).
			Where("id = ? AND date_completed IS NULL", pending.ID).
			Updates(map[string]any{
				"input_content":   item.InputContent,
				"output_content":  item.OutputContent,
				"workflow_action": item.WorkflowAction,
				"completed_by":    item.CompletedBy,
				"date_completed":  now,
			})
		if res.Error != nil {
			if IsDuplicateKey(res.Error) {
				return ErrDuplicateCompletion
			}
			return fmt.Errorf("failed to complete item %d: %w", pending.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			item.ID = pending.ID
			item.CreatedAt = pending.CreatedAt
			return nil
		}
		// The pending row was claimed by someone else; the insert below
		// settles whether that claim completed the pair.
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to look up pending item: %w", err)
	}

	item.ID = 0
	if err := db.Create(item).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicateCompletion
		}
		return fmt.Errorf("failed to insert completed item: %w", err)
	}
	return nil
}

// ResetItem re-queues a completed item by clearing its completion. Resetting
// a pending item is a no-op.
func (s *Store) ResetItem(ctx context.Context, itemID, orgID uint) (*models.WorkflowItem, error) {
	db := s.db.WithContext(ctx)

	res := db.Model(&models.WorkflowItem{}).
		Where("id = ? AND organization_id = ?", itemID, orgID).
		Updates(map[string]any{
			"date_completed": nil,
			"completed_by":   "",
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to reset item %d: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrItemNotFound
	}

	return s.GetItem(ctx, itemID, orgID)
}

func (s *Store) GetItem(ctx context.Context, itemID, orgID uint) (*models.WorkflowItem, error) {
	var item models.WorkflowItem
	err := s.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", itemID, orgID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load item %d: %w", itemID, err)
	}
	return &item, nil
}

// CompletedCount counts completed items of a workflow.
func (s *Store) CompletedCount(ctx context.Context, workflowID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.WorkflowItem{}).
		Where("workflow_id = ? AND date_completed IS NOT NULL", workflowID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count completed items: %w", err)
	}
	return count, nil
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
