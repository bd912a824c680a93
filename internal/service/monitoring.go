package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/metrics"
)

const (
	LevelError = "ERROR"
	LevelWarn  = "WARN"

	SourceAutomation = "automation"
	SourceCompletion = "completion"
)

type MonitoringService struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger, m *metrics.Metrics) *MonitoringService {
	return &MonitoringService{
		db:      db,
		logger:  logger,
		metrics: m,
	}
}

// RecordError writes an error log entry
func (m *MonitoringService) RecordError(ctx context.Context, level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	if err := m.db.WithContext(ctx).Create(errorLog).Error; err != nil {
		return fmt.Errorf("failed to record error log: %w", err)
	}
	m.metrics.ErrorLogged(level, source)
	return nil
}

// ErrorLogOption sets optional error log fields
type ErrorLogOption func(*models.ErrorLog)

func WithWorkflow(workflowID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.WorkflowID = &workflowID
	}
}

func WithCandidate(ref string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.CandidateRef = ref
	}
}

// WithContext attaches structured diagnostic context
func WithContext(fields map[string]any) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(fields); err == nil {
			e.Context = datatypes.JSON(contextBytes)
		}
	}
}

// ReportItemError records a failed automation item. Storage failures are
// only logged.
func (m *MonitoringService) ReportItemError(ctx context.Context, workflowID uint, candidateRef, title string, err error) {
	recordErr := m.RecordError(ctx, LevelError, SourceAutomation, title, err.Error(),
		WithWorkflow(workflowID),
		WithCandidate(candidateRef),
		WithContext(map[string]any{"error_type": fmt.Sprintf("%T", err)}),
	)
	if recordErr != nil {
		m.logger.Warn("Failed to record item error",
			zap.Uint("workflow_id", workflowID),
			zap.String("candidate_ref", candidateRef),
			zap.Error(recordErr))
	}
}

// GetRecentErrors returns the newest error logs, optionally only unresolved
// ones of a workflow.
func (m *MonitoringService) GetRecentErrors(ctx context.Context, workflowID uint, limit int) ([]models.ErrorLog, error) {
	if limit <= 0 {
		limit = 50
	}
	tx := m.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if workflowID != 0 {
		tx = tx.Where("workflow_id = ?", workflowID)
	}
	var logs []models.ErrorLog
	err := tx.Find(&logs).Error
	return logs, err
}

func (m *MonitoringService) ResolveError(ctx context.Context, id uint) error {
	now := time.Now()
	return m.db.WithContext(ctx).
		Model(&models.ErrorLog{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved": true, "resolved_at": now}).Error
}

// CleanupOldData deletes resolved error logs older than daysToKeep
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) (int64, error) {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)

	res := m.db.WithContext(ctx).
		Where("created_at < ? AND resolved = ?", cutoffDate, true).
		Delete(&models.ErrorLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cleanup resolved errors: %w", res.Error)
	}
	return res.RowsAffected, nil
}
