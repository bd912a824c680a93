package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/metrics"
	"github.com/ifuryst/quill/internal/service/queue"
)

type runningLister interface {
	ListByAutomationStatus(ctx context.Context, status models.AutomationStatus) ([]models.Workflow, error)
}

type progressSource interface {
	Progress(ctx context.Context, workflowID, orgID uint) (queue.Progress, error)
}

// StatsUpdater periodically publishes the progress of running workflows
// and prunes old error logs
type StatsUpdater struct {
	monitoringService *MonitoringService
	workflows         runningLister
	progress          progressSource
	metrics           *metrics.Metrics
	logger            *zap.Logger
	retentionDays     int
	interval          time.Duration
	done              chan struct{}
}

func NewStatsUpdater(monitoringService *MonitoringService, workflows runningLister, progress progressSource, m *metrics.Metrics, logger *zap.Logger, interval time.Duration, retentionDays int) *StatsUpdater {
	return &StatsUpdater{
		monitoringService: monitoringService,
		workflows:         workflows,
		progress:          progress,
		metrics:           m,
		logger:            logger,
		retentionDays:     retentionDays,
		interval:          interval,
		done:              make(chan struct{}),
	}
}

// Start begins the periodic update process
func (s *StatsUpdater) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Starting stats updater", zap.Duration("interval", s.interval))
		for {
			select {
			case <-s.done:
				s.logger.Info("Stats updater stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped due to context cancellation")
				return
			case <-ticker.C:
				s.UpdateStats(ctx)
			}
		}
	}()
}

func (s *StatsUpdater) Stop() {
	close(s.done)
}

// UpdateStats refreshes the remaining-items gauge of every running workflow
func (s *StatsUpdater) UpdateStats(ctx context.Context) {
	running, err := s.workflows.ListByAutomationStatus(ctx, models.AutomationRunning)
	if err != nil {
		s.logger.Error("Failed to list running workflows", zap.Error(err))
		return
	}

	for _, wf := range running {
		p, err := s.progress.Progress(ctx, wf.ID, wf.OrganizationID)
		if err != nil {
			s.logger.Warn("Failed to compute workflow progress", zap.Uint("workflow_id", wf.ID), zap.Error(err))
			continue
		}
		s.metrics.SetRemaining(wf.ID, p.Remaining)
		s.logger.Debug("Workflow progress",
			zap.Uint("workflow_id", wf.ID),
			zap.Int64("remaining", p.Remaining),
			zap.Int64("completed", p.Completed))
	}

	if s.monitoringService != nil && s.retentionDays > 0 {
		if n, err := s.monitoringService.CleanupOldData(ctx, s.retentionDays); err != nil {
			s.logger.Error("Failed to cleanup old data", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("Cleaned up resolved error logs", zap.Int64("deleted", n))
		}
	}
}
