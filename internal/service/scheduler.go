package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/config"
)

// Reconciler resumes automation loops that should be running here.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Scheduler periodically reconciles persisted RUNNING workflows with the
// loops of this process.
type Scheduler struct {
	config     *config.AutomationConfig
	logger     *zap.Logger
	reconciler Reconciler
	ticker     *time.Ticker
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewScheduler(cfg *config.AutomationConfig, logger *zap.Logger, reconciler Reconciler) *Scheduler {
	return &Scheduler{
		config:     cfg,
		logger:     logger,
		reconciler: reconciler,
		stopCh:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting automation supervisor", zap.Duration("interval", s.config.SupervisorInterval))

	s.ticker = time.NewTicker(s.config.SupervisorInterval)

	if s.config.ResumeOnStart {
		go func() {
			s.logger.Info("Running initial reconcile")
			s.runReconcile(ctx)
		}()
	}

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runReconcile(ctx)
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.logger.Info("Scheduler shutdown completed")
	})
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	start := time.Now()
	resumed, err := s.reconciler.Reconcile(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Reconcile failed",
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	if resumed > 0 {
		s.logger.Info("Resumed automation loops",
			zap.Int("resumed", resumed),
			zap.Duration("duration", duration))
	}
}
