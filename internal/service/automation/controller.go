// Package automation runs unattended processing loops over workflow
// queues. The persisted automation status is authoritative; in-memory loop
// handles only track what this process is doing right now.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/quill/internal/config"
	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/completion"
	"github.com/ifuryst/quill/internal/service/metrics"
	"github.com/ifuryst/quill/internal/service/queue"
	"github.com/ifuryst/quill/internal/service/workflow"
	"github.com/ifuryst/quill/pkg/util"
)

var (
	ErrAlreadyRunning = errors.New("workflow automation is already running")
	ErrNotRunning     = errors.New("workflow automation is not running")
	ErrStopping       = errors.New("workflow automation is stopping, retry shortly")
)

const actionGenerate = "generate"

type WorkflowStore interface {
	Get(ctx context.Context, id, orgID uint) (*models.Workflow, error)
	Transition(ctx context.Context, id, orgID uint, event models.AutomationEvent) (models.AutomationStatus, error)
	ListByAutomationStatus(ctx context.Context, status models.AutomationStatus) ([]models.Workflow, error)
	RecordCompletion(ctx context.Context, item *models.WorkflowItem) error
}

type CandidateQueue interface {
	NextCandidate(ctx context.Context, workflowID, orgID uint, skip ...string) (*models.Candidate, error)
	Progress(ctx context.Context, workflowID, orgID uint) (queue.Progress, error)
}

type Generator interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Result, error)
}

type TemplateSource interface {
	Organization(ctx context.Context, id uint) (*models.Organization, error)
	Template(ctx context.Context, orgID uint, name string) (*models.PromptTemplate, error)
}

// ErrorReporter keeps a durable record of per-item failures.
type ErrorReporter interface {
	ReportItemError(ctx context.Context, workflowID uint, candidateRef, title string, err error)
}

// Status is what observers poll.
type Status struct {
	WorkflowID         uint                    `json:"workflow_id"`
	AutomationStatus   models.AutomationStatus `json:"automation_status"`
	ItemCount          int64                   `json:"item_count"`
	CompletedItemCount int64                   `json:"completed_item_count"`
	LocalLoop          bool                    `json:"local_loop"`
}

type Controller struct {
	store     WorkflowStore
	queue     CandidateQueue
	generator Generator
	templates TemplateSource
	leaser    Leaser
	reporter  ErrorReporter
	metrics   *metrics.Metrics
	logger    *zap.Logger

	workerID               string
	maxConsecutiveFailures int
	itemTimeout            time.Duration
	leaseRefresh           time.Duration
	failureBackoff         time.Duration
	encode                 func(v any) ([]byte, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	loops map[uint]*loopHandle
}

type loopHandle struct {
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (h *loopHandle) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *loopHandle) stopping() bool {
	select {
	case <-h.stopCh:
		return true
	default:
		return false
	}
}

type Option func(*Controller)

func WithConfig(cfg config.AutomationConfig) Option {
	return func(c *Controller) {
		if cfg.WorkerID != "" {
			c.workerID = cfg.WorkerID
		}
		if cfg.MaxConsecutiveFailures > 0 {
			c.maxConsecutiveFailures = cfg.MaxConsecutiveFailures
		}
		if cfg.ItemTimeout > 0 {
			c.itemTimeout = cfg.ItemTimeout
		}
	}
}

func WithLeaser(l Leaser) Option {
	return func(c *Controller) {
		c.leaser = l
	}
}

// WithLeaseRefresh sets how often a running loop extends its lease.
func WithLeaseRefresh(d time.Duration) Option {
	return func(c *Controller) {
		c.leaseRefresh = d
	}
}

// WithFailureBackoff sets the pause after a store error before the loop
// tries again.
func WithFailureBackoff(d time.Duration) Option {
	return func(c *Controller) {
		c.failureBackoff = d
	}
}

func WithErrorReporter(r ErrorReporter) Option {
	return func(c *Controller) {
		c.reporter = r
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func NewController(store WorkflowStore, q CandidateQueue, gen Generator, templates TemplateSource, logger *zap.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:                  store,
		queue:                  q,
		generator:              gen,
		templates:              templates,
		leaser:                 NewMemoryLeaser(),
		logger:                 logger,
		workerID:               "quill",
		maxConsecutiveFailures: 10,
		itemTimeout:            5 * time.Minute,
		leaseRefresh:           10 * time.Second,
		failureBackoff:         time.Second,
		encode:                 json.Marshal,
		ctx:                    ctx,
		cancel:                 cancel,
		loops:                  make(map[uint]*loopHandle),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start moves an idle workflow to RUNNING and spawns its loop. It returns
// ErrStopping while a stopped local loop finishes its current item.
func (c *Controller) Start(ctx context.Context, workflowID, orgID uint) error {
	handle, err := c.reserve(workflowID)
	if err != nil {
		return err
	}

	lease, err := c.leaser.Acquire(ctx, workflowID)
	if err != nil {
		c.unreserve(workflowID)
		if errors.Is(err, ErrLeaseHeld) {
			return ErrAlreadyRunning
		}
		return err
	}

	if _, err := c.store.Transition(ctx, workflowID, orgID, models.EventStart); err != nil {
		_ = lease.Release(ctx)
		c.unreserve(workflowID)
		if errors.Is(err, models.ErrIllegalTransition) {
			return ErrAlreadyRunning
		}
		return err
	}

	c.logger.Info("Automation started",
		zap.Uint("workflow_id", workflowID),
		zap.String("worker", c.workerID))
	c.spawn(workflowID, orgID, lease, handle)
	return nil
}

// StartDetached persists RUNNING without spawning a loop here; the
// supervisor of a serving process picks the workflow up.
func (c *Controller) StartDetached(ctx context.Context, workflowID, orgID uint) error {
	if _, err := c.store.Transition(ctx, workflowID, orgID, models.EventStart); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			return ErrAlreadyRunning
		}
		return err
	}
	c.logger.Info("Automation marked running", zap.Uint("workflow_id", workflowID))
	return nil
}

// Stop persists IDLE and tells a local loop to finish after its current
// item. A loop in another process sees the status on its next iteration.
func (c *Controller) Stop(ctx context.Context, workflowID, orgID uint) error {
	if _, err := c.store.Transition(ctx, workflowID, orgID, models.EventStop); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) {
			return ErrNotRunning
		}
		return err
	}

	c.mu.Lock()
	handle := c.loops[workflowID]
	c.mu.Unlock()
	if handle != nil {
		handle.stop()
	}

	c.logger.Info("Automation stop requested", zap.Uint("workflow_id", workflowID))
	return nil
}

func (c *Controller) Status(ctx context.Context, workflowID, orgID uint) (*Status, error) {
	wf, err := c.store.Get(ctx, workflowID, orgID)
	if err != nil {
		return nil, err
	}
	progress, err := c.queue.Progress(ctx, workflowID, orgID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	_, local := c.loops[workflowID]
	c.mu.Unlock()

	return &Status{
		WorkflowID:         wf.ID,
		AutomationStatus:   wf.AutomationStatus,
		ItemCount:          progress.Total(),
		CompletedItemCount: progress.Completed,
		LocalLoop:          local,
	}, nil
}

// Reconcile resumes loops for workflows persisted RUNNING that no process
// is serving, e.g. after a restart. It returns how many loops it resumed.
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	running, err := c.store.ListByAutomationStatus(ctx, models.AutomationRunning)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, wf := range running {
		handle, err := c.reserve(wf.ID)
		if err != nil {
			continue
		}
		lease, err := c.leaser.Acquire(ctx, wf.ID)
		if err != nil {
			c.unreserve(wf.ID)
			if !errors.Is(err, ErrLeaseHeld) {
				c.logger.Warn("Failed to acquire lease for resume", zap.Uint("workflow_id", wf.ID), zap.Error(err))
			}
			continue
		}

		c.logger.Info("Resuming automation", zap.Uint("workflow_id", wf.ID), zap.String("worker", c.workerID))
		c.spawn(wf.ID, wf.OrganizationID, lease, handle)
		resumed++
	}
	return resumed, nil
}

// Running lists workflows with a loop in this process.
func (c *Controller) Running() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint, 0, len(c.loops))
	for id := range c.loops {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every local loop has exited.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown ends all local loops without touching persisted status, so the
// next process resumes them.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) reserve(workflowID uint) (*loopHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.loops[workflowID]; ok {
		// A stopped loop still finishing its item holds the slot.
		if h.stopping() {
			return nil, ErrStopping
		}
		return nil, ErrAlreadyRunning
	}
	h := &loopHandle{stopCh: make(chan struct{}), done: make(chan struct{})}
	c.loops[workflowID] = h
	return h, nil
}

func (c *Controller) unreserve(workflowID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loops, workflowID)
}

func (c *Controller) spawn(workflowID, orgID uint, lease Lease, handle *loopHandle) {
	c.wg.Add(1)
	c.metrics.LoopStarted()
	go func() {
		defer c.wg.Done()
		defer close(handle.done)
		defer c.metrics.LoopStopped()
		defer c.metrics.ForgetWorkflow(workflowID)
		defer c.unreserve(workflowID)
		defer func() {
			if err := lease.Release(context.WithoutCancel(c.ctx)); err != nil {
				c.logger.Warn("Failed to release lease", zap.Uint("workflow_id", workflowID), zap.Error(err))
			}
		}()

		lost := c.keepAlive(lease, handle)
		newLoop(c, workflowID, orgID, handle, lost).run()
	}()
}

// keepAlive refreshes the lease until the loop exits. The returned channel
// closes when the lease is lost.
func (c *Controller) keepAlive(lease Lease, handle *loopHandle) <-chan struct{} {
	lost := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.leaseRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ok, err := lease.Refresh(c.ctx)
				if err != nil {
					c.logger.Warn("Failed to refresh lease", zap.Error(err))
					continue
				}
				if !ok {
					close(lost)
					return
				}
			case <-handle.done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return lost
}

// loop is one run of a workflow.
type loop struct {
	c          *Controller
	workflowID uint
	orgID      uint
	handle     *loopHandle
	lost       <-chan struct{}
	skip       []string
	skipped    map[string]bool
	failures   int
	session    string
}

func newLoop(c *Controller, workflowID, orgID uint, handle *loopHandle, lost <-chan struct{}) *loop {
	return &loop{
		c:          c,
		workflowID: workflowID,
		orgID:      orgID,
		handle:     handle,
		lost:       lost,
		skipped:    make(map[string]bool),
		session:    fmt.Sprintf("workflow-%d", workflowID),
	}
}

func (l *loop) run() {
	log := l.c.logger.With(zap.Uint("workflow_id", l.workflowID))
	for {
		select {
		case <-l.c.ctx.Done():
			log.Info("Automation loop interrupted by shutdown")
			return
		case <-l.handle.stopCh:
			log.Info("Automation loop stopped")
			return
		case <-l.lost:
			log.Warn("Automation lease lost, leaving the workflow to its new owner")
			return
		default:
		}

		wf, err := l.c.store.Get(l.c.ctx, l.workflowID, l.orgID)
		if err != nil {
			if errors.Is(err, workflow.ErrNotFound) {
				log.Info("Workflow gone, ending automation")
				return
			}
			if l.storeFailure(log, "load workflow", err) {
				return
			}
			continue
		}
		if wf.AutomationStatus != models.AutomationRunning {
			log.Info("Automation no longer running, ending loop")
			return
		}
		if len(wf.ContentTypes) == 0 {
			log.Warn("Workflow has no content types, nothing to generate")
			l.finish(log, models.EventFailed)
			return
		}

		candidate, err := l.c.queue.NextCandidate(l.c.ctx, wf.ID, wf.OrganizationID, l.skip...)
		if err != nil {
			if l.storeFailure(log, "select candidate", err) {
				return
			}
			continue
		}
		if candidate == nil {
			log.Info("Workflow queue exhausted", zap.Int("skipped", len(l.skip)))
			l.finish(log, models.EventExhausted)
			return
		}

		if l.process(log, wf, candidate) {
			l.failures = 0
		} else {
			l.failures++
			if l.failures >= l.c.maxConsecutiveFailures {
				log.Error("Too many consecutive failures, stopping automation", zap.Int("failures", l.failures))
				l.finish(log, models.EventFailed)
				return
			}
		}

		if progress, err := l.c.queue.Progress(l.c.ctx, wf.ID, wf.OrganizationID); err == nil {
			l.c.metrics.SetRemaining(wf.ID, progress.Remaining)
		}
	}
}

// ContentResult is one generated content type of an item.
type ContentResult struct {
	ContentType string   `json:"content_type"`
	Text        string   `json:"text"`
	Items       []string `json:"items,omitempty"`
}

// process generates every content type for one candidate and records the
// item. It reports whether the item counts as a success; a duplicate
// completion by another worker does.
func (l *loop) process(log *zap.Logger, wf *models.Workflow, candidate *models.Candidate) bool {
	log = log.With(zap.String("candidate_ref", candidate.Ref))

	// Stop does not cut a running item short; only shutdown and the item
	// timeout do.
	ctx, cancel := context.WithTimeout(l.c.ctx, l.c.itemTimeout)
	defer cancel()

	org, err := l.c.templates.Organization(ctx, wf.OrganizationID)
	if err != nil {
		l.itemFailed(ctx, log, wf, candidate, "settings", "Failed to load organization", err)
		return false
	}

	contents := util.NewSequence[ContentResult]()
	var preface string
	for _, contentType := range wf.ContentTypes {
		tmpl, err := l.c.templates.Template(ctx, wf.OrganizationID, contentType)
		if err != nil {
			l.itemFailed(ctx, log, wf, candidate, "settings", "Failed to load template "+contentType, err)
			return false
		}

		res, err := l.c.generator.Complete(ctx, completion.Request{
			Organization: org,
			Template:     tmpl,
			Input:        completion.Input{Candidate: candidate, Preface: preface},
			AccountID:    l.c.workerID,
			SessionID:    l.session,
		})
		if err != nil {
			l.itemFailed(ctx, log, wf, candidate, "generation", "Generation failed for "+contentType, err)
			return false
		}

		contents.Append(ContentResult{ContentType: contentType, Text: res.Text, Items: res.Items})
		if tmpl.Shape == models.ShapeParagraph || tmpl.Shape == "" {
			preface = strings.TrimSpace(preface + "\n\n" + res.Text)
		}
	}

	input, err := l.c.encode(candidate)
	if err != nil {
		l.itemFailed(ctx, log, wf, candidate, "encode", "Failed to encode item input", err)
		return false
	}
	output, err := l.c.encode(map[string]any{"contents": contents.Items()})
	if err != nil {
		l.itemFailed(ctx, log, wf, candidate, "encode", "Failed to encode item output", err)
		return false
	}
	item := &models.WorkflowItem{
		WorkflowID:     wf.ID,
		OrganizationID: wf.OrganizationID,
		ItemType:       wf.WorkflowType,
		ItemRef:        candidate.Ref,
		InputContent:   datatypes.JSON(input),
		OutputContent:  datatypes.JSON(output),
		WorkflowAction: actionGenerate,
		CompletedBy:    l.c.workerID,
	}
	if err := l.c.store.RecordCompletion(ctx, item); err != nil {
		if errors.Is(err, workflow.ErrDuplicateCompletion) {
			log.Debug("Candidate already completed by another worker")
			l.c.metrics.DuplicateCompletion()
			return true
		}
		// Not skipped: the item stays pending and is picked again later.
		log.Error("Failed to record completed item", zap.Error(err))
		l.c.metrics.ItemFailed("persistence")
		l.report(ctx, wf, candidate, "Failed to record completed item", err)
		return false
	}

	log.Info("Item completed", zap.Uint("item_id", item.ID), zap.Int("contents", contents.Len()))
	l.c.metrics.ItemCompleted(string(wf.WorkflowType))
	return true
}

func (l *loop) itemFailed(ctx context.Context, log *zap.Logger, wf *models.Workflow, candidate *models.Candidate, stage, title string, err error) {
	log.Error(title, zap.String("stage", stage), zap.Error(err))
	l.c.metrics.ItemFailed(stage)
	l.report(ctx, wf, candidate, title, err)
	if !l.skipped[candidate.Ref] {
		l.skipped[candidate.Ref] = true
		l.skip = append(l.skip, candidate.Ref)
	}
}

func (l *loop) report(ctx context.Context, wf *models.Workflow, candidate *models.Candidate, title string, err error) {
	if l.c.reporter == nil {
		return
	}
	l.c.reporter.ReportItemError(context.WithoutCancel(ctx), wf.ID, candidate.Ref, title, err)
}

// storeFailure counts a store error and pauses. It returns true when the
// loop should end.
func (l *loop) storeFailure(log *zap.Logger, op string, err error) bool {
	if l.c.ctx.Err() != nil {
		return true
	}
	l.failures++
	log.Error("Automation store error", zap.String("op", op), zap.Int("failures", l.failures), zap.Error(err))
	if l.failures >= l.c.maxConsecutiveFailures {
		l.finish(log, models.EventFailed)
		return true
	}
	if l.c.failureBackoff <= 0 {
		return false
	}
	select {
	case <-time.After(l.c.failureBackoff):
		return false
	case <-l.handle.stopCh:
		return true
	case <-l.c.ctx.Done():
		return true
	}
}

func (l *loop) finish(log *zap.Logger, event models.AutomationEvent) {
	status, err := l.c.store.Transition(context.WithoutCancel(l.c.ctx), l.workflowID, l.orgID, event)
	if err != nil && !errors.Is(err, models.ErrIllegalTransition) {
		log.Error("Failed to persist automation status", zap.String("event", string(event)), zap.Error(err))
		return
	}
	log.Info("Automation finished", zap.String("event", string(event)), zap.String("status", string(status)))
}
