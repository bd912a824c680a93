// Package queue hands out the next eligible inventory candidate of a
// workflow. The queue itself is derived: the candidate set is inventory
// minus completed workflow items, filtered by the workflow's criteria.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/filter"
	"github.com/ifuryst/quill/internal/service/workflow"
)

// WorkflowReader is the part of the workflow store the queue reads.
type WorkflowReader interface {
	Get(ctx context.Context, id, orgID uint) (*models.Workflow, error)
	CompletedCount(ctx context.Context, workflowID uint) (int64, error)
}

// Progress is the pair of counts shown while a workflow runs.
type Progress struct {
	Remaining int64 `json:"remaining"`
	Completed int64 `json:"completed"`
}

// Total is remaining plus completed.
func (p Progress) Total() int64 {
	return p.Remaining + p.Completed
}

type Queue struct {
	db        *gorm.DB
	workflows WorkflowReader
	logger    *zap.Logger

	mu   sync.Mutex
	intN func(n int64) int64
}

type Option func(*Queue)

// WithRandom replaces the offset source; intN must return a value in [0, n).
func WithRandom(intN func(n int64) int64) Option {
	return func(q *Queue) {
		q.intN = intN
	}
}

func New(db *gorm.DB, workflows WorkflowReader, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		db:        db,
		workflows: workflows,
		logger:    logger,
		intN:      rand.Int64N,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NextCandidate returns a uniformly random eligible candidate, or nil when
// the workflow is missing, its type has no inventory, or nothing is left.
// Refs in skip are treated as ineligible for this call only.
func (q *Queue) NextCandidate(ctx context.Context, workflowID, orgID uint, skip ...string) (*models.Candidate, error) {
	wf, src, pred, err := q.resolve(ctx, workflowID, orgID)
	if err != nil || wf == nil {
		return nil, err
	}
	if len(skip) > 0 {
		pred = filter.And(pred, filter.Not(filter.Predicate{SQL: filter.Alias + ".ref IN ?", Args: []any{skip}}))
	}

	// A candidate completed between count and fetch can shrink the set
	// under the chosen offset; recount once before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		count, err := q.count(ctx, src, pred)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, nil
		}

		candidate, err := q.fetchAt(ctx, src, pred, q.offset(count))
		if err != nil {
			return nil, err
		}
		if candidate != nil {
			return candidate, nil
		}
	}
	return nil, nil
}

// RemainingCount is the number of eligible candidates. Missing workflows and
// types without inventory count zero.
func (q *Queue) RemainingCount(ctx context.Context, workflowID, orgID uint) (int64, error) {
	wf, src, pred, err := q.resolve(ctx, workflowID, orgID)
	if err != nil || wf == nil {
		return 0, err
	}
	return q.count(ctx, src, pred)
}

// CompletedCount is the number of completed items of the workflow.
func (q *Queue) CompletedCount(ctx context.Context, workflowID, orgID uint) (int64, error) {
	if _, err := q.workflows.Get(ctx, workflowID, orgID); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return q.workflows.CompletedCount(ctx, workflowID)
}

func (q *Queue) Progress(ctx context.Context, workflowID, orgID uint) (Progress, error) {
	remaining, err := q.RemainingCount(ctx, workflowID, orgID)
	if err != nil {
		return Progress{}, err
	}
	completed, err := q.CompletedCount(ctx, workflowID, orgID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{Remaining: remaining, Completed: completed}, nil
}

// resolve returns a nil workflow when there is nothing to select from.
func (q *Queue) resolve(ctx context.Context, workflowID, orgID uint) (*models.Workflow, filter.Source, filter.Predicate, error) {
	wf, err := q.workflows.Get(ctx, workflowID, orgID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return nil, filter.Source{}, filter.Predicate{}, nil
		}
		return nil, filter.Source{}, filter.Predicate{}, err
	}

	src, pred, err := filter.Build(wf.OrganizationID, wf.ID, wf.WorkflowType, wf.SearchParams.Data())
	if err != nil {
		if errors.Is(err, filter.ErrUnsupportedType) {
			q.logger.Warn("Workflow type has no candidate inventory",
				zap.Uint("workflow_id", wf.ID),
				zap.String("workflow_type", string(wf.WorkflowType)))
			return nil, filter.Source{}, filter.Predicate{}, nil
		}
		return nil, filter.Source{}, filter.Predicate{}, err
	}
	return wf, src, pred, nil
}

func (q *Queue) count(ctx context.Context, src filter.Source, pred filter.Predicate) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Table(src.TableExpr()).
		Where(pred.Expr()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count %s candidates: %w", src.Type, err)
	}
	return count, nil
}

func (q *Queue) offset(count int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.intN(count))
}

func (q *Queue) fetchAt(ctx context.Context, src filter.Source, pred filter.Predicate, offset int) (*models.Candidate, error) {
	tx := q.db.WithContext(ctx).
		Table(src.TableExpr()).
		Where(pred.Expr()).
		Order(filter.Alias + ".id").
		Offset(offset).
		Limit(1)

	var (
		candidate *models.Candidate
		err       error
	)
	switch src.Type {
	case models.WorkflowTypeProduct:
		candidate, err = takeOne[models.Product](tx)
	case models.WorkflowTypeIdea:
		candidate, err = takeOne[models.Keyword](tx)
	case models.WorkflowTypePage:
		candidate, err = takeOne[models.Page](tx)
	default:
		return nil, fmt.Errorf("%w: %s", filter.ErrUnsupportedType, src.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s candidate: %w", src.Type, err)
	}
	return candidate, nil
}

type candidateRow[T any] interface {
	*T
	ToCandidate() models.Candidate
}

func takeOne[T any, PT candidateRow[T]](tx *gorm.DB) (*models.Candidate, error) {
	var rows []T
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	c := PT(&rows[0]).ToCandidate()
	return &c, nil
}

// Candidate looks up one live inventory row by its ref. It returns nil when
// there is none.
func (q *Queue) Candidate(ctx context.Context, orgID uint, workflowType models.WorkflowType, ref string) (*models.Candidate, error) {
	src, err := filter.SourceFor(workflowType)
	if err != nil {
		return nil, err
	}
	pred := filter.And(filter.Scope(orgID), filter.Predicate{SQL: filter.Alias + ".ref = ?", Args: []any{ref}})
	return q.fetchAt(ctx, src, pred, 0)
}
