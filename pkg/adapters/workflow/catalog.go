// Package workflow implements the workflow-runtime port over a static
// catalog of registered workflows. Each workflow owns default stage and
// affinity wiring; items created through it inherit those defaults unless
// the caller overrides them.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// Runtime creates work items for workflow-backed graph nodes.
type Runtime struct {
	mu        sync.RWMutex
	workflows map[string]ports.WorkflowSummary
	logger    *zap.Logger
}

// Option configures the runtime.
type Option func(*Runtime)

// WithWorkflow registers a workflow at construction.
func WithWorkflow(summary ports.WorkflowSummary) Option {
	return func(r *Runtime) { r.workflows[summary.ID] = summary }
}

// NewRuntime creates a catalog-backed workflow runtime.
func NewRuntime(logger *zap.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		workflows: make(map[string]ports.WorkflowSummary),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a workflow in the catalog.
func (r *Runtime) Register(summary ports.WorkflowSummary) {
	r.mu.Lock()
	r.workflows[summary.ID] = summary
	r.mu.Unlock()
}

// CreateWorkItem builds a pending work item bound to the workflow. The
// workflow supplies the default stage (its first) and affinity; explicit
// values from the caller win. parentID is accepted for compatibility with
// runtimes that track item hierarchies; this catalog runtime ignores it.
func (r *Runtime) CreateWorkItem(ctx context.Context, workflowID string, meta ports.ItemMeta, parentID, affinity string) (*domain.WorkItem, error) {
	r.mu.RLock()
	wf, ok := r.workflows[workflowID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", workflowID)
	}

	item := domain.NewWorkItem(meta.Title)
	item.Description = meta.Description
	item.WorkflowID = workflowID
	item.Stage = meta.Stage
	if item.Stage == "" && len(wf.Stages) > 0 {
		item.Stage = wf.Stages[0]
	}
	item.Affinity = affinity
	if item.Affinity == "" {
		item.Affinity = wf.Affinity
	}

	r.logger.Debug("work item created",
		zap.String("item_id", item.ID),
		zap.String("workflow_id", workflowID),
		zap.String("stage", item.Stage))
	return item, nil
}

// Catalog returns the registered workflows, ordered by id.
func (r *Runtime) Catalog(ctx context.Context) ([]ports.WorkflowSummary, error) {
	r.mu.RLock()
	summaries := make([]ports.WorkflowSummary, 0, len(r.workflows))
	for _, wf := range r.workflows {
		summaries = append(summaries, wf)
	}
	r.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}
