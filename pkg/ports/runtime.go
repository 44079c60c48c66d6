package ports

import (
	"context"

	"github.com/musterd/muster/pkg/domain"
)

// ItemMeta carries the caller-supplied fields of a work item created through
// a workflow runtime.
type ItemMeta struct {
	Title       string
	Description string
	Stage       string
}

// WorkflowSummary describes one selectable workflow, for planner prompts and
// the admin surface.
type WorkflowSummary struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Stages      []string `json:"stages,omitempty"`
	Affinity    string   `json:"affinity,omitempty"`
}

// WorkflowRuntime constructs work items for workflow-backed graph nodes.
// The runtime owns stage and affinity wiring for its workflows; the engine
// only materializes whatever item comes back. parentID optionally links the
// item to an owning item and may be empty.
type WorkflowRuntime interface {
	CreateWorkItem(ctx context.Context, workflowID string, meta ItemMeta, parentID, affinity string) (*domain.WorkItem, error)
	Catalog(ctx context.Context) ([]WorkflowSummary, error)
}
