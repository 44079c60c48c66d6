package ports

import (
	"context"

	"github.com/musterd/muster/pkg/domain"
)

// Repository persists work items, dependency edges, and triggers.
//
// Each single-entity mutation must be atomic; cross-entity transactions are
// not required and the engine never assumes them. Lookups for missing
// entities return domain.ErrItemNotFound / domain.ErrTriggerNotFound.
type Repository interface {
	SaveItem(ctx context.Context, item *domain.WorkItem) error
	GetItem(ctx context.Context, id string) (*domain.WorkItem, error)
	ListItems(ctx context.Context) ([]*domain.WorkItem, error)
	ListItemsByWorkflow(ctx context.Context, workflowID string) ([]*domain.WorkItem, error)
	DeleteItem(ctx context.Context, id string) error

	SaveEdge(ctx context.Context, edge *domain.Edge) error
	DeleteEdge(ctx context.Context, from, to string) error
	ListEdges(ctx context.Context) ([]*domain.Edge, error)

	SaveTrigger(ctx context.Context, trigger *domain.Trigger) error
	GetTrigger(ctx context.Context, id string) (*domain.Trigger, error)
	ListTriggers(ctx context.Context) ([]*domain.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
}
