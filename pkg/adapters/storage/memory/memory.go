package memory

import (
	"context"
	"sync"

	"github.com/musterd/muster/pkg/domain"
)

// Repository is the in-memory twin of the Redis repository, used in tests
// and for running the daemon without durable storage. All methods copy on
// the way in and out, so callers never share records with the store.
type Repository struct {
	mu       sync.RWMutex
	items    map[string]*domain.WorkItem
	edges    map[[2]string]*domain.Edge
	triggers map[string]*domain.Trigger
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		items:    make(map[string]*domain.WorkItem),
		edges:    make(map[[2]string]*domain.Edge),
		triggers: make(map[string]*domain.Trigger),
	}
}

func (r *Repository) SaveItem(ctx context.Context, item *domain.WorkItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item.Clone()
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return item.Clone(), nil
}

func (r *Repository) ListItems(ctx context.Context) ([]*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]*domain.WorkItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item.Clone())
	}
	return items, nil
}

func (r *Repository) ListItemsByWorkflow(ctx context.Context, workflowID string) ([]*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]*domain.WorkItem, 0)
	for _, item := range r.items {
		if item.WorkflowID == workflowID {
			items = append(items, item.Clone())
		}
	}
	return items, nil
}

func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *Repository) SaveEdge(ctx context.Context, edge *domain.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := *edge
	r.edges[[2]string{edge.From, edge.To}] = &e
	return nil
}

func (r *Repository) DeleteEdge(ctx context.Context, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, [2]string{from, to})
	return nil
}

func (r *Repository) ListEdges(ctx context.Context) ([]*domain.Edge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	edges := make([]*domain.Edge, 0, len(r.edges))
	for _, edge := range r.edges {
		e := *edge
		edges = append(edges, &e)
	}
	return edges, nil
}

func (r *Repository) SaveTrigger(ctx context.Context, trigger *domain.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := *trigger
	r.triggers[trigger.ID] = &t
	return nil
}

func (r *Repository) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trigger, ok := r.triggers[id]
	if !ok {
		return nil, domain.ErrTriggerNotFound
	}
	t := *trigger
	return &t, nil
}

func (r *Repository) ListTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	triggers := make([]*domain.Trigger, 0, len(r.triggers))
	for _, trigger := range r.triggers {
		t := *trigger
		triggers = append(triggers, &t)
	}
	return triggers, nil
}

func (r *Repository) DeleteTrigger(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triggers, id)
	return nil
}
