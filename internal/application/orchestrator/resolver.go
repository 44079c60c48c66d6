package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
)

// Resolver maintains the dependency view of the graph: which items block
// which, and which are ready to dispatch. Readiness is tracked as a count of
// unresolved blocking predecessors per item, adjusted edge by edge, so the
// frontier never needs a whole-graph walk. The resolver shares the store's
// critical section and is the only writer of the pending/ready boundary.
type Resolver struct {
	store  *Store
	logger *zap.Logger
}

// NewResolver creates the resolver over a store.
func NewResolver(store *Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// AddDependency records that item cannot start until dependsOn reaches
// terminal success. The policy picks the failure behavior: hard fails the
// item when the predecessor fails, soft lets it continue. Insertion is
// all-or-nothing: unknown endpoints and cycles leave the graph untouched.
func (r *Resolver) AddDependency(ctx context.Context, itemID, dependsOnID string, kind domain.EdgeKind, policy domain.EdgePolicy) error {
	if kind == "" {
		kind = domain.EdgeBlocks
	}
	if kind != domain.EdgeBlocks {
		return fmt.Errorf("unsupported edge kind %q", kind)
	}

	s := r.store
	s.mu.Lock()
	if _, ok := s.items[itemID]; !ok {
		s.mu.Unlock()
		return &domain.UnknownNodeError{ID: itemID}
	}
	if _, ok := s.items[dependsOnID]; !ok {
		s.mu.Unlock()
		return &domain.UnknownNodeError{ID: dependsOnID}
	}
	if itemID == dependsOnID || s.reachableLocked(itemID, dependsOnID) {
		s.mu.Unlock()
		return &domain.CycleError{From: dependsOnID, To: itemID}
	}
	if _, ok := s.in[itemID][dependsOnID]; ok {
		// already recorded
		s.mu.Unlock()
		return nil
	}

	cs := &changeset{}
	s.insertEdgeLocked(cs, &domain.Edge{From: dependsOnID, To: itemID, Kind: kind, Policy: policy})
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	r.logger.Debug("dependency added",
		zap.String("item_id", itemID),
		zap.String("depends_on", dependsOnID),
		zap.String("policy", string(policy)))
	return nil
}

// RemoveDependency deletes the edge if present. Removal is idempotent;
// dropping the last unresolved predecessor promotes the item.
func (r *Resolver) RemoveDependency(ctx context.Context, itemID, dependsOnID string) error {
	s := r.store
	s.mu.Lock()
	edge, ok := s.in[itemID][dependsOnID]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	cs := &changeset{}
	delete(s.in[itemID], dependsOnID)
	delete(s.out[dependsOnID], itemID)
	cs.deletedEdges = append(cs.deletedEdges, [2]string{dependsOnID, itemID})

	source := s.items[dependsOnID]
	target := s.items[itemID]
	if source != nil && target != nil && !edgeResolved(source.State, edge.Policy) {
		s.resolveEdgeLocked(cs, target)
	}
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	return nil
}

// IsReady reports whether every blocking predecessor of the item has
// resolved. It says nothing about the item's own state.
func (r *Resolver) IsReady(itemID string) bool {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[itemID]; !ok {
		return false
	}
	return s.blocking[itemID] == 0
}

// ReadyFrontier returns snapshots of the items ready to dispatch, ordered by
// creation time then id so dispatch order is deterministic.
func (r *Resolver) ReadyFrontier() []*domain.WorkItem {
	s := r.store
	s.mu.Lock()
	frontier := make([]*domain.WorkItem, 0, s.counts[domain.ItemReady])
	for _, item := range s.items {
		if item.State == domain.ItemReady {
			frontier = append(frontier, item.Clone())
		}
	}
	s.mu.Unlock()
	sortByCreation(frontier)
	return frontier
}

// reachableLocked walks blocks edges from start looking for goal.
func (s *Store) reachableLocked(start, goal string) bool {
	if start == goal {
		return true
	}
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for to := range s.out[id] {
			if to == goal {
				return true
			}
			if !seen[to] {
				seen[to] = true
				stack = append(stack, to)
			}
		}
	}
	return false
}
