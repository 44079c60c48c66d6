package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// Store is the durable-backed in-memory registry of work items and their
// dependency edges. Mutations commit in memory first, under one mutex, and
// are then written through to the repository; the repository is read only at
// boot (Restore). One critical section covers a state transition and all the
// readiness bookkeeping it causes, so the two are never observed apart.
type Store struct {
	mu       sync.Mutex
	items    map[string]*domain.WorkItem
	out      map[string]map[string]*domain.Edge // from -> to
	in       map[string]map[string]*domain.Edge // to -> from
	blocking map[string]int                     // unresolved blocking predecessors
	deadline map[string]time.Time               // ack deadline per dispatched item
	counts   map[domain.ItemState]int

	repo    ports.Repository
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	onChange func()
}

// changeset accumulates the outcome of one locked mutation: snapshots to
// persist, edges to write or delete, audit events, and whether the ready
// frontier may have grown. It is applied by commit after the lock drops.
type changeset struct {
	items        []*domain.WorkItem
	edges        []*domain.Edge
	deletedEdges [][2]string
	deletedItems []string
	events       []ports.Event
	wake         bool
}

// NewStore creates an empty graph store.
func NewStore(
	repo ports.Repository,
	bus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Store {
	return &Store{
		items:    make(map[string]*domain.WorkItem),
		out:      make(map[string]map[string]*domain.Edge),
		in:       make(map[string]map[string]*domain.Edge),
		blocking: make(map[string]int),
		deadline: make(map[string]time.Time),
		counts:   make(map[domain.ItemState]int),
		repo:     repo,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
	}
}

// OnChange registers a callback fired after any mutation that may have grown
// the ready frontier. Must be set before the engine starts moving.
func (s *Store) OnChange(fn func()) {
	s.onChange = fn
}

// Insert adds a new item with no dependencies. Items with nothing blocking
// them promote to ready immediately.
func (s *Store) Insert(ctx context.Context, item *domain.WorkItem) error {
	return s.InsertWithDeps(ctx, item, nil)
}

// InsertWithDeps adds a new item and its incoming dependency edges in one
// atomic step, so the item can never be dispatched before its edges exist.
// Every edge must target the new item and its source must already be in the
// graph.
func (s *Store) InsertWithDeps(ctx context.Context, item *domain.WorkItem, deps []domain.Edge) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("work item has no id")
	}

	s.mu.Lock()
	if _, exists := s.items[item.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("work item %s already exists", item.ID)
	}
	for i := range deps {
		if deps[i].To != item.ID {
			s.mu.Unlock()
			return fmt.Errorf("edge %s -> %s does not target the new item", deps[i].From, deps[i].To)
		}
		if _, ok := s.items[deps[i].From]; !ok {
			s.mu.Unlock()
			return &domain.UnknownNodeError{ID: deps[i].From}
		}
	}

	cs := &changeset{}
	stored := item.Clone()
	stored.State = domain.ItemPending
	s.items[stored.ID] = stored
	s.counts[domain.ItemPending]++
	s.blocking[stored.ID] = 0
	cs.items = append(cs.items, stored.Clone())
	cs.events = append(cs.events, ports.NewEvent("item.created", stored.ID, map[string]interface{}{
		"title":    stored.Title,
		"workflow": stored.WorkflowID,
	}))

	for i := range deps {
		s.insertEdgeLocked(cs, &deps[i])
	}
	s.promoteIfReadyLocked(cs, stored)
	s.metrics.RecordItemCreated()
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	return nil
}

// Get returns a snapshot of one item.
func (s *Store) Get(id string) (*domain.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return item.Clone(), nil
}

// List returns snapshots of every item, ordered by creation time then id.
func (s *Store) List() []*domain.WorkItem {
	s.mu.Lock()
	items := make([]*domain.WorkItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.Clone())
	}
	s.mu.Unlock()
	sortByCreation(items)
	return items
}

// ListByWorkflow returns snapshots of the items belonging to a workflow,
// ordered by creation time then id.
func (s *Store) ListByWorkflow(workflowID string) []*domain.WorkItem {
	s.mu.Lock()
	items := make([]*domain.WorkItem, 0)
	for _, item := range s.items {
		if item.WorkflowID == workflowID {
			items = append(items, item.Clone())
		}
	}
	s.mu.Unlock()
	sortByCreation(items)
	return items
}

// Edges returns a snapshot of every dependency edge.
func (s *Store) Edges() []*domain.Edge {
	s.mu.Lock()
	edges := make([]*domain.Edge, 0)
	for _, targets := range s.out {
		for _, edge := range targets {
			e := *edge
			edges = append(edges, &e)
		}
	}
	s.mu.Unlock()
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From == edges[j].From {
			return edges[i].To < edges[j].To
		}
		return edges[i].From < edges[j].From
	})
	return edges
}

// Clear acknowledges a terminal item, removing it and its edges from memory
// and the repository. Unresolved edges out of the cleared item stop gating
// their targets.
func (s *Store) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrItemNotFound
	}
	if !item.State.Terminal() {
		state := item.State
		s.mu.Unlock()
		return fmt.Errorf("item %s is %s; only terminal items can be cleared", id, state)
	}

	cs := &changeset{}
	for to, edge := range s.out[id] {
		if target := s.items[to]; target != nil && !edgeResolved(item.State, edge.Policy) {
			s.resolveEdgeLocked(cs, target)
		}
		delete(s.in[to], id)
		cs.deletedEdges = append(cs.deletedEdges, [2]string{id, to})
	}
	for from := range s.in[id] {
		delete(s.out[from], id)
		cs.deletedEdges = append(cs.deletedEdges, [2]string{from, id})
	}
	delete(s.out, id)
	delete(s.in, id)
	delete(s.blocking, id)
	delete(s.deadline, id)
	s.counts[item.State]--
	delete(s.items, id)
	cs.deletedItems = append(cs.deletedItems, id)
	cs.events = append(cs.events, ports.NewEvent("item.cleared", id, nil))
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	return nil
}

// Restore rebuilds the in-memory graph from the repository. Items that were
// dispatched or running when the process died have lost their worker link,
// so they rejoin the queue; their attempt counts are preserved.
func (s *Store) Restore(ctx context.Context) error {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	edges, err := s.repo.ListEdges(ctx)
	if err != nil {
		return fmt.Errorf("failed to load edges: %w", err)
	}

	s.mu.Lock()
	cs := &changeset{}
	for _, item := range items {
		stored := item.Clone()
		s.items[stored.ID] = stored
		s.counts[stored.State]++
		s.blocking[stored.ID] = 0
	}
	for _, e := range edges {
		if s.items[e.From] == nil || s.items[e.To] == nil {
			s.logger.Warn("dropping stored edge with missing endpoint",
				zap.String("from", e.From),
				zap.String("to", e.To))
			cs.deletedEdges = append(cs.deletedEdges, [2]string{e.From, e.To})
			continue
		}
		edge := &domain.Edge{From: e.From, To: e.To, Kind: e.Kind, Policy: e.Policy}
		if edge.Kind == "" {
			edge.Kind = domain.EdgeBlocks
		}
		if edge.Policy == "" {
			edge.Policy = domain.PolicyHard
		}
		if s.out[edge.From] == nil {
			s.out[edge.From] = make(map[string]*domain.Edge)
		}
		if s.in[edge.To] == nil {
			s.in[edge.To] = make(map[string]*domain.Edge)
		}
		s.out[edge.From][edge.To] = edge
		s.in[edge.To][edge.From] = edge
		if !edgeResolved(s.items[edge.From].State, edge.Policy) {
			s.blocking[edge.To]++
		}
	}
	for _, item := range s.items {
		switch item.State {
		case domain.ItemDispatched, domain.ItemRunning:
			if s.blocking[item.ID] == 0 {
				s.setStateLocked(cs, item, domain.ItemReady)
			} else {
				s.setStateLocked(cs, item, domain.ItemPending)
			}
		case domain.ItemPending:
			s.promoteIfReadyLocked(cs, item)
		case domain.ItemReady:
			if s.blocking[item.ID] > 0 {
				s.setStateLocked(cs, item, domain.ItemPending)
			}
		}
	}
	// a crash can separate a persisted failure from the blocked-failed
	// cascade it causes; re-walking hard edges out of failed items closes
	// that gap, and items past pending/ready are left untouched
	for _, item := range s.items {
		if !failedState(item.State) {
			continue
		}
		for to, edge := range s.out[item.ID] {
			if edge.Policy != domain.PolicyHard {
				continue
			}
			if target := s.items[to]; target != nil {
				s.blockFailLocked(cs, target, item.ID)
			}
		}
	}
	restored, edgeCount := len(s.items), len(edges)
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	s.logger.Info("work graph restored",
		zap.Int("items", restored),
		zap.Int("edges", edgeCount))
	return nil
}

// setStateLocked moves an item to a new state, stamps it, and stages its
// snapshot and audit event. Every state change funnels through here.
func (s *Store) setStateLocked(cs *changeset, item *domain.WorkItem, state domain.ItemState) {
	s.counts[item.State]--
	s.counts[state]++
	item.State = state
	item.UpdatedAt = time.Now().UTC()
	if state.Terminal() {
		delete(s.deadline, item.ID)
		s.metrics.RecordItemTerminal(string(state), item.UpdatedAt.Sub(item.CreatedAt))
	}
	cs.items = append(cs.items, item.Clone())
	data := map[string]interface{}{"state": string(state)}
	if item.FailureReason != "" {
		data["reason"] = item.FailureReason
	}
	cs.events = append(cs.events, ports.NewEvent("item.state", item.ID, data))
}

// insertEdgeLocked records an edge and applies readiness accounting. The
// caller has already validated both endpoints and acyclicity.
func (s *Store) insertEdgeLocked(cs *changeset, e *domain.Edge) {
	edge := &domain.Edge{From: e.From, To: e.To, Kind: e.Kind, Policy: e.Policy}
	if edge.Kind == "" {
		edge.Kind = domain.EdgeBlocks
	}
	if edge.Policy == "" {
		edge.Policy = domain.PolicyHard
	}
	if s.out[edge.From] == nil {
		s.out[edge.From] = make(map[string]*domain.Edge)
	}
	if s.in[edge.To] == nil {
		s.in[edge.To] = make(map[string]*domain.Edge)
	}
	s.out[edge.From][edge.To] = edge
	s.in[edge.To][edge.From] = edge
	cs.edges = append(cs.edges, edge)

	source := s.items[edge.From]
	target := s.items[edge.To]
	if edgeResolved(source.State, edge.Policy) {
		return
	}
	s.blocking[edge.To]++
	if failedState(source.State) && edge.Policy == domain.PolicyHard {
		s.blockFailLocked(cs, target, source.ID)
		return
	}
	if target.State == domain.ItemReady {
		// the item gained an unmet predecessor before anyone claimed it
		s.setStateLocked(cs, target, domain.ItemPending)
	}
}

// resolveEdgeLocked marks one incoming blocking edge of target resolved and
// promotes the target once none remain.
func (s *Store) resolveEdgeLocked(cs *changeset, target *domain.WorkItem) {
	s.blocking[target.ID]--
	s.promoteIfReadyLocked(cs, target)
}

func (s *Store) promoteIfReadyLocked(cs *changeset, item *domain.WorkItem) {
	if item.State == domain.ItemPending && s.blocking[item.ID] == 0 {
		s.setStateLocked(cs, item, domain.ItemReady)
		cs.wake = true
	}
}

// onTerminalLocked applies the readiness effect of item reaching a terminal
// state on its dependents.
func (s *Store) onTerminalLocked(cs *changeset, item *domain.WorkItem) {
	switch item.State {
	case domain.ItemCompleted:
		for to := range s.out[item.ID] {
			if target := s.items[to]; target != nil {
				s.resolveEdgeLocked(cs, target)
			}
		}
	case domain.ItemFailed, domain.ItemBlockedFailed:
		s.failureCascadeLocked(cs, item)
	case domain.ItemCancelled:
		// hard dependents stay blocked: the predecessor will never
		// succeed. Soft dependents may proceed.
		for to, edge := range s.out[item.ID] {
			target := s.items[to]
			if target == nil || edge.Policy != domain.PolicySoft {
				continue
			}
			s.resolveEdgeLocked(cs, target)
		}
	}
}

// failureCascadeLocked applies a failed item's effect on its dependents:
// soft edges resolve, hard edges cascade blocked-failed transitively.
func (s *Store) failureCascadeLocked(cs *changeset, failed *domain.WorkItem) {
	for to, edge := range s.out[failed.ID] {
		target := s.items[to]
		if target == nil {
			continue
		}
		if edge.Policy == domain.PolicySoft {
			s.resolveEdgeLocked(cs, target)
			continue
		}
		s.blockFailLocked(cs, target, failed.ID)
	}
}

// blockFailLocked marks an item blocked-failed because a hard predecessor
// failed, then cascades through its own out-edges. Items already handed to
// a worker are left to finish on their own report.
func (s *Store) blockFailLocked(cs *changeset, item *domain.WorkItem, causeID string) {
	if item.State != domain.ItemPending && item.State != domain.ItemReady {
		return
	}
	item.FailureReason = domain.ReasonDependencyFailed + ":" + causeID
	s.setStateLocked(cs, item, domain.ItemBlockedFailed)
	s.failureCascadeLocked(cs, item)
}

func (s *Store) publishDepthsLocked() {
	s.metrics.SetQueueDepths(
		s.counts[domain.ItemPending],
		s.counts[domain.ItemReady],
		s.counts[domain.ItemDispatched]+s.counts[domain.ItemRunning],
	)
}

// commit applies a changeset outside the lock: repository write-through,
// audit events, and the frontier-changed callback. Repository writes are
// last-write-wins per entity; failures are logged and the in-memory graph
// stays authoritative.
func (s *Store) commit(ctx context.Context, cs *changeset) {
	for _, item := range cs.items {
		if err := s.repo.SaveItem(ctx, item); err != nil {
			s.logger.Error("failed to persist work item",
				zap.String("item_id", item.ID),
				zap.Error(err))
		}
	}
	for _, edge := range cs.edges {
		if err := s.repo.SaveEdge(ctx, edge); err != nil {
			s.logger.Error("failed to persist edge",
				zap.String("from", edge.From),
				zap.String("to", edge.To),
				zap.Error(err))
		}
	}
	for _, key := range cs.deletedEdges {
		if err := s.repo.DeleteEdge(ctx, key[0], key[1]); err != nil {
			s.logger.Error("failed to delete edge",
				zap.String("from", key[0]),
				zap.String("to", key[1]),
				zap.Error(err))
		}
	}
	for _, id := range cs.deletedItems {
		if err := s.repo.DeleteItem(ctx, id); err != nil {
			s.logger.Error("failed to delete work item",
				zap.String("item_id", id),
				zap.Error(err))
		}
	}
	for _, event := range cs.events {
		if err := s.bus.Publish(ctx, ports.TopicItems, event); err != nil {
			s.logger.Warn("failed to publish item event",
				zap.String("event_type", event.Type),
				zap.String("subject", event.Subject),
				zap.Error(err))
		}
	}
	if cs.wake && s.onChange != nil {
		s.onChange()
	}
}

// edgeResolved reports whether an edge no longer gates its target: the
// source succeeded, or reached a non-success terminal state on a soft edge.
func edgeResolved(source domain.ItemState, policy domain.EdgePolicy) bool {
	if source.Succeeded() {
		return true
	}
	return source.Terminal() && policy == domain.PolicySoft
}

func failedState(s domain.ItemState) bool {
	return s == domain.ItemFailed || s == domain.ItemBlockedFailed
}

func sortByCreation(items []*domain.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
