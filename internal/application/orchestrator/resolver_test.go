package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
)

func newTestResolver(t *testing.T) (*Resolver, *Store) {
	t.Helper()
	s, _ := newTestStore(t)
	return NewResolver(s, zap.NewNop()), s
}

func TestAddDependencyDemotesReadyItem(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := mustInsert(t, s, "a")
	b := mustInsert(t, s, "b")
	require.Equal(t, domain.ItemReady, b.State)

	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))

	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemPending, got.State)
	require.False(t, r.IsReady(b.ID))
}

func TestAddDependencyRejectsSelfReference(t *testing.T) {
	r, s := newTestResolver(t)

	a := mustInsert(t, s, "a")
	err := r.AddDependency(context.Background(), a.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard)

	var cycle *domain.CycleError
	require.ErrorAs(t, err, &cycle)
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := mustInsert(t, s, "a")
	b := mustInsert(t, s, "b")
	c := mustInsert(t, s, "c")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, c.ID, b.ID, domain.EdgeBlocks, domain.PolicyHard))

	// a -> b -> c exists; closing the loop must fail and leave the graph alone
	err := r.AddDependency(ctx, a.ID, c.ID, domain.EdgeBlocks, domain.PolicyHard)
	var cycle *domain.CycleError
	require.ErrorAs(t, err, &cycle)
	require.Len(t, s.Edges(), 2)
}

func TestAddDependencyUnknownEndpoints(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()
	a := mustInsert(t, s, "a")

	var unknown *domain.UnknownNodeError
	require.ErrorAs(t, r.AddDependency(ctx, "ghost", a.ID, domain.EdgeBlocks, ""), &unknown)
	require.ErrorAs(t, r.AddDependency(ctx, a.ID, "ghost", domain.EdgeBlocks, ""), &unknown)
}

func TestAddDependencyIdempotent(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := mustInsert(t, s, "a")
	b := mustInsert(t, s, "b")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))

	require.Len(t, s.Edges(), 1)
	require.Equal(t, 1, s.blocking[b.ID])
}

func TestAddDependencyOnCompletedPredecessorIsResolved(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()
	lc := NewLifecycle(s, zap.NewNop(), 0, 0)

	a := mustInsert(t, s, "a")
	_, err := lc.ClaimForDispatch(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Complete(ctx, a.ID, true, nil, ""))

	b := mustInsert(t, s, "b")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))

	// the edge is born resolved, so b keeps its readiness
	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
}

func TestAddDependencyOnFailedPredecessor(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()
	lc := NewLifecycle(s, zap.NewNop(), 0, 0)

	a := mustInsert(t, s, "a")
	_, err := lc.ClaimForDispatch(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Complete(ctx, a.ID, false, nil, "boom"))

	b := mustInsert(t, s, "hard dependent")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemBlockedFailed, got.State)
	require.Contains(t, got.FailureReason, domain.ReasonDependencyFailed)

	c := mustInsert(t, s, "soft dependent")
	require.NoError(t, r.AddDependency(ctx, c.ID, a.ID, domain.EdgeBlocks, domain.PolicySoft))
	got, err = s.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
}

func TestRemoveDependencyPromotes(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()

	a := mustInsert(t, s, "a")
	b := mustInsert(t, s, "b")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))

	require.NoError(t, r.RemoveDependency(ctx, b.ID, a.ID))
	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)

	// removing again is a no-op
	require.NoError(t, r.RemoveDependency(ctx, b.ID, a.ID))
}

func TestReadyFrontierMatchesFullRecomputation(t *testing.T) {
	r, s := newTestResolver(t)
	ctx := context.Background()
	lc := NewLifecycle(s, zap.NewNop(), 0, 0)

	// diamond: a -> {b, c} -> d, plus a free item e
	a := mustInsert(t, s, "a")
	b := mustInsert(t, s, "b")
	c := mustInsert(t, s, "c")
	d := mustInsert(t, s, "d")
	e := mustInsert(t, s, "e")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, c.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, d.ID, b.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, d.ID, c.ID, domain.EdgeBlocks, domain.PolicyHard))

	frontierIDs := func() []string {
		ids := []string{}
		for _, item := range r.ReadyFrontier() {
			ids = append(ids, item.ID)
		}
		return ids
	}

	// fullWalk recomputes readiness from scratch: non-terminal items whose
	// every incoming edge is resolved, excluding items already in flight.
	fullWalk := func() []string {
		ids := []string{}
		for _, item := range s.List() {
			if item.State.Terminal() || item.State == domain.ItemDispatched || item.State == domain.ItemRunning {
				continue
			}
			blocked := false
			for _, edge := range s.Edges() {
				if edge.To != item.ID {
					continue
				}
				src, err := s.Get(edge.From)
				require.NoError(t, err)
				if !edgeResolved(src.State, edge.Policy) {
					blocked = true
					break
				}
			}
			if !blocked {
				ids = append(ids, item.ID)
			}
		}
		return ids
	}

	finish := func(id string) {
		_, err := lc.ClaimForDispatch(ctx, id)
		require.NoError(t, err)
		require.NoError(t, lc.Complete(ctx, id, true, nil, ""))
	}

	require.Equal(t, fullWalk(), frontierIDs())
	require.ElementsMatch(t, []string{a.ID, e.ID}, frontierIDs())

	finish(a.ID)
	require.Equal(t, fullWalk(), frontierIDs())
	require.ElementsMatch(t, []string{b.ID, c.ID, e.ID}, frontierIDs())

	finish(b.ID)
	require.Equal(t, fullWalk(), frontierIDs())

	finish(c.ID)
	require.Equal(t, fullWalk(), frontierIDs())
	require.Contains(t, frontierIDs(), d.ID)
}
