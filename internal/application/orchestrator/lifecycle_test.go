package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
)

func newTestLifecycle(t *testing.T, maxAttempts int) (*Lifecycle, *Store) {
	t.Helper()
	s, _ := newTestStore(t)
	return NewLifecycle(s, zap.NewNop(), 30*time.Second, maxAttempts), s
}

func TestClaimForDispatch(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()

	item := mustInsert(t, s, "claim me")
	claimed, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemDispatched, claimed.State)
	require.Equal(t, 1, claimed.Attempts)
}

func TestClaimForDispatchExactlyOnce(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()
	item := mustInsert(t, s, "contested")

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := lc.ClaimForDispatch(ctx, item.ID); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	require.Equal(t, 1, won)

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)
}

func TestAcknowledgeMovesToRunning(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()
	item := mustInsert(t, s, "ack me")

	require.Error(t, lc.Acknowledge(ctx, item.ID)) // not dispatched yet

	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Acknowledge(ctx, item.ID))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemRunning, got.State)
}

func TestCompleteWhileDispatchedIsImplicitAck(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()
	item := mustInsert(t, s, "fast worker")

	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)

	// result arrives before the ack
	payload := json.RawMessage(`{"out":"done"}`)
	require.NoError(t, lc.Complete(ctx, item.ID, true, payload, ""))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemCompleted, got.State)
	require.JSONEq(t, `{"out":"done"}`, string(got.Result))
}

func TestCompleteFailureCascades(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()
	r := NewResolver(s, zap.NewNop())

	a := mustInsert(t, s, "a")
	hard := mustInsert(t, s, "hard dependent")
	soft := mustInsert(t, s, "soft dependent")
	transitive := mustInsert(t, s, "behind the hard dependent")
	require.NoError(t, r.AddDependency(ctx, hard.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, soft.ID, a.ID, domain.EdgeBlocks, domain.PolicySoft))
	require.NoError(t, r.AddDependency(ctx, transitive.ID, hard.ID, domain.EdgeBlocks, domain.PolicyHard))

	_, err := lc.ClaimForDispatch(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Complete(ctx, a.ID, false, nil, "tool crashed"))

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemFailed, got.State)
	require.Equal(t, "tool crashed", got.FailureReason)

	got, err = s.Get(hard.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemBlockedFailed, got.State)
	require.Equal(t, domain.ReasonDependencyFailed+":"+a.ID, got.FailureReason)

	// the cascade is transitive through hard edges
	got, err = s.Get(transitive.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemBlockedFailed, got.State)

	// soft edges resolve instead
	got, err = s.Get(soft.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
}

func TestCancelPendingAndInflight(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()

	idle := mustInsert(t, s, "idle")
	notify, err := lc.Cancel(ctx, idle.ID)
	require.NoError(t, err)
	require.False(t, notify)

	inflight := mustInsert(t, s, "inflight")
	_, err = lc.ClaimForDispatch(ctx, inflight.ID)
	require.NoError(t, err)
	notify, err = lc.Cancel(ctx, inflight.ID)
	require.NoError(t, err)
	require.True(t, notify)

	// a late worker result for the cancelled item is discarded
	var transition *domain.InvalidTransitionError
	require.ErrorAs(t, lc.Complete(ctx, inflight.ID, true, nil, ""), &transition)
	got, err := s.Get(inflight.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemCancelled, got.State)

	// cancelling a terminal item fails
	_, err = lc.Cancel(ctx, inflight.ID)
	require.ErrorAs(t, err, &transition)
}

func TestCancelledPredecessorKeepsHardDependentsPending(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()
	r := NewResolver(s, zap.NewNop())

	a := mustInsert(t, s, "a")
	hard := mustInsert(t, s, "hard")
	soft := mustInsert(t, s, "soft")
	require.NoError(t, r.AddDependency(ctx, hard.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	require.NoError(t, r.AddDependency(ctx, soft.ID, a.ID, domain.EdgeBlocks, domain.PolicySoft))

	_, err := lc.Cancel(ctx, a.ID)
	require.NoError(t, err)

	got, err := s.Get(hard.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemPending, got.State)

	got, err = s.Get(soft.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
}

func TestRequeueReturnsItemToQueue(t *testing.T) {
	lc, s := newTestLifecycle(t, 3)
	ctx := context.Background()
	item := mustInsert(t, s, "abandoned")

	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Requeue(ctx, item.ID, "worker lost"))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
	require.Equal(t, 1, got.Attempts)

	// racing requeuers: only the first acts
	var transition *domain.InvalidTransitionError
	require.ErrorAs(t, lc.Requeue(ctx, item.ID, "worker lost"), &transition)
}

func TestRequeueExhaustsBudget(t *testing.T) {
	lc, s := newTestLifecycle(t, 1)
	ctx := context.Background()
	item := mustInsert(t, s, "one shot")

	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Requeue(ctx, item.ID, "send failed"))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemFailed, got.State)
	require.Equal(t, domain.ReasonDispatchTimeout, got.FailureReason)
}

func TestRequeueOverdueSweep(t *testing.T) {
	lc, s := newTestLifecycle(t, 2)
	ctx := context.Background()
	item := mustInsert(t, s, "silent worker")

	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)

	// not due yet
	requeued, exhausted := lc.RequeueOverdue(ctx, time.Now())
	require.Empty(t, requeued)
	require.Empty(t, exhausted)

	// first overdue pass sends it back to ready
	requeued, exhausted = lc.RequeueOverdue(ctx, time.Now().Add(time.Minute))
	require.Equal(t, []string{item.ID}, requeued)
	require.Empty(t, exhausted)
	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)

	// second dispatch spends the budget; the next overdue pass fails it
	_, err = lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)
	requeued, exhausted = lc.RequeueOverdue(ctx, time.Now().Add(time.Minute))
	require.Empty(t, requeued)
	require.Equal(t, []string{item.ID}, exhausted)
	got, err = s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemFailed, got.State)
	require.Equal(t, domain.ReasonDispatchTimeout, got.FailureReason)
}

func TestAcknowledgedItemSurvivesSweep(t *testing.T) {
	lc, s := newTestLifecycle(t, 2)
	ctx := context.Background()
	item := mustInsert(t, s, "slow but alive")

	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)
	require.NoError(t, lc.Acknowledge(ctx, item.ID))

	requeued, exhausted := lc.RequeueOverdue(ctx, time.Now().Add(time.Hour))
	require.Empty(t, requeued)
	require.Empty(t, exhausted)
	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemRunning, got.State)
}
