package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// Lifecycle drives work items through their state machine:
//
//	pending -> ready -> dispatched -> running -> completed | failed
//
// plus cancelled (from any non-terminal state) and blocked-failed (cascaded
// from a failed hard predecessor). Every transition is a compare-and-set
// under the store's mutex, so racing callers lose cleanly instead of
// double-applying an effect. Dispatched items carry an ack deadline; a
// worker that never acks sends the item back through the retry path until
// the attempt budget runs out.
type Lifecycle struct {
	store       *Store
	logger      *zap.Logger
	ackTimeout  time.Duration
	maxAttempts int
}

// NewLifecycle creates the lifecycle over a store. ackTimeout bounds how
// long a dispatch may stay unacknowledged; maxAttempts bounds dispatches per
// item before it fails with dispatch-timeout-exceeded.
func NewLifecycle(store *Store, logger *zap.Logger, ackTimeout time.Duration, maxAttempts int) *Lifecycle {
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Lifecycle{
		store:       store,
		logger:      logger,
		ackTimeout:  ackTimeout,
		maxAttempts: maxAttempts,
	}
}

// ClaimForDispatch moves a ready item to dispatched and starts its ack
// clock. The returned snapshot carries the attempt number for the dispatch
// frame. Exactly one racing claimer wins; the rest get
// InvalidTransitionError.
func (l *Lifecycle) ClaimForDispatch(ctx context.Context, itemID string) (*domain.WorkItem, error) {
	s := l.store
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrItemNotFound
	}
	if item.State != domain.ItemReady {
		have := item.State
		s.mu.Unlock()
		return nil, &domain.InvalidTransitionError{ID: itemID, Have: have, To: domain.ItemDispatched}
	}

	cs := &changeset{}
	item.Attempts++
	s.setStateLocked(cs, item, domain.ItemDispatched)
	s.deadline[itemID] = time.Now().Add(l.ackTimeout)
	snapshot := item.Clone()
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	return snapshot, nil
}

// Acknowledge records a worker's dispatch ack, stopping the ack clock.
func (l *Lifecycle) Acknowledge(ctx context.Context, itemID string) error {
	s := l.store
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrItemNotFound
	}
	if item.State != domain.ItemDispatched {
		have := item.State
		s.mu.Unlock()
		return &domain.InvalidTransitionError{ID: itemID, Have: have, To: domain.ItemRunning}
	}

	cs := &changeset{}
	delete(s.deadline, itemID)
	s.setStateLocked(cs, item, domain.ItemRunning)
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	return nil
}

// Complete records a worker's result and resolves the item's dependents. A
// result for a running item is the normal path; a result while still
// dispatched counts as an implicit ack (the worker raced its own ack).
// Results for anything else (cancelled, requeued, already terminal) are
// discarded; the returned error is for the caller's log.
func (l *Lifecycle) Complete(ctx context.Context, itemID string, success bool, payload json.RawMessage, reason string) error {
	s := l.store
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrItemNotFound
	}
	if item.State != domain.ItemRunning && item.State != domain.ItemDispatched {
		have := item.State
		s.mu.Unlock()
		return &domain.InvalidTransitionError{ID: itemID, Have: have, To: domain.ItemCompleted}
	}

	cs := &changeset{}
	item.Result = payload
	if success {
		s.setStateLocked(cs, item, domain.ItemCompleted)
	} else {
		if reason == "" {
			reason = "worker reported failure"
		}
		item.FailureReason = reason
		s.setStateLocked(cs, item, domain.ItemFailed)
	}
	s.onTerminalLocked(cs, item)
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	l.logger.Info("work item finished",
		zap.String("item_id", itemID),
		zap.Bool("success", success))
	return nil
}

// Cancel stops an item. Pending and ready items are cancelled in place; for
// a dispatched or running item the caller is told to send the worker an
// abandon frame, best-effort; a result that arrives anyway is discarded.
// Soft-dependent items may proceed; hard dependents stay blocked.
func (l *Lifecycle) Cancel(ctx context.Context, itemID string) (notifyWorker bool, err error) {
	s := l.store
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrItemNotFound
	}
	if item.State.Terminal() {
		have := item.State
		s.mu.Unlock()
		return false, &domain.InvalidTransitionError{ID: itemID, Have: have, To: domain.ItemCancelled}
	}
	notifyWorker = item.State == domain.ItemDispatched || item.State == domain.ItemRunning

	cs := &changeset{}
	s.setStateLocked(cs, item, domain.ItemCancelled)
	s.onTerminalLocked(cs, item)
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	l.logger.Info("work item cancelled", zap.String("item_id", itemID))
	return notifyWorker, nil
}

// Requeue returns an undelivered or abandoned dispatch to the queue, failing
// the item once its attempt budget is spent. Used by the ack-timeout sweep,
// worker eviction, and dispatch send failures; those paths can race, and the
// compare-and-set lets exactly one of them act.
func (l *Lifecycle) Requeue(ctx context.Context, itemID, cause string) error {
	s := l.store
	s.mu.Lock()
	item, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrItemNotFound
	}
	if item.State != domain.ItemDispatched && item.State != domain.ItemRunning {
		have := item.State
		s.mu.Unlock()
		return &domain.InvalidTransitionError{ID: itemID, Have: have, To: domain.ItemReady}
	}

	cs := &changeset{}
	l.requeueLocked(cs, item, cause)
	s.publishDepthsLocked()
	s.mu.Unlock()

	s.commit(ctx, cs)
	return nil
}

// RequeueOverdue sweeps dispatched items whose ack deadline passed at now.
// Returns the ids of items sent back to the queue and of items that
// exhausted their budget; a worker may still hold each of them, so the
// caller must free those assignments.
func (l *Lifecycle) RequeueOverdue(ctx context.Context, now time.Time) (requeued, exhausted []string) {
	s := l.store
	s.mu.Lock()
	cs := &changeset{}
	for id, deadline := range s.deadline {
		if now.Before(deadline) {
			continue
		}
		item := s.items[id]
		if item == nil || item.State != domain.ItemDispatched {
			delete(s.deadline, id)
			continue
		}
		if item.Attempts >= l.maxAttempts {
			exhausted = append(exhausted, id)
		} else {
			requeued = append(requeued, id)
		}
		l.requeueLocked(cs, item, "ack timeout")
	}
	if len(requeued)+len(exhausted) > 0 {
		s.publishDepthsLocked()
	}
	s.mu.Unlock()

	s.commit(ctx, cs)
	return requeued, exhausted
}

// requeueLocked applies the shared revert path: back to ready (or pending,
// if a predecessor appeared meanwhile) while attempts remain, failed with
// dispatch-timeout-exceeded once they don't.
func (l *Lifecycle) requeueLocked(cs *changeset, item *domain.WorkItem, cause string) {
	s := l.store
	delete(s.deadline, item.ID)
	if item.Attempts >= l.maxAttempts {
		item.FailureReason = domain.ReasonDispatchTimeout
		s.setStateLocked(cs, item, domain.ItemFailed)
		s.onTerminalLocked(cs, item)
		s.metrics.RecordDispatch(ports.DispatchExhausted)
		l.logger.Warn("dispatch attempt budget exhausted",
			zap.String("item_id", item.ID),
			zap.Int("attempts", item.Attempts),
			zap.String("cause", cause))
		return
	}
	if s.blocking[item.ID] == 0 {
		s.setStateLocked(cs, item, domain.ItemReady)
		cs.wake = true
	} else {
		s.setStateLocked(cs, item, domain.ItemPending)
	}
	s.metrics.RecordDispatch(ports.DispatchRetried)
	l.logger.Info("work item requeued",
		zap.String("item_id", item.ID),
		zap.Int("attempts", item.Attempts),
		zap.String("cause", cause))
}
