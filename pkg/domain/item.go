package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ItemState identifies a work item's position in its lifecycle.
// Transitions are monotonic: a terminal state is never left again.
type ItemState string

const (
	ItemPending    ItemState = "pending"
	ItemReady      ItemState = "ready"
	ItemDispatched ItemState = "dispatched"
	ItemRunning    ItemState = "running"
	ItemCompleted  ItemState = "completed"
	ItemFailed     ItemState = "failed"
	ItemCancelled  ItemState = "cancelled"

	// ItemBlockedFailed marks an item that can never run because a
	// hard-policy predecessor failed.
	ItemBlockedFailed ItemState = "blocked-failed"
)

// Terminal reports whether the state can never be left.
func (s ItemState) Terminal() bool {
	switch s {
	case ItemCompleted, ItemFailed, ItemCancelled, ItemBlockedFailed:
		return true
	}
	return false
}

// Succeeded reports whether the state is the successful terminal state.
func (s ItemState) Succeeded() bool { return s == ItemCompleted }

// Failure reasons written by the engine itself. Worker-reported failures
// carry whatever reason the worker sent.
const (
	ReasonDispatchTimeout  = "dispatch-timeout-exceeded"
	ReasonWorkerLost       = "worker-lost"
	ReasonDependencyFailed = "dependency-failed"
)

// WorkItem is one schedulable unit of work. Items belonging to a workflow
// carry the workflow id and a stage label; ad hoc items carry neither.
type WorkItem struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	WorkflowID    string          `json:"workflowId,omitempty"`
	Stage         string          `json:"stage,omitempty"`
	Affinity      string          `json:"affinity,omitempty"`
	State         ItemState       `json:"state"`
	Attempts      int             `json:"attempts"`
	FailureReason string          `json:"failureReason,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// NewWorkItem creates a pending item with a fresh id.
func NewWorkItem(title string) *WorkItem {
	now := time.Now().UTC()
	return &WorkItem{
		ID:        uuid.New().String(),
		Title:     title,
		State:     ItemPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy safe to hand outside the engine's lock. Result is
// shared; callers treat it as immutable.
func (w *WorkItem) Clone() *WorkItem {
	c := *w
	return &c
}
