package domain

import (
	"errors"
	"fmt"
)

// Not-found sentinels returned by repositories.
var (
	ErrItemNotFound    = errors.New("work item not found")
	ErrTriggerNotFound = errors.New("trigger not found")
)

// CycleError rejects a dependency that would make the graph cyclic.
// From is the would-be blocking item, To the dependent one.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would close a cycle", e.From, e.To)
}

// UnknownNodeError reports a graph operation referencing an id that has no
// work item behind it.
type UnknownNodeError struct {
	ID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown work item %q", e.ID)
}

// InvalidTransitionError reports a compare-and-set state transition whose
// expected source state no longer held.
type InvalidTransitionError struct {
	ID   string
	Have ItemState
	To   ItemState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("item %s: cannot enter %s from %s", e.ID, e.To, e.Have)
}

// MalformedTriggerError reports an unparseable cron expression. Rejected at
// trigger creation; a stored trigger that turns malformed is disabled with
// the error recorded, never silently skipped.
type MalformedTriggerError struct {
	Expr string
	Err  error
}

func (e *MalformedTriggerError) Error() string {
	return fmt.Sprintf("malformed trigger expression %q: %v", e.Expr, e.Err)
}

func (e *MalformedTriggerError) Unwrap() error { return e.Err }

// MalformedProposalError reports a model graph proposal that failed strict
// validation. The planner recovers with a single-node fallback graph; the
// error itself only reaches logs.
type MalformedProposalError struct {
	Reason string
}

func (e *MalformedProposalError) Error() string {
	return "malformed graph proposal: " + e.Reason
}
