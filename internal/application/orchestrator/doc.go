// Package orchestrator implements the work-graph engine: the durable-backed
// item registry, dependency resolution, the work-item state machine, and the
// dispatch loop.
//
// The four pieces share one critical section:
//   - Store holds items and edges in memory and writes mutations through to
//     the repository
//   - Resolver keeps per-item counts of unresolved predecessors and owns the
//     pending/ready boundary
//   - Lifecycle applies compare-and-set state transitions and the failure
//     cascade
//   - Dispatcher pairs the ready frontier with idle workers in a
//     deterministic order
//
// Blocking work (worker sends, repository writes, event publication) always
// happens outside the lock, applied from a changeset after the in-memory
// mutation commits.
package orchestrator
