// Package triggers implements the recurring trigger scheduler.
//
// Triggers pair a five-field cron expression with a graph template (or a
// description the planner expands at fire time). The scheduler polls on a
// fixed interval, firing every enabled trigger whose persisted NextRunAt is
// due and only then persisting the recomputed next run: at-least-once
// across restarts. Malformed stored expressions disable the trigger with
// the parse error recorded.
package triggers
