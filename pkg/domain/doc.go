// Package domain holds the entities shared across the engine: work items
// and their lifecycle states, dependency edges, graph proposals, triggers,
// fleet records, and the worker wire protocol.
package domain
