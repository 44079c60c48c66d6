// Package ports defines the interfaces between the engine and its
// collaborators: persistence, the language model, the workflow runtime, the
// audit event bus, and metrics. Adapters under pkg/adapters implement them;
// the engine never imports an adapter.
package ports
