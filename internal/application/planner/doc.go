// Package planner builds work graphs from natural-language descriptions.
//
// The builder prompts the model collaborator with the description and the
// workflow catalog, parses the reply against a strict node schema, and
// materializes the accepted proposal through the workflow runtime into the
// orchestrator's graph. Unusable replies degrade to a single-node fallback
// graph; graph generation never fails outright on model output.
package planner
