package domain

// GraphNode is one node of a proposed task graph, before materialization.
// IDs are graph-local labels; DependsOn references other nodes of the same
// proposal. Nodes without a workflow id are informational and are not
// materialized. Proposals are transient and never persisted as such, except
// inside trigger templates.
type GraphNode struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	WorkflowID  string   `json:"workflowId,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	Affinity    string   `json:"affinity,omitempty"`
	DependsOn   []string `json:"dependsOn,omitempty"`
}
