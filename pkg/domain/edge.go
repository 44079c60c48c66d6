package domain

// EdgeKind classifies a dependency edge. Only "blocks" exists today: the
// target cannot become ready until the source reaches terminal success.
type EdgeKind string

const EdgeBlocks EdgeKind = "blocks"

// EdgePolicy controls what a source failure does to the target.
type EdgePolicy string

const (
	// PolicyHard fails the target (blocked-failed) when the source fails.
	PolicyHard EdgePolicy = "hard"
	// PolicySoft lets the target proceed once its other predecessors resolve.
	PolicySoft EdgePolicy = "soft"
)

// Edge is a directed dependency between two work items: From blocks To.
type Edge struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Kind   EdgeKind   `json:"kind"`
	Policy EdgePolicy `json:"policy"`
}
