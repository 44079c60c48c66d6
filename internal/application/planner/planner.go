package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// fallbackTitleLimit is how many runes of the description survive into the
// fallback node's title when a proposal cannot be parsed.
const fallbackTitleLimit = 80

// Builder turns a natural-language project description into a materialized
// work graph. The model's reply is untrusted text: it is parsed against a
// strict node schema, and any mismatch falls back to a single-node graph so
// graph generation never fails outright.
type Builder struct {
	llm            ports.LLMClient
	runtime        ports.WorkflowRuntime
	store          GraphWriter
	maxTokens      int
	requestTimeout time.Duration
	metrics        ports.MetricsCollector
	logger         *zap.Logger
}

// GraphWriter is the slice of the orchestrator store materialization needs:
// inserting an item together with its incoming edges, atomically.
type GraphWriter interface {
	InsertWithDeps(ctx context.Context, item *domain.WorkItem, deps []domain.Edge) error
}

// NewBuilder creates a graph builder. requestTimeout bounds each model call
// even when the caller's context carries no deadline; <= 0 defaults to two
// minutes.
func NewBuilder(
	llm ports.LLMClient,
	runtime ports.WorkflowRuntime,
	store GraphWriter,
	maxTokens int,
	requestTimeout time.Duration,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Builder {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}
	return &Builder{
		llm:            llm,
		runtime:        runtime,
		store:          store,
		maxTokens:      maxTokens,
		requestTimeout: requestTimeout,
		metrics:        metrics,
		logger:         logger,
	}
}

// GenerateFromDescription asks the model for a task breakdown of the
// description, constrained to the workflow catalog. The returned nodes are
// topologically ordered, so a node's dependencies always precede it. Any
// model or parse failure yields the single-node fallback graph, never an
// error.
func (b *Builder) GenerateFromDescription(ctx context.Context, description string) ([]domain.GraphNode, error) {
	catalog, err := b.runtime.Catalog(ctx)
	if err != nil {
		b.logger.Warn("workflow catalog unavailable, prompting without it", zap.Error(err))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	start := time.Now()
	resp, err := b.llm.Complete(callCtx, &domain.LLMRequest{
		Tier:      domain.TierBalanced,
		MaxTokens: b.maxTokens,
		System:    proposalSystemPrompt,
		Messages: []domain.LLMMessage{
			{Role: "user", Content: buildProposalPrompt(description, catalog)},
		},
	})
	cancel()
	b.metrics.RecordLLMCall(string(domain.TierBalanced), time.Since(start), err != nil)
	if err != nil {
		b.logger.Warn("graph proposal call failed, using fallback graph", zap.Error(err))
		return b.fallbackGraph(description), nil
	}

	nodes, err := ParseProposal(resp.Content)
	if err != nil {
		b.logger.Warn("graph proposal rejected, using fallback graph", zap.Error(err))
		return b.fallbackGraph(description), nil
	}

	b.logger.Info("graph proposal accepted", zap.Int("nodes", len(nodes)))
	return nodes, nil
}

// MaterializeGraph creates a work item for every node carrying a workflow id
// (in input order, delegating creation to the workflow runtime) and wires a
// blocks edge for each dependency whose source node was itself materialized.
// Nodes without a workflow id are informational and skipped. A node and its
// edges land in the graph as one atomic insert. Returns the created item ids
// in creation order.
func (b *Builder) MaterializeGraph(ctx context.Context, nodes []domain.GraphNode) ([]string, error) {
	idMap := make(map[string]string, len(nodes))
	created := make([]string, 0, len(nodes))

	for i := range nodes {
		node := &nodes[i]
		if node.WorkflowID == "" {
			b.logger.Debug("skipping informational node", zap.String("node_id", node.ID))
			continue
		}

		item, err := b.runtime.CreateWorkItem(ctx, node.WorkflowID, ports.ItemMeta{
			Title:       node.Title,
			Description: node.Description,
			Stage:       node.Stage,
		}, "", node.Affinity)
		if err != nil {
			return created, fmt.Errorf("create item for node %q: %w", node.ID, err)
		}

		var deps []domain.Edge
		for _, dep := range node.DependsOn {
			srcID, ok := idMap[dep]
			if !ok {
				// dependency on an informational or unmaterialized node
				continue
			}
			deps = append(deps, domain.Edge{
				From:   srcID,
				To:     item.ID,
				Kind:   domain.EdgeBlocks,
				Policy: domain.PolicyHard,
			})
		}

		if err := b.store.InsertWithDeps(ctx, item, deps); err != nil {
			return created, fmt.Errorf("insert item for node %q: %w", node.ID, err)
		}
		idMap[node.ID] = item.ID
		created = append(created, item.ID)
	}

	b.logger.Info("graph materialized",
		zap.Int("nodes", len(nodes)),
		zap.Int("items", len(created)))
	return created, nil
}

// fallbackGraph is the recovery path for an unusable proposal: one node
// titled with the truncated description. It carries no workflow id, so it is
// surfaced for operator review rather than silently executed.
func (b *Builder) fallbackGraph(description string) []domain.GraphNode {
	title := description
	if runes := []rune(title); len(runes) > fallbackTitleLimit {
		title = string(runes[:fallbackTitleLimit])
	}
	return []domain.GraphNode{{
		ID:          "fallback",
		Title:       title,
		Description: description,
	}}
}

// ParseProposal extracts the first JSON array from the model's reply and
// validates it as a graph proposal: known fields only, titles and unique ids
// on every node, dependency references that resolve, and no cycles. The
// result is reordered so dependencies precede their dependents.
func ParseProposal(response string) ([]domain.GraphNode, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, &domain.MalformedProposalError{Reason: "no JSON array in response"}
	}

	dec := json.NewDecoder(strings.NewReader(response[jsonStart : jsonEnd+1]))
	dec.DisallowUnknownFields()
	var nodes []domain.GraphNode
	if err := dec.Decode(&nodes); err != nil {
		return nil, &domain.MalformedProposalError{Reason: "invalid node schema: " + err.Error()}
	}
	if len(nodes) == 0 {
		return nil, &domain.MalformedProposalError{Reason: "empty node list"}
	}

	index := make(map[string]int, len(nodes))
	for i, node := range nodes {
		if node.ID == "" {
			return nil, &domain.MalformedProposalError{Reason: fmt.Sprintf("node %d has no id", i)}
		}
		if node.Title == "" {
			return nil, &domain.MalformedProposalError{Reason: fmt.Sprintf("node %q has no title", node.ID)}
		}
		if _, dup := index[node.ID]; dup {
			return nil, &domain.MalformedProposalError{Reason: fmt.Sprintf("duplicate node id %q", node.ID)}
		}
		index[node.ID] = i
	}
	for _, node := range nodes {
		for _, dep := range node.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, &domain.MalformedProposalError{Reason: fmt.Sprintf("node %q depends on unknown node %q", node.ID, dep)}
			}
			if dep == node.ID {
				return nil, &domain.MalformedProposalError{Reason: fmt.Sprintf("node %q depends on itself", node.ID)}
			}
		}
	}

	ordered, ok := topoSort(nodes, index)
	if !ok {
		return nil, &domain.MalformedProposalError{Reason: "dependency cycle in proposal"}
	}
	return ordered, nil
}

// topoSort orders nodes so every dependency precedes its dependents,
// breaking ties by input position. Reports false on a cycle.
func topoSort(nodes []domain.GraphNode, index map[string]int) ([]domain.GraphNode, bool) {
	remaining := make(map[int]int, len(nodes)) // node index -> unmet deps
	dependents := make(map[int][]int, len(nodes))
	for i, node := range nodes {
		remaining[i] = len(node.DependsOn)
		for _, dep := range node.DependsOn {
			dependents[index[dep]] = append(dependents[index[dep]], i)
		}
	}

	ordered := make([]domain.GraphNode, 0, len(nodes))
	for len(ordered) < len(nodes) {
		next := -1
		for i := range nodes {
			if remaining[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, false
		}
		remaining[next] = -1
		ordered = append(ordered, nodes[next])
		for _, dep := range dependents[next] {
			remaining[dep]--
		}
	}
	return ordered, true
}
