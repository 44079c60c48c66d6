package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
)

const (
	itemKeyPrefix    = "muster:item:"
	edgeKeyPrefix    = "muster:edge:"
	triggerKeyPrefix = "muster:trigger:"
	workflowIndexFmt = "muster:items:workflow:%s"
)

// Repository persists work items, edges, and triggers as JSON values in
// Redis. Items are indexed per workflow through a set; terminal items may
// carry a TTL so the store does not grow without bound.
type Repository struct {
	client      *redis.Client
	terminalTTL time.Duration
	logger      *zap.Logger
}

// Option configures the repository.
type Option func(*Repository)

// WithTerminalTTL expires terminal work items after ttl. Zero keeps them
// forever.
func WithTerminalTTL(ttl time.Duration) Option {
	return func(r *Repository) { r.terminalTTL = ttl }
}

// NewRepository creates a Redis-backed repository on an existing client.
func NewRepository(client *redis.Client, logger *zap.Logger, opts ...Option) *Repository {
	r := &Repository{client: client, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SaveItem writes one work item. Terminal items pick up the configured TTL.
func (r *Repository) SaveItem(ctx context.Context, item *domain.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	var ttl time.Duration
	if item.State.Terminal() {
		ttl = r.terminalTTL
	}
	if err := r.client.Set(ctx, itemKeyPrefix+item.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	if item.WorkflowID != "" {
		if err := r.client.SAdd(ctx, workflowIndexKey(item.WorkflowID), item.ID).Err(); err != nil {
			return fmt.Errorf("index item: %w", err)
		}
	}
	return nil
}

// GetItem reads one work item.
func (r *Repository) GetItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	data, err := r.client.Get(ctx, itemKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	var item domain.WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &item, nil
}

// ListItems returns every stored work item.
func (r *Repository) ListItems(ctx context.Context) ([]*domain.WorkItem, error) {
	keys, err := r.scan(ctx, itemKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	items := make([]*domain.WorkItem, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, fmt.Errorf("get item %s: %w", key, err)
		}
		var item domain.WorkItem
		if err := json.Unmarshal(data, &item); err != nil {
			r.logger.Warn("dropping undecodable item record", zap.String("key", key), zap.Error(err))
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// ListItemsByWorkflow returns the items indexed under one workflow.
func (r *Repository) ListItemsByWorkflow(ctx context.Context, workflowID string) ([]*domain.WorkItem, error) {
	ids, err := r.client.SMembers(ctx, workflowIndexKey(workflowID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read workflow index: %w", err)
	}
	items := make([]*domain.WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := r.GetItem(ctx, id)
		if err != nil {
			if err == domain.ErrItemNotFound {
				// expired item still in the index
				_ = r.client.SRem(ctx, workflowIndexKey(workflowID), id).Err()
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// DeleteItem removes one work item and its index entry.
func (r *Repository) DeleteItem(ctx context.Context, id string) error {
	item, err := r.GetItem(ctx, id)
	if err == nil && item.WorkflowID != "" {
		_ = r.client.SRem(ctx, workflowIndexKey(item.WorkflowID), id).Err()
	}
	if err := r.client.Del(ctx, itemKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// SaveEdge writes one dependency edge.
func (r *Repository) SaveEdge(ctx context.Context, edge *domain.Edge) error {
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("marshal edge: %w", err)
	}
	if err := r.client.Set(ctx, edgeKey(edge.From, edge.To), data, 0).Err(); err != nil {
		return fmt.Errorf("save edge: %w", err)
	}
	return nil
}

// DeleteEdge removes one edge; deleting a missing edge is a no-op.
func (r *Repository) DeleteEdge(ctx context.Context, from, to string) error {
	if err := r.client.Del(ctx, edgeKey(from, to)).Err(); err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

// ListEdges returns every stored edge.
func (r *Repository) ListEdges(ctx context.Context) ([]*domain.Edge, error) {
	keys, err := r.scan(ctx, edgeKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	edges := make([]*domain.Edge, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("get edge %s: %w", key, err)
		}
		var edge domain.Edge
		if err := json.Unmarshal(data, &edge); err != nil {
			r.logger.Warn("dropping undecodable edge record", zap.String("key", key), zap.Error(err))
			continue
		}
		edges = append(edges, &edge)
	}
	return edges, nil
}

// SaveTrigger writes one trigger.
func (r *Repository) SaveTrigger(ctx context.Context, trigger *domain.Trigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if err := r.client.Set(ctx, triggerKeyPrefix+trigger.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("save trigger: %w", err)
	}
	return nil
}

// GetTrigger reads one trigger.
func (r *Repository) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	data, err := r.client.Get(ctx, triggerKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	var trigger domain.Trigger
	if err := json.Unmarshal(data, &trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	return &trigger, nil
}

// ListTriggers returns every stored trigger.
func (r *Repository) ListTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	keys, err := r.scan(ctx, triggerKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	triggers := make([]*domain.Trigger, 0, len(keys))
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("get trigger %s: %w", key, err)
		}
		var trigger domain.Trigger
		if err := json.Unmarshal(data, &trigger); err != nil {
			r.logger.Warn("dropping undecodable trigger record", zap.String("key", key), zap.Error(err))
			continue
		}
		triggers = append(triggers, &trigger)
	}
	return triggers, nil
}

// DeleteTrigger removes one trigger.
func (r *Repository) DeleteTrigger(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, triggerKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return nil
}

// scan collects every key matching the pattern with cursor-based SCAN, never
// KEYS, so listing stays safe on a shared Redis.
func (r *Repository) scan(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func edgeKey(from, to string) string {
	return edgeKeyPrefix + from + ":" + to
}

func workflowIndexKey(workflowID string) string {
	return fmt.Sprintf(workflowIndexFmt, strings.TrimSpace(workflowID))
}
