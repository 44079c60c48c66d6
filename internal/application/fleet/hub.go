package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// ItemSink receives worker-reported progress. Satisfied by the orchestrator
// lifecycle; tests substitute a recorder.
type ItemSink interface {
	Acknowledge(ctx context.Context, itemID string) error
	Complete(ctx context.Context, itemID string, success bool, payload json.RawMessage, reason string) error
	Requeue(ctx context.Context, itemID, cause string) error
}

// node is one connected worker. The hub's mutex guards assignment and
// lastHeartbeat; writeMu serializes frames onto the connection so one slow
// peer never stalls anyone else.
type node struct {
	id            string
	name          string
	tags          []string
	conn          Conn
	writeMu       sync.Mutex
	connectedAt   time.Time
	lastHeartbeat time.Time
	assignment    string
}

func (n *node) matches(affinity string) bool {
	if affinity == "" {
		return true
	}
	for _, tag := range n.tags {
		if tag == affinity {
			return true
		}
	}
	return false
}

// Hub owns every live worker connection: registration, liveness, dispatch
// capacity, and fleet-wide broadcast. A worker holds at most one assignment;
// losing the worker returns that assignment to the queue exactly once,
// because eviction removes the node from the map before touching the item.
type Hub struct {
	mu     sync.Mutex
	nodes  map[string]*node
	closed bool

	sink            ItemSink
	livenessTimeout time.Duration
	sweepInterval   time.Duration

	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	onCapacity func()
}

// NewHub creates an empty hub. livenessTimeout bounds worker silence;
// sweepInterval is how often dead workers are collected.
func NewHub(
	sink ItemSink,
	livenessTimeout, sweepInterval time.Duration,
	bus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Hub {
	if livenessTimeout <= 0 {
		livenessTimeout = 45 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Second
	}
	return &Hub{
		nodes:           make(map[string]*node),
		sink:            sink,
		livenessTimeout: livenessTimeout,
		sweepInterval:   sweepInterval,
		bus:             bus,
		metrics:         metrics,
		logger:          logger,
	}
}

// OnCapacity registers a callback fired whenever dispatch capacity may have
// appeared: a worker joined, finished an item, or had a reservation released.
// Must be set before workers connect.
func (h *Hub) OnCapacity(fn func()) {
	h.onCapacity = fn
}

// Register adds a worker connection to the fleet and starts its read loop.
// Returns the connection-scoped worker id.
func (h *Hub) Register(conn Conn, name string, tags []string) (string, error) {
	now := time.Now().UTC()
	n := &node{
		id:            uuid.New().String(),
		name:          name,
		tags:          tags,
		conn:          conn,
		connectedAt:   now,
		lastHeartbeat: now,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", fmt.Errorf("fleet hub is shut down")
	}
	h.nodes[n.id] = n
	h.publishSizeLocked()
	h.mu.Unlock()

	h.logger.Info("worker joined",
		zap.String("worker_id", n.id),
		zap.String("name", name),
		zap.Strings("tags", tags))
	h.publishEvent("worker.joined", n.id, map[string]interface{}{
		"name": name,
		"tags": tags,
	})

	go h.readLoop(n)
	h.wake()
	return n.id, nil
}

// readLoop consumes inbound frames until the connection dies. Every frame,
// whatever its type, counts as a heartbeat.
func (h *Hub) readLoop(n *node) {
	ctx := context.Background()
	for {
		var frame domain.Inbound
		if err := n.conn.ReadJSON(&frame); err != nil {
			h.drop(n.id, "connection lost")
			return
		}

		h.mu.Lock()
		if _, ok := h.nodes[n.id]; !ok {
			// evicted while the read was in flight
			h.mu.Unlock()
			return
		}
		n.lastHeartbeat = time.Now().UTC()
		h.mu.Unlock()

		switch frame.Type {
		case domain.InboundHeartbeat:
		case domain.InboundAck:
			if err := h.sink.Acknowledge(ctx, frame.ItemID); err != nil {
				h.logger.Debug("stale ack discarded",
					zap.String("worker_id", n.id),
					zap.String("item_id", frame.ItemID),
					zap.Error(err))
			}
		case domain.InboundResult:
			h.handleResult(ctx, n, &frame)
		default:
			h.logger.Warn("unknown inbound frame",
				zap.String("worker_id", n.id),
				zap.String("type", string(frame.Type)))
		}
	}
}

// handleResult frees the worker and reports the outcome. A result for an
// item the worker no longer holds (cancelled, requeued) is discarded.
func (h *Hub) handleResult(ctx context.Context, n *node, frame *domain.Inbound) {
	h.mu.Lock()
	if n.assignment == frame.ItemID {
		n.assignment = ""
	}
	h.mu.Unlock()

	if err := h.sink.Complete(ctx, frame.ItemID, frame.Success, frame.Payload, frame.Reason); err != nil {
		h.logger.Debug("worker result discarded",
			zap.String("worker_id", n.id),
			zap.String("item_id", frame.ItemID),
			zap.Error(err))
	}
	h.wake()
}

// Reserve claims an idle worker whose tags satisfy the affinity hint and
// pencils the item in as its assignment. Among candidates the longest-
// connected worker wins, which keeps dispatch order stable in tests.
func (h *Hub) Reserve(affinity, itemID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var chosen *node
	for _, n := range h.nodes {
		if n.assignment != "" || !n.matches(affinity) {
			continue
		}
		if chosen == nil || n.connectedAt.Before(chosen.connectedAt) {
			chosen = n
		}
	}
	if chosen == nil {
		return "", false
	}
	chosen.assignment = itemID
	return chosen.id, true
}

// Release undoes a reservation whose dispatch claim lost the race.
func (h *Hub) Release(workerID string) {
	h.mu.Lock()
	if n, ok := h.nodes[workerID]; ok {
		n.assignment = ""
	}
	h.mu.Unlock()
	h.wake()
}

// Send writes one frame to a worker. A write error discards the worker
// through the same path as a missed heartbeat.
func (h *Hub) Send(workerID string, frame *domain.Outbound) error {
	h.mu.Lock()
	n, ok := h.nodes[workerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s is not connected", workerID)
	}

	n.writeMu.Lock()
	err := n.conn.WriteJSON(frame)
	n.writeMu.Unlock()
	if err != nil {
		h.drop(workerID, "send failed")
		return fmt.Errorf("send to worker %s: %w", workerID, err)
	}
	return nil
}

// Abandon tells whichever worker holds the item to stop working on it,
// best-effort, and frees the worker for new assignments.
func (h *Hub) Abandon(itemID string) bool {
	h.mu.Lock()
	var holder *node
	for _, n := range h.nodes {
		if n.assignment == itemID {
			holder = n
			break
		}
	}
	if holder != nil {
		holder.assignment = ""
	}
	h.mu.Unlock()
	if holder == nil {
		return false
	}

	go func() {
		if err := h.Send(holder.id, &domain.Outbound{Type: domain.OutboundAbandon, ItemID: itemID}); err != nil {
			h.logger.Debug("abandon frame not delivered",
				zap.String("worker_id", holder.id),
				zap.String("item_id", itemID),
				zap.Error(err))
		}
	}()
	h.wake()
	return true
}

// BroadcastConfig pushes a configuration payload to every connected worker.
// Delivery is best-effort: each send runs independently and a broken
// connection only costs that one worker.
func (h *Hub) BroadcastConfig(payload json.RawMessage) int {
	return h.broadcast("config", &domain.Outbound{Type: domain.OutboundConfig, Payload: payload})
}

// BroadcastUpdate announces a new artifact version to every connected
// worker, best-effort.
func (h *Hub) BroadcastUpdate(version, artifactLocation string) int {
	return h.broadcast("update", &domain.Outbound{
		Type:             domain.OutboundUpdate,
		Version:          version,
		ArtifactLocation: artifactLocation,
	})
}

func (h *Hub) broadcast(kind string, frame *domain.Outbound) int {
	h.mu.Lock()
	targets := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		targets = append(targets, id)
	}
	h.mu.Unlock()

	for _, id := range targets {
		go func(workerID string) {
			if err := h.Send(workerID, frame); err != nil {
				h.logger.Warn("broadcast send failed",
					zap.String("kind", kind),
					zap.String("worker_id", workerID),
					zap.Error(err))
			}
		}(id)
	}

	h.metrics.RecordBroadcast(kind, len(targets))
	h.publishEvent("fleet.broadcast", kind, map[string]interface{}{
		"receivers": len(targets),
	})
	return len(targets)
}

// Workers returns a snapshot of the fleet for the admin surface, ordered by
// connection time.
func (h *Hub) Workers() []domain.WorkerInfo {
	h.mu.Lock()
	infos := make([]domain.WorkerInfo, 0, len(h.nodes))
	for _, n := range h.nodes {
		state := domain.WorkerIdle
		if n.assignment != "" {
			state = domain.WorkerBusy
		}
		infos = append(infos, domain.WorkerInfo{
			ID:            n.id,
			Name:          n.name,
			Tags:          n.tags,
			State:         state,
			Assignment:    n.assignment,
			ConnectedAt:   n.connectedAt,
			LastHeartbeat: n.lastHeartbeat,
		})
	}
	h.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Run sweeps the fleet until the context is cancelled: workers silent past
// the liveness timeout are evicted, and a health summary is logged.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("fleet hub started",
		zap.Duration("liveness_timeout", h.livenessTimeout),
		zap.Duration("sweep_interval", h.sweepInterval))
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("fleet hub stopped")
			return
		case <-ticker.C:
			h.sweep(time.Now().UTC())
		}
	}
}

// sweep evicts workers whose last heartbeat is too old and reports fleet
// health.
func (h *Hub) sweep(now time.Time) {
	h.mu.Lock()
	var dead []string
	idle, busy := 0, 0
	for id, n := range h.nodes {
		if now.Sub(n.lastHeartbeat) > h.livenessTimeout {
			dead = append(dead, id)
			continue
		}
		if n.assignment == "" {
			idle++
		} else {
			busy++
		}
	}
	h.mu.Unlock()

	for _, id := range dead {
		h.metrics.RecordHeartbeatTimeout()
		h.drop(id, "heartbeat timeout")
	}

	h.logger.Debug("fleet health",
		zap.Int("connected", idle+busy),
		zap.Int("idle", idle),
		zap.Int("busy", busy),
		zap.Int("evicted", len(dead)))
	h.metrics.SetFleetSize(idle+busy, idle, busy)
}

// drop removes a worker from the fleet, closes its connection, and returns
// its assignment (if any) to the queue. Removal happens under the mutex
// before anything else, so racing droppers (read error, send error, sweep)
// requeue at most once.
func (h *Hub) drop(workerID, cause string) {
	h.mu.Lock()
	n, ok := h.nodes[workerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.nodes, workerID)
	assignment := n.assignment
	n.assignment = ""
	h.publishSizeLocked()
	h.mu.Unlock()

	_ = n.conn.Close()
	h.logger.Info("worker left",
		zap.String("worker_id", workerID),
		zap.String("cause", cause))
	h.publishEvent("worker.left", workerID, map[string]interface{}{
		"cause":      cause,
		"assignment": assignment,
	})

	if assignment != "" {
		if err := h.sink.Requeue(context.Background(), assignment, "worker lost: "+cause); err != nil {
			h.logger.Debug("abandoned item not requeued",
				zap.String("item_id", assignment),
				zap.Error(err))
		}
	}
	h.wake()
}

// Shutdown closes every worker connection and refuses new registrations.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	remaining := make([]*node, 0, len(h.nodes))
	for _, n := range h.nodes {
		remaining = append(remaining, n)
	}
	h.nodes = make(map[string]*node)
	h.mu.Unlock()

	for _, n := range remaining {
		_ = n.conn.Close()
	}
	h.logger.Info("fleet hub shut down", zap.Int("disconnected", len(remaining)))
	return nil
}

func (h *Hub) wake() {
	if h.onCapacity != nil {
		h.onCapacity()
	}
}

func (h *Hub) publishSizeLocked() {
	idle, busy := 0, 0
	for _, n := range h.nodes {
		if n.assignment == "" {
			idle++
		} else {
			busy++
		}
	}
	h.metrics.SetFleetSize(idle+busy, idle, busy)
}

func (h *Hub) publishEvent(eventType, subject string, data map[string]interface{}) {
	if err := h.bus.Publish(context.Background(), ports.TopicFleet, ports.NewEvent(eventType, subject, data)); err != nil {
		h.logger.Warn("failed to publish fleet event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
