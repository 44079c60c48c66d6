package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/musterd/muster/internal/application/fleet"
	eventsmem "github.com/musterd/muster/pkg/adapters/events/memory"
	"github.com/musterd/muster/pkg/adapters/metrics/noop"
	"github.com/musterd/muster/pkg/domain"
)

// fakeGateway is a scriptable WorkerGateway: a pool of idle worker ids with
// optional affinity tags, and an optional send failure.
type fakeGateway struct {
	mu        sync.Mutex
	idle      map[string]string // worker id -> affinity tag ("" matches all)
	tags      map[string]string
	reserved  map[string]string // worker id -> item id
	sent      []*domain.Outbound
	sentTo    []string
	abandoned []string
	failSend  map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		idle:     make(map[string]string),
		tags:     make(map[string]string),
		reserved: make(map[string]string),
		failSend: make(map[string]bool),
	}
}

func (g *fakeGateway) addWorker(id, tag string) {
	g.mu.Lock()
	g.idle[id] = tag
	g.tags[id] = tag
	g.mu.Unlock()
}

func (g *fakeGateway) Reserve(affinity, itemID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, tag := range g.idle {
		if affinity != "" && tag != affinity {
			continue
		}
		delete(g.idle, id)
		g.reserved[id] = itemID
		return id, true
	}
	return "", false
}

func (g *fakeGateway) Release(workerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idle[workerID] = g.tags[workerID]
	delete(g.reserved, workerID)
}

func (g *fakeGateway) Abandon(itemID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for workerID, held := range g.reserved {
		if held != itemID {
			continue
		}
		delete(g.reserved, workerID)
		g.idle[workerID] = g.tags[workerID]
		g.abandoned = append(g.abandoned, itemID)
		return true
	}
	return false
}

func (g *fakeGateway) Send(workerID string, frame *domain.Outbound) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSend[workerID] {
		delete(g.reserved, workerID)
		return fmt.Errorf("connection reset")
	}
	g.sent = append(g.sent, frame)
	g.sentTo = append(g.sentTo, workerID)
	return nil
}

func (g *fakeGateway) sentFrames() []*domain.Outbound {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*domain.Outbound(nil), g.sent...)
}

func newTestDispatcher(t *testing.T, maxAttempts int) (*Dispatcher, *fakeGateway, *Store, *Lifecycle) {
	t.Helper()
	s, _ := newTestStore(t)
	lc := NewLifecycle(s, zap.NewNop(), 30*time.Second, maxAttempts)
	r := NewResolver(s, zap.NewNop())
	gw := newFakeGateway()
	d := NewDispatcher(lc, r, gw, time.Second, noop.NewCollector(), zap.NewNop())
	return d, gw, s, lc
}

func TestRunCycleDispatchesReadyItems(t *testing.T) {
	d, gw, s, _ := newTestDispatcher(t, 3)
	ctx := context.Background()

	a := mustInsert(t, s, "a")
	b := mustInsert(t, s, "b")
	gw.addWorker("w1", "")
	gw.addWorker("w2", "")

	require.Equal(t, 2, d.runCycle(ctx, time.Now()))

	frames := gw.sentFrames()
	require.Len(t, frames, 2)
	for _, frame := range frames {
		require.Equal(t, domain.OutboundDispatch, frame.Type)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := s.Get(id)
		require.NoError(t, err)
		require.Equal(t, domain.ItemDispatched, got.State)
		require.Equal(t, 1, got.Attempts)
	}
}

func TestRunCycleWithoutWorkersLeavesItemsReady(t *testing.T) {
	d, gw, s, _ := newTestDispatcher(t, 3)
	ctx := context.Background()

	item := mustInsert(t, s, "waiting")
	require.Zero(t, d.runCycle(ctx, time.Now()))
	require.Empty(t, gw.sentFrames())

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
}

func TestRunCycleHonorsAffinity(t *testing.T) {
	d, gw, s, _ := newTestDispatcher(t, 3)
	ctx := context.Background()

	item := domain.NewWorkItem("gpu job")
	item.Affinity = "gpu"
	require.NoError(t, s.Insert(ctx, item))
	gw.addWorker("cpu-worker", "cpu")

	require.Zero(t, d.runCycle(ctx, time.Now()))
	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)

	gw.addWorker("gpu-worker", "gpu")
	require.Equal(t, 1, d.runCycle(ctx, time.Now()))
	require.Equal(t, []string{"gpu-worker"}, gw.sentTo)
}

func TestRunCycleSendFailureConsumesOneAttempt(t *testing.T) {
	d, gw, s, _ := newTestDispatcher(t, 3)
	ctx := context.Background()

	item := mustInsert(t, s, "flaky link")
	gw.addWorker("w1", "")
	gw.failSend["w1"] = true

	require.Zero(t, d.runCycle(ctx, time.Now()))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemReady, got.State)
	require.Equal(t, 1, got.Attempts)
}

func TestRunCycleSkipsDependentItems(t *testing.T) {
	d, gw, s, lc := newTestDispatcher(t, 3)
	ctx := context.Background()
	r := NewResolver(s, zap.NewNop())

	a := mustInsert(t, s, "first")
	b := mustInsert(t, s, "second")
	require.NoError(t, r.AddDependency(ctx, b.ID, a.ID, domain.EdgeBlocks, domain.PolicyHard))
	gw.addWorker("w1", "")
	gw.addWorker("w2", "")

	require.Equal(t, 1, d.runCycle(ctx, time.Now()))
	got, err := s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemPending, got.State)

	// finishing a unblocks b for the next cycle
	require.NoError(t, lc.Complete(ctx, a.ID, true, nil, ""))
	require.Equal(t, 1, d.runCycle(ctx, time.Now()))
	got, err = s.Get(b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemDispatched, got.State)
}

func TestRunCycleSweepsOverdueBeforeDispatching(t *testing.T) {
	d, gw, s, lc := newTestDispatcher(t, 3)
	ctx := context.Background()

	item := mustInsert(t, s, "redispatch me")
	_, err := lc.ClaimForDispatch(ctx, item.ID)
	require.NoError(t, err)

	// the same cycle that times the dispatch out hands the item back out
	gw.addWorker("w1", "")
	require.Equal(t, 1, d.runCycle(ctx, time.Now().Add(time.Minute)))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemDispatched, got.State)
	require.Equal(t, 2, got.Attempts)
}

// silentConn is a worker connection that stays alive but never sends a
// frame: reads block until Close, writes are recorded.
type silentConn struct {
	mu     sync.Mutex
	frames []domain.Outbound
	done   chan struct{}
	once   sync.Once
}

func newSilentConn() *silentConn {
	return &silentConn{done: make(chan struct{})}
}

func (c *silentConn) ReadJSON(v interface{}) error {
	<-c.done
	return fmt.Errorf("connection closed")
}

func (c *silentConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if frame, ok := v.(*domain.Outbound); ok {
		c.frames = append(c.frames, *frame)
	}
	return nil
}

func (c *silentConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *silentConn) dispatchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, frame := range c.frames {
		if frame.Type == domain.OutboundDispatch {
			n++
		}
	}
	return n
}

func TestAckTimeoutRedispatchesThroughHub(t *testing.T) {
	s, _ := newTestStore(t)
	lc := NewLifecycle(s, zap.NewNop(), 30*time.Second, 3)
	r := NewResolver(s, zap.NewNop())
	hub := fleet.NewHub(lc, time.Minute, time.Minute, eventsmem.NewBus(), noop.NewCollector(), zap.NewNop())
	d := NewDispatcher(lc, r, hub, time.Second, noop.NewCollector(), zap.NewNop())
	ctx := context.Background()

	conn := newSilentConn()
	t.Cleanup(func() { _ = conn.Close() })
	_, err := hub.Register(conn, "silent", nil)
	require.NoError(t, err)

	item := mustInsert(t, s, "stuck dispatch")
	require.Equal(t, 1, d.runCycle(ctx, time.Now()))
	require.Equal(t, 1, conn.dispatchCount())

	// the worker holds the dispatch without acking; the overdue sweep
	// frees its hub assignment and the same cycle redispatches
	require.Equal(t, 1, d.runCycle(ctx, time.Now().Add(time.Minute)))
	require.Equal(t, 2, conn.dispatchCount())

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemDispatched, got.State)
	require.Equal(t, 2, got.Attempts)
}

func TestRunCycleFreesWorkerOnAckTimeout(t *testing.T) {
	d, gw, s, _ := newTestDispatcher(t, 3)
	ctx := context.Background()

	item := mustInsert(t, s, "never acked")
	gw.addWorker("w1", "")
	require.Equal(t, 1, d.runCycle(ctx, time.Now()))

	// the worker stays connected but never acks; the sweep frees its
	// assignment and the same cycle hands the item out again
	require.Equal(t, 1, d.runCycle(ctx, time.Now().Add(time.Minute)))
	require.Equal(t, []string{item.ID}, gw.abandoned)
	require.Equal(t, []string{"w1", "w1"}, gw.sentTo)

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ItemDispatched, got.State)
	require.Equal(t, 2, got.Attempts)
}
