package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// WorkerGateway is what the dispatcher needs from the fleet: reserve a
// compatible idle worker, send it a frame, release a reservation whose claim
// lost, and abandon an assignment whose dispatch timed out. A Send failure
// means the gateway has discarded the worker; the dispatcher requeues the
// item itself, which is idempotent against the gateway's own eviction
// requeue.
type WorkerGateway interface {
	Reserve(affinity, itemID string) (workerID string, ok bool)
	Release(workerID string)
	Send(workerID string, frame *domain.Outbound) error
	Abandon(itemID string) bool
}

// Dispatcher pairs ready work with idle workers. It runs on a fixed interval
// and on pokes (item became ready, worker connected, capacity freed); each
// cycle is idempotent and side-effect-free when nothing pairs, so a spurious
// poke costs nothing.
type Dispatcher struct {
	lifecycle *Lifecycle
	resolver  *Resolver
	gateway   WorkerGateway
	interval  time.Duration
	poke      chan struct{}
	metrics   ports.MetricsCollector
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. interval <= 0 defaults to 2s.
func NewDispatcher(
	lifecycle *Lifecycle,
	resolver *Resolver,
	gateway WorkerGateway,
	interval time.Duration,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Dispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		lifecycle: lifecycle,
		resolver:  resolver,
		gateway:   gateway,
		interval:  interval,
		poke:      make(chan struct{}, 1),
		metrics:   metrics,
		logger:    logger,
	}
}

// Poke schedules a dispatch cycle without waiting for the ticker. Safe from
// any goroutine; pokes while a cycle is pending coalesce.
func (d *Dispatcher) Poke() {
	select {
	case d.poke <- struct{}{}:
	default:
	}
}

// Start runs dispatch cycles until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Duration("interval", d.interval))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.poke:
		}
		d.runCycle(ctx, time.Now())
	}
}

// runCycle requeues overdue dispatches, then walks the ready frontier in
// (creation time, id) order pairing each item with a matching idle worker.
// Claiming is a compare-and-set, so concurrent cycles dispatch each item at
// most once.
func (d *Dispatcher) runCycle(ctx context.Context, now time.Time) int {
	requeued, exhausted := d.lifecycle.RequeueOverdue(ctx, now)
	// a silent worker may still hold a timed-out item; freeing the
	// assignment lets this very cycle hand the item back out
	for _, id := range append(append([]string(nil), requeued...), exhausted...) {
		d.gateway.Abandon(id)
	}
	if len(requeued)+len(exhausted) > 0 {
		d.logger.Info("swept overdue dispatches",
			zap.Int("requeued", len(requeued)),
			zap.Int("exhausted", len(exhausted)))
	}

	dispatched := 0
	for _, item := range d.resolver.ReadyFrontier() {
		workerID, ok := d.gateway.Reserve(item.Affinity, item.ID)
		if !ok {
			// no compatible idle worker; the item stays ready
			continue
		}
		claimed, err := d.lifecycle.ClaimForDispatch(ctx, item.ID)
		if err != nil {
			// another cycle won the claim
			d.gateway.Release(workerID)
			continue
		}
		frame, err := domain.NewDispatch(claimed)
		if err != nil {
			d.gateway.Release(workerID)
			_ = d.lifecycle.Requeue(ctx, item.ID, "frame encoding failed")
			d.logger.Error("failed to encode dispatch frame",
				zap.String("item_id", item.ID),
				zap.Error(err))
			continue
		}
		if err := d.gateway.Send(workerID, frame); err != nil {
			_ = d.lifecycle.Requeue(ctx, item.ID, "send failed")
			d.logger.Warn("dispatch send failed",
				zap.String("item_id", item.ID),
				zap.String("worker_id", workerID),
				zap.Error(err))
			continue
		}
		d.metrics.RecordDispatch(ports.DispatchSent)
		d.logger.Info("work item dispatched",
			zap.String("item_id", item.ID),
			zap.String("worker_id", workerID),
			zap.Int("attempt", claimed.Attempts))
		dispatched++
	}
	return dispatched
}
