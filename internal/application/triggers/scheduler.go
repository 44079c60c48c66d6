package triggers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

// Materializer is the slice of the planner the scheduler fires through.
type Materializer interface {
	GenerateFromDescription(ctx context.Context, description string) ([]domain.GraphNode, error)
	MaterializeGraph(ctx context.Context, nodes []domain.GraphNode) ([]string, error)
}

// Scheduler fires persisted cron triggers. Each tick compares every enabled
// trigger's persisted NextRunAt against the clock, never wall-clock deltas:
// a trigger found due fires, then its next run is recomputed and persisted.
// A crash between firing and persisting leaves the trigger due, so the next
// tick fires it again; triggers are at-least-once by contract.
type Scheduler struct {
	repo    ports.Repository
	builder Materializer
	tick    time.Duration
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger
	now     func() time.Time
}

// NewScheduler creates a trigger scheduler. tick <= 0 defaults to one
// minute, the resolution of five-field cron expressions.
func NewScheduler(
	repo ports.Repository,
	builder Materializer,
	tick time.Duration,
	bus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Scheduler{
		repo:    repo,
		builder: builder,
		tick:    tick,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// NextRun returns the earliest instant strictly after the given time that
// matches the five-field cron expression, or MalformedTriggerError if the
// expression does not parse.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, &domain.MalformedTriggerError{Expr: expr, Err: err}
	}
	return sched.Next(after), nil
}

// Create validates the expression, computes the first run, and persists the
// trigger. A trigger carries either a stored node template or a description
// the planner expands at fire time.
func (s *Scheduler) Create(ctx context.Context, name, expr, description string, template []domain.GraphNode) (*domain.Trigger, error) {
	trigger := domain.NewTrigger(name, expr)
	trigger.Description = description
	trigger.Template = template

	next, err := NextRun(expr, s.now().UTC())
	if err != nil {
		return nil, err
	}
	trigger.NextRunAt = next

	if err := s.repo.SaveTrigger(ctx, trigger); err != nil {
		return nil, fmt.Errorf("save trigger: %w", err)
	}
	s.logger.Info("trigger created",
		zap.String("trigger_id", trigger.ID),
		zap.String("name", name),
		zap.String("expr", expr),
		zap.Time("next_run_at", next))
	s.publishEvent(ctx, "trigger.created", trigger.ID, map[string]interface{}{
		"name": name,
		"expr": expr,
	})
	return trigger, nil
}

// Get returns one trigger.
func (s *Scheduler) Get(ctx context.Context, id string) (*domain.Trigger, error) {
	return s.repo.GetTrigger(ctx, id)
}

// List returns every persisted trigger.
func (s *Scheduler) List(ctx context.Context) ([]*domain.Trigger, error) {
	return s.repo.ListTriggers(ctx)
}

// SetEnabled flips a trigger on or off. Re-enabling recomputes the next run
// from now, so a backlog of missed runs does not fire retroactively.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) (*domain.Trigger, error) {
	trigger, err := s.repo.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	trigger.Enabled = enabled
	trigger.UpdatedAt = s.now().UTC()
	if enabled {
		next, err := NextRun(trigger.Expr, s.now().UTC())
		if err != nil {
			return nil, err
		}
		trigger.NextRunAt = next
		trigger.LastError = ""
	}
	if err := s.repo.SaveTrigger(ctx, trigger); err != nil {
		return nil, fmt.Errorf("save trigger: %w", err)
	}
	return trigger, nil
}

// Delete removes a trigger; it stops firing at the next tick.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteTrigger(ctx, id); err != nil {
		return err
	}
	s.publishEvent(ctx, "trigger.deleted", id, nil)
	return nil
}

// Run polls for due triggers until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("trigger scheduler started", zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("trigger scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every enabled trigger whose persisted NextRunAt is due.
func (s *Scheduler) Tick(ctx context.Context) {
	triggers, err := s.repo.ListTriggers(ctx)
	if err != nil {
		s.logger.Error("failed to list triggers", zap.Error(err))
		return
	}

	now := s.now().UTC()
	for _, trigger := range triggers {
		if !trigger.Enabled || trigger.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, trigger, now)
	}
}

// fire materializes the trigger's graph, then recomputes and persists the
// next run. A stored expression that no longer parses disables the trigger
// with the error recorded instead of skipping it silently forever.
func (s *Scheduler) fire(ctx context.Context, trigger *domain.Trigger, now time.Time) {
	next, err := NextRun(trigger.Expr, now)
	if err != nil {
		s.logger.Error("stored trigger expression is malformed, disabling",
			zap.String("trigger_id", trigger.ID),
			zap.String("expr", trigger.Expr),
			zap.Error(err))
		s.metrics.RecordTriggerFire(ports.TriggerFireMalformed)
		trigger.Enabled = false
		trigger.LastError = err.Error()
		trigger.UpdatedAt = now
		s.save(ctx, trigger)
		return
	}

	nodes := trigger.Template
	if len(nodes) == 0 {
		// generation is fallback-protected and cannot fail on model output
		nodes, err = s.builder.GenerateFromDescription(ctx, trigger.Description)
		if err != nil {
			s.recordFireError(ctx, trigger, now, fmt.Errorf("generate graph: %w", err))
			return
		}
	}

	itemIDs, err := s.builder.MaterializeGraph(ctx, nodes)
	if err != nil {
		s.recordFireError(ctx, trigger, now, fmt.Errorf("materialize graph: %w", err))
		return
	}

	fired := now
	trigger.LastRunAt = &fired
	trigger.LastError = ""
	trigger.NextRunAt = next
	trigger.UpdatedAt = now
	s.save(ctx, trigger)

	s.metrics.RecordTriggerFire(ports.TriggerFireOK)
	s.logger.Info("trigger fired",
		zap.String("trigger_id", trigger.ID),
		zap.String("name", trigger.Name),
		zap.Int("items", len(itemIDs)),
		zap.Time("next_run_at", next))
	s.publishEvent(ctx, "trigger.fired", trigger.ID, map[string]interface{}{
		"items":       len(itemIDs),
		"next_run_at": next,
	})
}

// recordFireError keeps the trigger due, so the next tick retries the fire.
func (s *Scheduler) recordFireError(ctx context.Context, trigger *domain.Trigger, now time.Time, err error) {
	s.metrics.RecordTriggerFire(ports.TriggerFireError)
	s.logger.Error("trigger fire failed",
		zap.String("trigger_id", trigger.ID),
		zap.Error(err))
	trigger.LastError = err.Error()
	trigger.UpdatedAt = now
	s.save(ctx, trigger)
}

func (s *Scheduler) save(ctx context.Context, trigger *domain.Trigger) {
	if err := s.repo.SaveTrigger(ctx, trigger); err != nil {
		s.logger.Error("failed to persist trigger",
			zap.String("trigger_id", trigger.ID),
			zap.Error(err))
	}
}

func (s *Scheduler) publishEvent(ctx context.Context, eventType, subject string, data map[string]interface{}) {
	if err := s.bus.Publish(ctx, ports.TopicTriggers, ports.NewEvent(eventType, subject, data)); err != nil {
		s.logger.Warn("failed to publish trigger event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
