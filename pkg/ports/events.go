package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Audit topics.
const (
	TopicItems    = "item.events"
	TopicFleet    = "fleet.events"
	TopicTriggers = "trigger.events"
)

// Event is one audit-journal record: something the engine did or observed,
// attributed to a subject (item id, worker id, trigger id).
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType, subject string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes events delivered by a subscription.
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes and consumes audit events. Publication is best-effort:
// the engine logs bus errors and keeps going.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}
