package memory

import (
	"context"
	"sync"

	"github.com/musterd/muster/pkg/ports"
)

// Bus is the in-memory event bus used in tests. Handlers run synchronously
// in Publish, so a test can assert on delivered events immediately after
// publishing.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]ports.EventHandler
	closed      bool
}

// NewBus creates an empty in-memory bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]ports.EventHandler)}
}

// Publish delivers the event to every subscriber of the topic. Handler
// errors are swallowed, matching the best-effort contract.
func (b *Bus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]ports.EventHandler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		_ = handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	return nil
}

// Close drops all subscriptions; later publishes become no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[string][]ports.EventHandler)
	return nil
}
