package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/musterd/muster/pkg/ports"
)

func TestPublishReachesTopicSubscribers(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var itemEvents, fleetEvents []ports.Event
	require.NoError(t, bus.Subscribe(ctx, ports.TopicItems, func(ctx context.Context, e ports.Event) error {
		itemEvents = append(itemEvents, e)
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, ports.TopicFleet, func(ctx context.Context, e ports.Event) error {
		fleetEvents = append(fleetEvents, e)
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, ports.TopicItems, ports.NewEvent("item.state", "id-1", nil)))
	require.Len(t, itemEvents, 1)
	require.Equal(t, "item.state", itemEvents[0].Type)
	require.Equal(t, "id-1", itemEvents[0].Subject)
	require.Empty(t, fleetEvents)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	delivered := 0
	require.NoError(t, bus.Subscribe(ctx, ports.TopicItems, func(ctx context.Context, e ports.Event) error {
		delivered++
		return nil
	}))
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Publish(ctx, ports.TopicItems, ports.NewEvent("item.state", "id-1", nil)))
	require.Zero(t, delivered)
}
