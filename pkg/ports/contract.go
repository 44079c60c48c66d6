package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/musterd/muster/pkg/domain"
)

// RunRepositoryContract exercises the Repository behavior every adapter must
// satisfy. Both the Redis and in-memory adapters run it from their tests.
func RunRepositoryContract(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("items", func(t *testing.T) {
		_, err := repo.GetItem(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrItemNotFound)

		item := domain.NewWorkItem("build artifact")
		item.WorkflowID = "wf-release"
		item.Stage = "build"
		require.NoError(t, repo.SaveItem(ctx, item))

		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		require.Equal(t, item.ID, got.ID)
		require.Equal(t, "build artifact", got.Title)
		require.Equal(t, domain.ItemPending, got.State)

		// updates are last-write-wins per entity
		item.State = domain.ItemReady
		item.UpdatedAt = time.Now().UTC()
		require.NoError(t, repo.SaveItem(ctx, item))
		got, err = repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		require.Equal(t, domain.ItemReady, got.State)

		adhoc := domain.NewWorkItem("ad hoc item")
		require.NoError(t, repo.SaveItem(ctx, adhoc))

		all, err := repo.ListItems(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		byWorkflow, err := repo.ListItemsByWorkflow(ctx, "wf-release")
		require.NoError(t, err)
		require.Len(t, byWorkflow, 1)
		require.Equal(t, item.ID, byWorkflow[0].ID)

		require.NoError(t, repo.DeleteItem(ctx, adhoc.ID))
		_, err = repo.GetItem(ctx, adhoc.ID)
		require.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("edges", func(t *testing.T) {
		edge := &domain.Edge{From: "id-a", To: "id-b", Kind: domain.EdgeBlocks, Policy: domain.PolicyHard}
		require.NoError(t, repo.SaveEdge(ctx, edge))

		edges, err := repo.ListEdges(ctx)
		require.NoError(t, err)
		require.Len(t, edges, 1)
		require.Equal(t, "id-a", edges[0].From)
		require.Equal(t, "id-b", edges[0].To)
		require.Equal(t, domain.PolicyHard, edges[0].Policy)

		require.NoError(t, repo.DeleteEdge(ctx, "id-a", "id-b"))
		require.NoError(t, repo.DeleteEdge(ctx, "id-a", "id-b")) // idempotent
		edges, err = repo.ListEdges(ctx)
		require.NoError(t, err)
		require.Empty(t, edges)
	})

	t.Run("triggers", func(t *testing.T) {
		_, err := repo.GetTrigger(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrTriggerNotFound)

		trigger := domain.NewTrigger("nightly", "0 3 * * *")
		trigger.NextRunAt = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
		require.NoError(t, repo.SaveTrigger(ctx, trigger))

		got, err := repo.GetTrigger(ctx, trigger.ID)
		require.NoError(t, err)
		require.Equal(t, "nightly", got.Name)
		require.True(t, got.NextRunAt.Equal(trigger.NextRunAt))

		triggers, err := repo.ListTriggers(ctx)
		require.NoError(t, err)
		require.Len(t, triggers, 1)

		require.NoError(t, repo.DeleteTrigger(ctx, trigger.ID))
		_, err = repo.GetTrigger(ctx, trigger.ID)
		require.ErrorIs(t, err, domain.ErrTriggerNotFound)
	})
}
