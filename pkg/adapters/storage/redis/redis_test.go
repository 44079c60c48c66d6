package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/musterd/muster/pkg/domain"
	"github.com/musterd/muster/pkg/ports"
)

func newTestRepository(t *testing.T, opts ...Option) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRepository(client, zap.NewNop(), opts...), mr
}

func TestRepositoryContract(t *testing.T) {
	repo, _ := newTestRepository(t)
	ports.RunRepositoryContract(t, repo)
}

func TestTerminalItemsExpire(t *testing.T) {
	repo, mr := newTestRepository(t, WithTerminalTTL(time.Hour))
	ctx := context.Background()

	live := domain.NewWorkItem("still moving")
	require.NoError(t, repo.SaveItem(ctx, live))
	require.Zero(t, mr.TTL(itemKeyPrefix+live.ID))

	done := domain.NewWorkItem("finished")
	done.State = domain.ItemCompleted
	require.NoError(t, repo.SaveItem(ctx, done))
	require.Equal(t, time.Hour, mr.TTL(itemKeyPrefix+done.ID))
}

func TestExpiredItemLeavesWorkflowIndex(t *testing.T) {
	repo, mr := newTestRepository(t, WithTerminalTTL(time.Minute))
	ctx := context.Background()

	item := domain.NewWorkItem("short lived")
	item.WorkflowID = "wf-build"
	item.State = domain.ItemCompleted
	require.NoError(t, repo.SaveItem(ctx, item))

	mr.FastForward(2 * time.Minute)

	// the stale index entry is cleaned up on read
	items, err := repo.ListItemsByWorkflow(ctx, "wf-build")
	require.NoError(t, err)
	require.Empty(t, items)
	isMember, err := mr.SIsMember(workflowIndexKey("wf-build"), item.ID)
	require.NoError(t, err)
	require.False(t, isMember)
}

func TestListItemsSurvivesUndecodableRecord(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	good := domain.NewWorkItem("good")
	require.NoError(t, repo.SaveItem(ctx, good))
	require.NoError(t, mr.Set(itemKeyPrefix+"corrupt", "not json"))

	items, err := repo.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, good.ID, items[0].ID)
}
