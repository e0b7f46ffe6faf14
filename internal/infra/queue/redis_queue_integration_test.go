//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"auth_expiry_notifier/internal/domain/queue"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisQueue(client, "test:send-jobs")
}

func TestRedisQueueDelaysAndClaims(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	q := newRedisQueue(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	id1, err := q.Enqueue(ctx, queue.SendJob{BatchID: "b1"}, 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.SendJob{BatchID: "b2"}, 20*time.Second)
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	jobs, err := q.claimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id1, jobs[0].ID)
	assert.Equal(t, "b1", jobs[0].BatchID)

	// claimed jobs are gone
	jobs, err = q.claimDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	q.now = func() time.Time { return base.Add(21 * time.Second) }
	jobs, err = q.claimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b2", jobs[0].BatchID)

	jobs[0].Attempts = 1
	require.NoError(t, q.retry(ctx, jobs[0], 0))
	jobs, err = q.claimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
}
