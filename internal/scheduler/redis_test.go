package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapegrid/scrapegrid/internal/models"
)

// setupTestRedis connects to the redis named by TEST_REDIS_ADDR; tests are
// skipped when none is configured.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(t)
	q := NewRedisQueue(client, testLogger())

	t.Run("enqueue and pop a due job", func(t *testing.T) {
		jobID, err := q.EnqueueAt(ctx, time.Now().Add(-time.Second), &Job{
			ExtractionID: "ext-redis-1",
			OwnerID:      "user-1",
			Template:     models.TemplateMapsSearch,
			Params:       models.Params{Query: "coffee"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, jobID)

		job, err := q.PopDue(ctx, time.Now())
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.ID)
		assert.Equal(t, "ext-redis-1", job.ExtractionID)
		assert.Equal(t, "coffee", job.Params.Query)

		// Claimed exactly once.
		again, err := q.PopDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Nil(t, again)
	})

	t.Run("future job stays queued", func(t *testing.T) {
		_, err := q.EnqueueAt(ctx, time.Now().Add(time.Hour), &Job{ExtractionID: "ext-redis-2"})
		require.NoError(t, err)

		job, err := q.PopDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Nil(t, job)

		client.FlushDB(ctx)
	})

	t.Run("cancel removes pending job", func(t *testing.T) {
		jobID, err := q.EnqueueAt(ctx, time.Now().Add(-time.Second), &Job{ExtractionID: "ext-redis-3"})
		require.NoError(t, err)

		require.NoError(t, q.Cancel(ctx, jobID))

		job, err := q.PopDue(ctx, time.Now())
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("cancel tolerates unknown id", func(t *testing.T) {
		assert.NoError(t, q.Cancel(ctx, uuid.New().String()))
	})
}
