package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	scheduledSetKey = "scrapegrid:jobs:scheduled"
	payloadKeyFmt   = "scrapegrid:jobs:payload:%s"
)

// RedisQueue stores delayed jobs in a sorted set scored by fire time, with
// the snapshot payload in a companion key. Durability is redis's concern;
// this type only guarantees that a job is claimed by at most one worker.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisQueue(client *redis.Client, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		logger: logger.With("component", "redis_queue"),
	}
}

func (q *RedisQueue) EnqueueAt(ctx context.Context, runAt time.Time, job *Job) (string, error) {
	queued := *job
	queued.ID = uuid.New().String()
	queued.RunAt = runAt
	queued.EnqueuedAt = time.Now()

	payload, err := json.Marshal(&queued)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(payloadKeyFmt, queued.ID), payload, 0)
	pipe.ZAdd(ctx, scheduledSetKey, redis.Z{
		Score:  float64(runAt.UnixMilli()),
		Member: queued.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info("job enqueued", "job_id", queued.ID, "run_at", runAt)
	return queued.ID, nil
}

// Cancel removes a pending job. Unknown ids are fine: the job may have
// fired already.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, scheduledSetKey, jobID)
	pipe.Del(ctx, fmt.Sprintf(payloadKeyFmt, jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

// PopDue claims the earliest due job. The ZRem is the claim: whichever
// worker removes the member owns the job, so concurrent workers never
// double-run one.
func (q *RedisQueue) PopDue(ctx context.Context, now time.Time) (*Job, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduled set: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	jobID := ids[0]
	removed, err := q.client.ZRem(ctx, scheduledSetKey, jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if removed == 0 {
		// Another worker won the claim.
		return nil, nil
	}

	payloadKey := fmt.Sprintf(payloadKeyFmt, jobID)
	payload, err := q.client.Get(ctx, payloadKey).Bytes()
	if err != nil {
		q.logger.Error("claimed job has no payload", "job_id", jobID, "error", err)
		return nil, nil
	}
	q.client.Del(ctx, payloadKey)

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		q.logger.Error("claimed job payload is corrupt", "job_id", jobID, "error", err)
		return nil, nil
	}

	return &job, nil
}
