// Package queue coordinates the pipeline's ready and in-flight job queues
// in Redis. Jobs are delivered at most once per lease; an expired lease is
// not requeued (jobs are never retried in place) — the worker loop fails
// the job instead.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey    = "pipeline:ready"
	inflightKey = "pipeline:inflight"
)

// RedisQueue holds the ready list and the in-flight lease set.
type RedisQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

// New builds a queue over an existing Redis client.
func New(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 5 * time.Minute
	}
	return &RedisQueue{client: client, visibilityTTL: visibility}
}

// Enqueue appends a job id to the ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, readyKey, jobID).Err()
}

// DequeueWithLease pops the next ready job and places it into the in-flight
// set with a visibility deadline. Returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{readyKey, inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a finished job from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, inflightKey, jobID).Err()
}

// ExpiredLeases claims jobs whose visibility deadline has passed, removing
// them from the in-flight set so exactly one caller observes each.
func (q *RedisQueue) ExpiredLeases(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, inflightKey, id).Result()
		if err != nil {
			return claimed, err
		}
		if removed > 0 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
