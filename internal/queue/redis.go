package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted set holding pending jobs.
const DefaultKey = "issuesense:embedding-queue"

// RedisQueue keeps jobs in a sorted set scored by runAt in milliseconds.
type RedisQueue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key, now: time.Now}
}

// Enqueue stores job with runAt = now + delay and a fresh unique suffix.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	if job.DocumentID == "" {
		return fmt.Errorf("enqueue: document id is required")
	}
	if job.Table == "" {
		job.Table = DocumentsTable
	}
	if delay < 0 {
		delay = 0
	}
	job.Suffix = newSuffix()
	job.RunAt = q.now().Add(delay).UTC()
	member, err := encodeJob(job)
	if err != nil {
		return err
	}
	z := redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: member}
	if err := q.client.ZAdd(ctx, q.key, z).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", q.key, err)
	}
	return nil
}

// PopDue removes and returns the earliest job due at now. A member claimed
// by another consumer between the read and the remove is skipped.
func (q *RedisQueue) PopDue(ctx context.Context, now time.Time) (Job, bool, error) {
	for {
		members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: 1,
		}).Result()
		if err != nil {
			return Job{}, false, fmt.Errorf("zrangebyscore %s: %w", q.key, err)
		}
		if len(members) == 0 {
			return Job{}, false, nil
		}
		removed, err := q.client.ZRem(ctx, q.key, members[0]).Result()
		if err != nil {
			return Job{}, false, fmt.Errorf("zrem %s: %w", q.key, err)
		}
		if removed == 0 {
			continue
		}
		job, err := decodeJob(members[0])
		if err != nil {
			return Job{}, false, err
		}
		return job, true, nil
	}
}

// HasDue reports whether any job is due at now.
func (q *RedisQueue) HasDue(ctx context.Context, now time.Time) (bool, error) {
	n, err := q.client.ZCount(ctx, q.key, "-inf", strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		return false, fmt.Errorf("zcount %s: %w", q.key, err)
	}
	return n > 0, nil
}

// Len is the number of queued jobs, due or not.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", q.key, err)
	}
	return n, nil
}
