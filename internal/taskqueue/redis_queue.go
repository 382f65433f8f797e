package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a persistent job queue backed by Redis. Ready jobs live in a
// list consumed with BRPOP; delayed jobs wait in a ZSET scored by their
// not_before time and are promoted onto the list when due.
//
//	<prefix>q:<name>        => LIST of JSON-encoded ready jobs
//	<prefix>q:<name>:delay  => ZSET of JSON-encoded delayed jobs
type RedisQueue struct {
	client *redis.Client
	name   QueueName
	prefix string
}

// NewRedisQueue creates a RedisQueue for the named queue.
// prefix is optional but recommended (e.g. "autoflow:").
func NewRedisQueue(client *redis.Client, name QueueName, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "autoflow:"
	}
	return &RedisQueue{
		client: client,
		name:   name,
		prefix: prefix,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) keyReady() string   { return q.prefix + "q:" + string(q.name) }
func (q *RedisQueue) keyDelayed() string { return q.prefix + "q:" + string(q.name) + ":delay" }

func (q *RedisQueue) Enqueue(ctx context.Context, j Job) error {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	if j.Queue == "" {
		j.Queue = q.name
	}

	data, err := json.Marshal(j)
	if err != nil {
		return err
	}

	if time.Until(j.NotBefore) > 0 {
		return q.client.ZAdd(ctx, q.keyDelayed(), redis.Z{
			Score:  float64(j.NotBefore.UnixNano()),
			Member: data,
		}).Err()
	}
	return q.client.LPush(ctx, q.keyReady(), data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		// Short BRPOP timeout so newly-due delayed jobs are picked up
		// promptly even with no fresh enqueues.
		res, err := q.client.BRPop(ctx, time.Second, q.keyReady()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					continue
				}
			}
			return nil, err
		}

		// BRPOP returns [key, value].
		var j Job
		if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
			return nil, err
		}
		return &j, nil
	}
}

// promoteDue moves delayed jobs whose time has come onto the ready list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)

	due, err := q.client.ZRangeByScore(ctx, q.keyDelayed(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, member := range due {
		// ZREM-then-push so two consumers cannot both promote the same job.
		removed, err := q.client.ZRem(ctx, q.keyDelayed(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.keyReady(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Len() int {
	ctx := context.Background()
	ready, err := q.client.LLen(ctx, q.keyReady()).Result()
	if err != nil {
		return 0
	}
	delayed, err := q.client.ZCard(ctx, q.keyDelayed()).Result()
	if err != nil {
		return int(ready)
	}
	return int(ready + delayed)
}
