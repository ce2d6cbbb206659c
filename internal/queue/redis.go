package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the job queue contract on Redis for deployments
// where intake and workers run in separate processes.
//
// Layout under the key prefix:
//
//	<p>:parts            SET of partition keys
//	<p>:part:<key>       LIST of pending jobs, head at index 0
//	<p>:lease:<key>      lease marker with TTL, value = worker id
//	<p>:fence:<signal>   fencing token counter
//	<p>:retry            ZSET of backed-off jobs scored by next_run_at
//	<p>:dlq              LIST of dead-lettered jobs
//
// The lease marker doubles as the partition lock: while it lives, no
// other worker can claim from that partition, so FIFO order holds. A
// crashed worker's lease simply expires and the head job is reclaimed.
type RedisQueue struct {
	log    *logger.Logger
	cfg    Config
	client *redis.Client
	prefix string
}

// NewRedisQueue creates a Redis-backed job queue.
func NewRedisQueue(lgr *logger.Logger, cfg Config, client *redis.Client, keyPrefix string) (*RedisQueue, error) {
	cfg.normalize()
	if keyPrefix == "" {
		keyPrefix = "sigrelay:queue"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisQueue{log: lgr, cfg: cfg, client: client, prefix: keyPrefix}, nil
}

func (q *RedisQueue) partsKey() string          { return q.prefix + ":parts" }
func (q *RedisQueue) partKey(key string) string { return q.prefix + ":part:" + key }
func (q *RedisQueue) leaseKey(key string) string {
	return q.prefix + ":lease:" + key
}
func (q *RedisQueue) fenceKey(sig string) string {
	return q.prefix + ":fence:" + sig
}
func (q *RedisQueue) retryKey() string { return q.prefix + ":retry" }
func (q *RedisQueue) dlqKey() string   { return q.prefix + ":dlq" }

// Enqueue appends the job to its partition list.
func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	job.EnqueuedAt = time.Now()
	if job.NextRunAt.IsZero() {
		job.NextRunAt = job.EnqueuedAt
	}

	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, q.partsKey(), job.PartitionKey)
	pipe.RPush(ctx, q.partKey(job.PartitionKey), b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// Claim promotes due retries, then walks partitions looking for an
// unleased one whose head job is runnable.
func (q *RedisQueue) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.log.Warn("retry promotion failed", logger.Error(err))
	}

	parts, err := q.client.SMembers(ctx, q.partsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	now := time.Now()
	for _, key := range parts {
		ok, err := q.client.SetNX(ctx, q.leaseKey(key), workerID, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease: %w", err)
		}
		if !ok {
			continue // partition leased elsewhere
		}

		raw, err := q.client.LIndex(ctx, q.partKey(key), 0).Result()
		if errors.Is(err, redis.Nil) {
			// empty partition: drop it and release the lease
			pipe := q.client.TxPipeline()
			pipe.SRem(ctx, q.partsKey(), key)
			pipe.Del(ctx, q.leaseKey(key))
			_, _ = pipe.Exec(ctx)
			continue
		}
		if err != nil {
			_ = q.client.Del(ctx, q.leaseKey(key)).Err()
			return nil, fmt.Errorf("read head job: %w", err)
		}

		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.Del(ctx, q.leaseKey(key)).Err()
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		if job.NextRunAt.After(now) {
			_ = q.client.Del(ctx, q.leaseKey(key)).Err()
			continue
		}

		token, err := q.client.Incr(ctx, q.fenceKey(job.SignalID)).Result()
		if err != nil {
			_ = q.client.Del(ctx, q.leaseKey(key)).Err()
			return nil, fmt.Errorf("bump fencing token: %w", err)
		}
		job.FencingToken = token
		job.ClaimedBy = workerID
		job.ClaimExpiresAt = now.Add(lease)
		return &job, nil
	}
	return nil, nil
}

// Ack pops the head job and releases the partition. A fencing token
// behind the counter means the lease expired and was reissued.
func (q *RedisQueue) Ack(ctx context.Context, job *models.Job) error {
	if err := q.checkToken(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LPop(ctx, q.partKey(job.PartitionKey))
	pipe.Del(ctx, q.leaseKey(job.PartitionKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Nack moves the head job to the retry set with backoff, or to the DLQ
// when its attempt ceiling is exceeded, and releases the partition.
func (q *RedisQueue) Nack(ctx context.Context, job *models.Job, reason string) (models.Disposition, error) {
	if err := q.checkToken(ctx, job); err != nil {
		return 0, err
	}

	job.ClaimedBy = ""
	job.LastReason = reason

	if job.Attempt >= q.cfg.ceiling(reason) {
		b, err := json.Marshal(job)
		if err != nil {
			return 0, fmt.Errorf("marshal job: %w", err)
		}
		pipe := q.client.TxPipeline()
		pipe.LPop(ctx, q.partKey(job.PartitionKey))
		pipe.LPush(ctx, q.dlqKey(), b)
		pipe.Del(ctx, q.leaseKey(job.PartitionKey))
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("dead-letter: %w", err)
		}
		q.log.Error("job dead-lettered",
			logger.String("signal_id", job.SignalID),
			logger.Int("attempt", job.Attempt),
			logger.String("reason", reason),
		)
		return models.DispositionDeadLettered, nil
	}

	job.Attempt++
	delay := Backoff(job.Attempt, q.cfg.BackoffBase, q.cfg.BackoffMax)
	job.BackoffSeconds = delay.Seconds()
	job.NextRunAt = time.Now().Add(delay)

	b, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPop(ctx, q.partKey(job.PartitionKey))
	pipe.ZAdd(ctx, q.retryKey(), redis.Z{
		Score:  float64(job.NextRunAt.UnixNano()),
		Member: b,
	})
	pipe.Del(ctx, q.leaseKey(job.PartitionKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("schedule retry: %w", err)
	}
	return models.DispositionRetry, nil
}

// Depth counts pending jobs across partitions plus backed-off retries.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	parts, err := q.client.SMembers(ctx, q.partsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list partitions: %w", err)
	}
	n := 0
	for _, key := range parts {
		l, err := q.client.LLen(ctx, q.partKey(key)).Result()
		if err != nil {
			return 0, fmt.Errorf("partition length: %w", err)
		}
		n += int(l)
	}
	r, err := q.client.ZCard(ctx, q.retryKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("retry cardinality: %w", err)
	}
	return n + int(r), nil
}

// DeadLetters returns the dead-letter list.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]*models.Job, error) {
	raws, err := q.client.LRange(ctx, q.dlqKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}
	out := make([]*models.Job, 0, len(raws))
	for _, raw := range raws {
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.Warn("skipping malformed dlq entry", logger.Error(err))
			continue
		}
		out = append(out, &job)
	}
	return out, nil
}

// Close releases the client connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// promoteDue pushes backed-off jobs whose time has come back to the head
// of their partition.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	raws, err := q.client.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("fetch due retries: %w", err)
	}

	for _, raw := range raws {
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.ZRem(ctx, q.retryKey(), raw).Err()
			q.log.Warn("dropping malformed retry entry", logger.Error(err))
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.retryKey(), raw)
		pipe.SAdd(ctx, q.partsKey(), job.PartitionKey)
		pipe.LPush(ctx, q.partKey(job.PartitionKey), raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("promote retry: %w", err)
		}
	}
	return nil
}

// checkToken rejects acks and nacks carrying a stale fencing token.
func (q *RedisQueue) checkToken(ctx context.Context, job *models.Job) error {
	cur, err := q.client.Get(ctx, q.fenceKey(job.SignalID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read fencing token: %w", err)
	}
	if job.FencingToken != cur {
		return models.ErrFencingConflict
	}
	return nil
}
