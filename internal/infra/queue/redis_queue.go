// Package queue implements delayed send jobs on a Redis sorted set and the
// relay that delivers them to the send webhook.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"auth_expiry_notifier/internal/domain/errs"
	"auth_expiry_notifier/internal/domain/queue"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// job is the sorted-set member. The score is the due time in unix milliseconds.
type job struct {
	ID       string `json:"id"`
	BatchID  string `json:"batch_id"`
	Attempts int    `json:"attempts"`
}

// claimScript atomically pops up to ARGV[2] members due at or before ARGV[1].
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #due > 0 then
	redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

// RedisQueue stores send jobs in one sorted set.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

var _ queue.Dispatcher = (*RedisQueue)(nil)

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key, now: time.Now}
}

// Enqueue schedules job to become due after delay and returns its id.
func (q *RedisQueue) Enqueue(ctx context.Context, sj queue.SendJob, delay time.Duration) (string, error) {
	if sj.BatchID == "" {
		return "", fmt.Errorf("send job has no batch id: %w", errs.ErrValidation)
	}
	j := job{ID: uuid.NewString(), BatchID: sj.BatchID}
	if err := q.add(ctx, j, q.now().Add(delay)); err != nil {
		return "", err
	}
	return j.ID, nil
}

func (q *RedisQueue) add(ctx context.Context, j job, due time.Time) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode send job: %w", err)
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(due.UnixMilli()), Member: string(payload)}).Err()
	if err != nil {
		return fmt.Errorf("%w: enqueue send job: %v", errs.ErrTransport, err)
	}
	return nil
}

// claimDue removes and returns up to limit jobs that are due.
func (q *RedisQueue) claimDue(ctx context.Context, limit int) ([]job, error) {
	members, err := claimScript.Run(ctx, q.client, []string{q.key},
		strconv.FormatInt(q.now().UnixMilli(), 10), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: claim send jobs: %v", errs.ErrTransport, err)
	}
	jobs := make([]job, 0, len(members))
	for _, m := range members {
		var j job
		if err := json.Unmarshal([]byte(m), &j); err != nil {
			// unreadable members are dropped; they can never be delivered
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *RedisQueue) retry(ctx context.Context, j job, after time.Duration) error {
	return q.add(ctx, j, q.now().Add(after))
}

// Len returns the number of jobs waiting, due or not.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
