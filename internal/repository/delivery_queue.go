package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/osvaldoandrade/hookq/internal/metrics"
	"github.com/osvaldoandrade/hookq/pkg/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DeliveryQueue is a delay-capable job queue. A claimed job is held under a
// lease; it re-enters the queue only through Retry, lease expiry, or never
// (Complete).
type DeliveryQueue interface {
	Enqueue(ctx context.Context, job domain.DeliveryJob) (*domain.DeliveryJob, error)
	// EnqueueBatch makes every job visible in one MULTI/EXEC; on error none is.
	EnqueueBatch(ctx context.Context, jobs []domain.DeliveryJob) ([]domain.DeliveryJob, error)
	// Claim pops one ready job, increments its attempt counter and leases it.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.DeliveryJob, bool, error)
	Complete(ctx context.Context, jobID string) error
	// Retry stores job and makes it visible again after delay.
	Retry(ctx context.Context, job domain.DeliveryJob, delay time.Duration) error
	MoveDue(ctx context.Context, limit int) (int, error)
	RequeueExpired(ctx context.Context, inspectLimit int) (int, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

type deliveryRedisQueue struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewDeliveryQueue(rdb *redis.Client, tz *time.Location) DeliveryQueue {
	if tz == nil {
		tz = time.UTC
	}
	return &deliveryRedisQueue{rdb: rdb, tz: tz}
}

// ===== Keys =====
func (q *deliveryRedisQueue) keyJobs() string    { return "hookq:q:jobs" }    // HASH id -> job JSON
func (q *deliveryRedisQueue) keyReady() string   { return "hookq:q:ready" }   // LIST, LPUSH in / RPOP out
func (q *deliveryRedisQueue) keyDelayed() string { return "hookq:q:delayed" } // ZSET score = visible-at ms
func (q *deliveryRedisQueue) keyInprog() string  { return "hookq:q:inprog" }  // SET of leased ids
func (q *deliveryRedisQueue) leasePrefix() string {
	return "hookq:q:lease:"
}
func (q *deliveryRedisQueue) keyLease(id string) string { return q.leasePrefix() + id }

func (q *deliveryRedisQueue) now() time.Time { return time.Now().In(q.tz) }

func (q *deliveryRedisQueue) Enqueue(ctx context.Context, job domain.DeliveryJob) (*domain.DeliveryJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := q.now()
	job.Attempts = 0
	job.EnqueuedAt = now
	job.UpdatedAt = now

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keyJobs(), job.ID, marshal(job))
	pipe.LPush(ctx, q.keyReady(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis enqueue job: %w", err)
	}
	metrics.DeliveryJobsEnqueuedTotal.WithLabelValues(string(job.Trigger)).Inc()
	return &job, nil
}

func (q *deliveryRedisQueue) EnqueueBatch(ctx context.Context, jobs []domain.DeliveryJob) ([]domain.DeliveryJob, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	now := q.now()
	out := make([]domain.DeliveryJob, len(jobs))
	pipe := q.rdb.TxPipeline()
	for i, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		job.Attempts = 0
		job.EnqueuedAt = now
		job.UpdatedAt = now
		pipe.HSet(ctx, q.keyJobs(), job.ID, marshal(job))
		pipe.LPush(ctx, q.keyReady(), job.ID)
		out[i] = job
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis enqueue batch: %w", err)
	}
	for _, job := range out {
		metrics.DeliveryJobsEnqueuedTotal.WithLabelValues(string(job.Trigger)).Inc()
	}
	return out, nil
}

// claimScript pops one ID from the ready list, tracks it in the in-progress
// set and writes its lease in one step, so requeueExpired never observes an
// in-progress ID without a lease.
//
// It also skips duplicate IDs already in progress.
//
// KEYS[1] = ready list, KEYS[2] = in-progress set
// ARGV[1] = max iterations, ARGV[2] = worker id, ARGV[3] = lease key prefix, ARGV[4] = lease ms
var claimScript = redis.NewScript(`
local maxIter = tonumber(ARGV[1]) or 1
for i=1,maxIter do
  local id = redis.call("RPOP", KEYS[1])
  if not id then
    return false
  end
  if redis.call("SADD", KEYS[2], id) == 1 then
    redis.call("SET", ARGV[3] .. id, ARGV[2], "PX", ARGV[4])
    return id
  end
end
return false
`)

// moveDueScript promotes due delayed IDs to the ready list. ZREM gates the
// push so concurrent promoters never duplicate an ID.
//
// KEYS[1] = delayed zset, KEYS[2] = ready list
// ARGV[1] = now ms, ARGV[2] = limit
var moveDueScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
local moved = 0
for _, id in ipairs(ids) do
  if redis.call("ZREM", KEYS[1], id) == 1 then
    redis.call("LPUSH", KEYS[2], id)
    moved = moved + 1
  end
end
return moved
`)

// requeueScript moves an ID back to ready if it is still in progress and its
// lease is gone.
//
// KEYS[1] = in-progress set, KEYS[2] = ready list, KEYS[3] = lease key
// ARGV[1] = id
var requeueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
if redis.call("SREM", KEYS[1], ARGV[1]) == 1 then
  redis.call("LPUSH", KEYS[2], ARGV[1])
  return 1
end
return 0
`)

const claimInspectLimit = 16

func (q *deliveryRedisQueue) Claim(ctx context.Context, workerID string, lease time.Duration) (*domain.DeliveryJob, bool, error) {
	if lease <= 0 {
		lease = time.Minute
	}
	for i := 0; i < claimInspectLimit; i++ {
		res, err := claimScript.Run(ctx, q.rdb,
			[]string{q.keyReady(), q.keyInprog()},
			1, workerID, q.leasePrefix(), lease.Milliseconds(),
		).Result()
		if err == redis.Nil {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("claim script: %w", err)
		}
		id, ok := res.(string)
		if !ok || id == "" {
			return nil, false, nil
		}

		js, err := q.rdb.HGet(ctx, q.keyJobs(), id).Result()
		if err == redis.Nil || (err == nil && js == "") {
			// completed elsewhere; drop the stale ID
			q.release(ctx, id)
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("HGET job json: %w", err)
		}
		job, err := unmarshalJob(js)
		if err != nil {
			q.release(ctx, id)
			_ = q.rdb.HDel(ctx, q.keyJobs(), id).Err()
			continue
		}

		job.Attempts++
		job.UpdatedAt = q.now()
		if err := q.rdb.HSet(ctx, q.keyJobs(), job.ID, marshal(job)).Err(); err != nil {
			return nil, false, fmt.Errorf("HSET job claimed: %w", err)
		}
		return job, true, nil
	}
	return nil, false, nil
}

func (q *deliveryRedisQueue) release(ctx context.Context, id string) {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keyInprog(), id)
	pipe.Del(ctx, q.keyLease(id))
	_, _ = pipe.Exec(ctx)
}

func (q *deliveryRedisQueue) Complete(ctx context.Context, jobID string) error {
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.keyInprog(), jobID)
	pipe.Del(ctx, q.keyLease(jobID))
	pipe.HDel(ctx, q.keyJobs(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis complete job: %w", err)
	}
	return nil
}

func (q *deliveryRedisQueue) Retry(ctx context.Context, job domain.DeliveryJob, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	now := q.now()
	job.UpdatedAt = now
	visibleAt := now.Add(delay).UnixMilli()

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keyJobs(), job.ID, marshal(job))
	pipe.SRem(ctx, q.keyInprog(), job.ID)
	pipe.Del(ctx, q.keyLease(job.ID))
	pipe.ZAdd(ctx, q.keyDelayed(), &redis.Z{Score: float64(visibleAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis retry job: %w", err)
	}
	return nil
}

func (q *deliveryRedisQueue) MoveDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	nowMs := strconv.FormatInt(q.now().UnixMilli(), 10)
	n, err := moveDueScript.Run(ctx, q.rdb, []string{q.keyDelayed(), q.keyReady()}, nowMs, limit).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("move due script: %w", err)
	}
	return n, nil
}

func (q *deliveryRedisQueue) RequeueExpired(ctx context.Context, inspectLimit int) (int, error) {
	if inspectLimit <= 0 {
		inspectLimit = 200
	}
	ids, err := q.rdb.SRandMemberN(ctx, q.keyInprog(), int64(inspectLimit)).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("SRANDMEMBER inprog: %w", err)
	}
	moved := 0
	for _, id := range ids {
		n, err := requeueScript.Run(ctx, q.rdb, []string{q.keyInprog(), q.keyReady(), q.keyLease(id)}, id).Int()
		if err != nil && err != redis.Nil {
			return moved, fmt.Errorf("requeue script: %w", err)
		}
		if n == 1 {
			metrics.LeaseExpiredTotal.Inc()
			moved++
		}
	}
	return moved, nil
}

func (q *deliveryRedisQueue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, q.keyReady())
	delayed := pipe.ZCard(ctx, q.keyDelayed())
	inprog := pipe.SCard(ctx, q.keyInprog())
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	return &domain.QueueStats{
		Ready:      ready.Val(),
		Delayed:    delayed.Val(),
		InProgress: inprog.Val(),
	}, nil
}

func marshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalJob(js string) (*domain.DeliveryJob, error) {
	var j domain.DeliveryJob
	if err := json.Unmarshal([]byte(js), &j); err != nil {
		return nil, err
	}
	return &j, nil
}
