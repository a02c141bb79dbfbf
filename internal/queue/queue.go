// Package queue is a delayed job queue on Redis.
//
// A job lives in a hash keyed by its id. Pending jobs sit in a sorted set
// scored by release time; a released job moves to an active set scored by its
// lease deadline. Jobs whose lease expires (the executor died) are returned to
// the pending set on the next dequeue. Completed jobs are deleted; jobs that
// exhaust their attempts move to a failed hash.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"PaceMail/internal/models"
)

var (
	ErrEmpty    = errors.New("queue: no job due")
	ErrNotFound = errors.New("queue: job not found")
)

type Job struct {
	ID           string            `json:"id"`
	Data         models.JobPayload `json:"data"`
	AttemptsMade int               `json:"attemptsMade"`
	FailedReason string            `json:"failedReason,omitempty"`
	EnqueuedAt   time.Time         `json:"enqueuedAt"`
}

type Options struct {
	Prefix      string
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	Lease   time.Duration
	Clock   func() time.Time
}

func (o *Options) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "email-queue"
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type Queue struct {
	rdb  *redis.Client
	opts Options

	jobsKey    string
	delayedKey string
	activeKey  string
	failedKey  string
}

func New(rdb *redis.Client, opts Options) *Queue {
	opts.setDefaults()
	return &Queue{
		rdb:        rdb,
		opts:       opts,
		jobsKey:    opts.Prefix + ":jobs",
		delayedKey: opts.Prefix + ":delayed",
		activeKey:  opts.Prefix + ":active",
		failedKey:  opts.Prefix + ":failed",
	}
}

func (q *Queue) MaxAttempts() int {
	return q.opts.MaxAttempts
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// Enqueue adds payload under payload.ID, released after delay. Adding an id
// that is already queued is a no-op and returns false.
func (q *Queue) Enqueue(ctx context.Context, payload models.JobPayload, delay time.Duration) (bool, error) {
	if payload.ID == "" {
		return false, errors.New("queue: job id is required")
	}
	if delay < 0 {
		delay = 0
	}

	now := q.opts.Clock()
	raw, err := json.Marshal(Job{
		ID:         payload.ID,
		Data:       payload,
		EnqueuedAt: now.UTC(),
	})
	if err != nil {
		return false, err
	}

	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobsKey, q.delayedKey},
		payload.ID, raw, ms(now.Add(delay)),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", payload.ID, err)
	}
	return added == 1, nil
}

// KEYS: jobs, delayed, active
// ARGV: now ms, lease deadline ms
var dequeueScript = redis.NewScript(`
local stalled = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(stalled) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('ZADD', KEYS[2], ARGV[1], id)
end
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
	return false
end
local id = due[1]
redis.call('ZREM', KEYS[2], id)
local data = redis.call('HGET', KEYS[1], id)
if not data then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[2], id)
return data
`)

// Dequeue leases the earliest due job. It returns ErrEmpty when nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	now := q.opts.Clock()

	raw, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.jobsKey, q.delayedKey, q.activeKey},
		ms(now), ms(now.Add(q.opts.Lease)),
	).Text()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

var rescheduleScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// Reschedule releases the job again at `at` without consuming an attempt.
func (q *Queue) Reschedule(ctx context.Context, id string, at time.Time) error {
	ok, err := rescheduleScript.Run(ctx, q.rdb,
		[]string{q.jobsKey, q.delayedKey, q.activeKey},
		id, ms(at),
	).Int()
	if err != nil {
		return fmt.Errorf("reschedule %s: %w", id, err)
	}
	if ok == 0 {
		return fmt.Errorf("reschedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// Complete removes a finished job from the queue.
func (q *Queue) Complete(ctx context.Context, id string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.activeKey, id)
		pipe.ZRem(ctx, q.delayedKey, id)
		pipe.HDel(ctx, q.jobsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

type FailResult struct {
	Attempts int
	// Final is set when the attempt budget is spent and the job moved to the failed set.
	Final   bool
	RetryAt time.Time
}

// Fail records a failed attempt. While attempts remain the job is released
// again after an exponential backoff.
func (q *Queue) Fail(ctx context.Context, id string, cause error) (FailResult, error) {
	job, err := q.load(ctx, q.jobsKey, id)
	if err != nil {
		return FailResult{}, err
	}

	job.AttemptsMade++
	if cause != nil {
		job.FailedReason = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return FailResult{}, err
	}

	res := FailResult{Attempts: job.AttemptsMade}

	if job.AttemptsMade >= q.opts.MaxAttempts {
		res.Final = true
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, q.activeKey, id)
			pipe.ZRem(ctx, q.delayedKey, id)
			pipe.HDel(ctx, q.jobsKey, id)
			pipe.HSet(ctx, q.failedKey, id, raw)
			return nil
		})
	} else {
		res.RetryAt = q.opts.Clock().Add(q.backoffFor(job.AttemptsMade))
		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobsKey, id, raw)
			pipe.ZRem(ctx, q.activeKey, id)
			pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(res.RetryAt.UnixMilli()), Member: id})
			return nil
		})
	}
	if err != nil {
		return FailResult{}, fmt.Errorf("fail %s: %w", id, err)
	}
	return res, nil
}

// backoffFor returns the delay before the retry that follows attempt n (1-based).
func (q *Queue) backoffFor(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Get returns a queued or failed job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := q.load(ctx, q.jobsKey, id)
	if errors.Is(err, ErrNotFound) {
		return q.load(ctx, q.failedKey, id)
	}
	return job, err
}

// Remove cancels a job that has not completed. It reports whether anything was removed.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.delayedKey, id)
		pipe.ZRem(ctx, q.activeKey, id)
		del = pipe.HDel(ctx, q.jobsKey, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

type Counts struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	now := ms(q.opts.Clock())

	var waiting, pending, active, failed *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCount(ctx, q.delayedKey, "-inf", now)
		pending = pipe.ZCard(ctx, q.delayedKey)
		active = pipe.ZCard(ctx, q.activeKey)
		failed = pipe.HLen(ctx, q.failedKey)
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("counts: %w", err)
	}

	return Counts{
		Waiting: waiting.Val(),
		Delayed: pending.Val() - waiting.Val(),
		Active:  active.Val(),
		Failed:  failed.Val(),
	}, nil
}

func (q *Queue) load(ctx context.Context, key, id string) (*Job, error) {
	raw, err := q.rdb.HGet(ctx, key, id).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}
