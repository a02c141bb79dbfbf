// Package ratelimit enforces a per-user hourly send cap with a counter kept
// in Redis, keyed by user and wall-clock hour.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "rate_limit"
	bucketLayout = "2006-01-02T15"
	expiryGrace  = time.Minute
)

// Increment, compare and roll back in one round trip so that concurrent
// executors never observe a count above the cap.
//
// KEYS[1] counter key
// ARGV[1] cap
// ARGV[2] ttl in milliseconds, applied when the key is created
var acquireScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
	count = redis.call('DECR', KEYS[1])
	return {0, count}
end
return {1, count}
`)

type Decision struct {
	Allowed bool
	// Count is the counter value after the attempt (and after rollback when denied).
	Count  int64
	Bucket string
	// Now is the Redis server clock the decision was taken at.
	Now time.Time
}

type Limiter struct {
	rdb   *redis.Client
	limit int
}

func New(rdb *redis.Client, hourlyLimit int) *Limiter {
	if hourlyLimit < 1 {
		hourlyLimit = 1
	}
	return &Limiter{rdb: rdb, limit: hourlyLimit}
}

func (l *Limiter) Limit() int {
	return l.limit
}

// Bucket returns the hour bucket t falls into, in UTC.
func Bucket(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

func Key(userID, bucket string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, bucket)
}

// Now returns the Redis server clock. All executors derive buckets from it
// so that skewed hosts agree on hour boundaries.
func (l *Limiter) Now(ctx context.Context) (time.Time, error) {
	now, err := l.rdb.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("redis time: %w", err)
	}
	return now.UTC(), nil
}

// Acquire counts one dispatch attempt for userID in the current hour bucket.
// A denied attempt leaves the counter where it was.
func (l *Limiter) Acquire(ctx context.Context, userID string) (Decision, error) {
	now, err := l.Now(ctx)
	if err != nil {
		return Decision{}, err
	}

	bucketStart := now.Truncate(time.Hour)
	resetAt := bucketStart.Add(time.Hour)
	bucket := Bucket(bucketStart)
	ttl := resetAt.Sub(now) + expiryGrace

	res, err := acquireScript.Run(ctx, l.rdb,
		[]string{Key(userID, bucket)},
		l.limit,
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("acquire rate limit for %s: %w", userID, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("acquire rate limit for %s: unexpected reply %v", userID, res)
	}

	return Decision{
		Allowed: res[0] == 1,
		Count:   res[1],
		Bucket:  bucket,
		Now:     now,
	}, nil
}

// Count returns how many attempts userID has recorded in the current bucket.
func (l *Limiter) Count(ctx context.Context, userID string) (int64, error) {
	now, err := l.Now(ctx)
	if err != nil {
		return 0, err
	}

	n, err := l.rdb.Get(ctx, Key(userID, Bucket(now))).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
