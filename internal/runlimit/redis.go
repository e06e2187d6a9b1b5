// Package runlimit caps how many runs an account may have in flight across
// every scraper process, using a counter per account in Redis.
package runlimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lead_scraper:runs:"

// The TTL bounds how long a slot leaked by a crashed process stays taken.
var acquireScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
if n > tonumber(ARGV[1]) then
	redis.call("DECR", KEYS[1])
	return 0
end
return 1
`)

var releaseScript = redis.NewScript(`
local n = redis.call("DECR", KEYS[1])
if n <= 0 then
	redis.call("DEL", KEYS[1])
end
return n
`)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type Limiter struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func New(rdb redis.UniversalClient, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Limiter{rdb: rdb, ttl: ttl}
}

// Acquire takes one run slot for the account if fewer than limit are held.
// A limit of zero or less means unlimited.
func (l *Limiter) Acquire(ctx context.Context, accountID int64, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	ok, err := acquireScript.Run(ctx, l.rdb, []string{key(accountID)}, limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire run slot: %w", err)
	}
	return ok == 1, nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release(ctx context.Context, accountID int64) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{key(accountID)}).Err(); err != nil {
		return fmt.Errorf("release run slot: %w", err)
	}
	return nil
}

// InFlight returns how many slots the account currently holds.
func (l *Limiter) InFlight(ctx context.Context, accountID int64) (int, error) {
	n, err := l.rdb.Get(ctx, key(accountID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get run slots: %w", err)
	}
	return n, nil
}

func key(accountID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, accountID)
}
