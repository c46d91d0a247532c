package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/armansaberi/prism/config"
)

// allowScript trims the window, counts, and conditionally records the
// hit in one atomic round trip.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return 1
end
return 0
`)

// Redis is a sliding window limiter on a shared sorted set per key.
type Redis struct {
	client  *redis.Client
	ceiling int
	window  time.Duration
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client, cfg config.RateLimitConfig) *Redis {
	return &Redis{client: client, ceiling: cfg.Ceiling, window: cfg.Window}
}

// Allow runs the window check atomically in Redis.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	res, err := allowScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key},
		now.Add(-l.window).UnixNano(),
		l.ceiling,
		now.UnixNano(),
		member,
		l.window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit script: %w", err)
	}
	return res == 1, nil
}
