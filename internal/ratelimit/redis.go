package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript keeps one sorted set per key scored by unix milliseconds.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local per_minute = tonumber(ARGV[2])
local per_hour = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - 3600000)
local minute = redis.call('ZCOUNT', key, '(' .. (now - 60000), '+inf')
if per_minute > 0 and minute >= per_minute then
	return {1, minute}
end
local hour = redis.call('ZCARD', key)
if per_hour > 0 and hour >= per_hour then
	return {2, hour}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, 3600000)
return {0, 0}
`)

// Redis shares the sliding window between collector replicas.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "netmaster:ratelimit:"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (r *Redis) Allow(ctx context.Context, key string, l Limit) (Decision, error) {
	res, err := allowScript.Run(ctx, r.client, []string{r.prefix + key},
		r.now().UnixMilli(), l.PerMinute, l.PerHour, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %v", res)
	}
	switch res[0] {
	case 1:
		return Decision{Reason: fmt.Sprintf("too many requests per minute (%d/%d)", res[1], l.PerMinute)}, nil
	case 2:
		return Decision{Reason: fmt.Sprintf("too many requests per hour (%d/%d)", res[1], l.PerHour)}, nil
	}
	return Decision{Allowed: true}, nil
}
