package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow evicts expired hits, then records one if the key is under
// its limit. Returns {allowed, count, oldest hit in ms}.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldest = now
if first[2] then oldest = tonumber(first[2]) end
if count >= limit then
  return {0, count, oldest}
end
redis.call('ZADD', KEYS[1], now, ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {1, count + 1, oldest}
`)

// Redis is a Store shared by every instance. Each key is a sorted set of
// request timestamps scored in milliseconds.
type Redis struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedis(client redis.Scripter) *Redis {
	return &Redis{client: client, now: time.Now}
}

func (s *Redis) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	now := s.now()
	res, err := slidingWindow.Run(ctx, s.client, []string{key},
		now.UnixMilli(),
		now.Add(-limit.Window).UnixMilli(),
		limit.Requests,
		limit.Window.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Result{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}

	out := Result{
		Allowed: res[0] == 1,
		Limit:   limit.Requests,
		ResetAt: time.UnixMilli(res[2]).Add(limit.Window),
	}
	if out.Allowed {
		out.Remaining = limit.Requests - int(res[1])
	}
	return out, nil
}
