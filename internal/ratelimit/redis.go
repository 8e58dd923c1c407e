package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucketScript applies the same lazy refill as TokenBucket atomically inside Redis,
// so every server instance draws from one bucket.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local state = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end
local elapsed = now - last
if elapsed > 0 then
  local add = math.floor(elapsed / 60000 * capacity)
  if add > 0 then
    tokens = math.min(capacity, tokens + add)
    last = now
  end
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', key, 'tokens', tokens, 'last', last)
redis.call('PEXPIRE', key, 120000)
return allowed
`)

// RedisBucket is a token bucket whose state lives in Redis.
type RedisBucket struct {
	client   *redis.Client
	key      string
	capacity int
	now      func() time.Time
}

// NewRedisBucket creates a shared bucket stored under "ratelimit:<name>".
func NewRedisBucket(client *redis.Client, name string, capacity int) *RedisBucket {
	return &RedisBucket{
		client:   client,
		key:      "ratelimit:" + name,
		capacity: capacity,
		now:      time.Now,
	}
}

// Allow implements Limiter.
func (b *RedisBucket) Allow(ctx context.Context) (bool, error) {
	allowed, err := bucketScript.Run(ctx, b.client, []string{b.key}, b.capacity, b.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	return allowed == 1, nil
}
