package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/botledger/internal/clock"
)

var (
	ErrNotConfigured = errors.New("rate_limit_not_configured")
	ErrEmptyKey      = errors.New("rate_limit_key_empty")
	ErrInvalidRate   = errors.New("rate_limit_rate_invalid")
)

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens/s up to ARGV[2] and
// takes one token. ARGV[3] is now in ms, ARGV[4] the key TTL in ms.
// Returns {allowed, whole tokens left, retry after ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = math.max(now - ts, 0)
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, math.floor(tokens), retry}
`

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type TokenBucket struct {
	client redis.UniversalClient
	clock  clock.Clock
	script *redis.Script
}

// NewTokenBucket returns nil without a client.
func NewTokenBucket(client redis.UniversalClient, clk clock.Clock) *TokenBucket {
	if client == nil {
		return nil
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &TokenBucket{
		client: client,
		clock:  clk,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, ErrNotConfigured
	}
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	if rate <= 0 || burst <= 0 {
		return Result{}, ErrInvalidRate
	}

	res, err := t.script.Run(ctx, t.client, []string{key},
		rate,
		burst,
		t.clock.Now().UnixMilli(),
		bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 3 {
		return Result{}, fmt.Errorf("token bucket %s: unexpected reply %v", key, res)
	}
	return Result{
		Allowed:    res[0] == 1,
		Limit:      burst,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// bucketTTL keeps an idle bucket twice as long as a full refill takes.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := max(math.Ceil(float64(burst)/rate*2), 1)
	return time.Duration(seconds) * time.Second
}
