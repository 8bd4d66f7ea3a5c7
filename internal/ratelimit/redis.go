package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted set per key with attempt timestamps as scores.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now_ms, member)
		redis.call('PEXPIRE', key, window_ms)
		return { 1, limit - count - 1, 0 }
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_ms = 0
	if oldest[2] ~= nil then
		retry_ms = tonumber(oldest[2]) + window_ms - now_ms
		if retry_ms < 0 then retry_ms = 0 end
	end
	return { 0, 0, retry_ms }
`)

// Redis shares the sliding window between server instances.
type Redis struct {
	client redis.Scripter
	policy Policy
	prefix string
	now    func() time.Time
}

// NewRedis constructs a Redis-backed limiter. prefix namespaces the keys.
func NewRedis(client redis.Scripter, policy Policy, prefix string) *Redis {
	if prefix == "" {
		prefix = "authority:rl"
	}
	return &Redis{client: client, policy: policy.normalized(), prefix: prefix, now: time.Now}
}

// Check implements Limiter.
func (r *Redis) Check(ctx context.Context, clientIP, tokenHash string) (Decision, error) {
	now := r.now()
	member, err := attemptID(now)
	if err != nil {
		return Decision{}, err
	}
	vals, err := slidingWindowScript.Run(ctx, r.client, []string{r.key(clientIP, tokenHash)},
		now.UnixMilli(),
		r.policy.Window.Milliseconds(),
		r.policy.Limit,
		member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Remaining:  int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

func (r *Redis) key(clientIP, tokenHash string) string {
	return r.prefix + ":" + key(clientIP, tokenHash)
}

func attemptID(now time.Time) (string, error) {
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(suffix[:]), nil
}
