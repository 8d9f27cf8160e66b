package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
)

const pollInterval = 100 * time.Millisecond

// slidingWindowScript admits a request when fewer than ARGV[2] entries fall
// inside the window ending at ARGV[3].
var slidingWindowScript = redis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])

	local count = redis.call('ZCARD', KEYS[1])

	if count < tonumber(ARGV[2]) then
		redis.call('ZADD', KEYS[1], ARGV[3], ARGV[5])
		redis.call('PEXPIRE', KEYS[1], ARGV[4])
		return 1
	end
	return 0
`)

// RateLimiter throttles webhook executions across every relay instance with
// a sliding window per destination.
type RateLimiter struct {
	client *Client
	limit  int
	window time.Duration
	now    func() time.Time
	log    logger.Logger
}

// NewRateLimiter allows limit executions per key within window
func NewRateLimiter(client *Client, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
		log:    log.With(logger.F("component", "ratelimiter")),
	}
}

func (r *RateLimiter) key(key string) string {
	return r.client.Key("ratelimit", key)
}

// Allow records an execution for key if the window has room
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	now := r.now().UnixMilli()
	windowStart := now - r.window.Milliseconds()

	result, err := slidingWindowScript.Run(ctx, r.client.rdb, []string{r.key(key)},
		windowStart,
		r.limit,
		now,
		r.window.Milliseconds()*2,
		uuid.NewString(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result == 0 {
		r.log.Debug("rate limit exceeded",
			logger.F("key", key),
			logger.F("limit", r.limit),
			logger.F("window", r.window),
		)
	}
	return result == 1, nil
}

// Wait blocks until key has a free slot or ctx ends
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	allowed, err := r.Allow(ctx, key)
	if err != nil || allowed {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			allowed, err := r.Allow(ctx, key)
			if err != nil {
				return err
			}
			if allowed {
				return nil
			}
		}
	}
}

// Remaining returns how many executions key may still make in the current window
func (r *RateLimiter) Remaining(ctx context.Context, key string) (int64, error) {
	k := r.key(key)
	windowStart := r.now().UnixMilli() - r.window.Milliseconds()

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get rate limit count: %w", err)
	}

	remaining := int64(r.limit) - countCmd.Val()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
