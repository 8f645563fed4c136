package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisRateKeyPrefix = "brail:ratelimit:"
	redisRateTimeout   = 250 * time.Millisecond
)

// redisRateLimiter shares windows between API replicas. Every decision is
// one pipelined round trip: INCR plus PTTL, with PEXPIRE only when the
// window is new.
type redisRateLimiter struct {
	client redis.Cmdable
	closer func() error
	logger *slog.Logger
}

// NewRedisRateLimiter connects to Redis and checks it answers.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisRateLimiter(client, client.Close, logger), nil
}

func newRedisRateLimiter(client redis.Cmdable, closer func() error, logger *slog.Logger) *redisRateLimiter {
	return &redisRateLimiter{client: client, closer: closer, logger: logger}
}

// Allow fails open when Redis is unreachable.
func (rl *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisRateTimeout)
	defer cancel()

	redisKey := redisRateKeyPrefix + key
	var hits *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		hits = p.Incr(ctx, redisKey)
		ttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		rl.warn(key, err)
		return rateDecision{allowed: true}
	}

	left := ttl.Val()
	if left <= 0 {
		// New window, or a key left without expiry.
		if err := rl.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			rl.warn(key, err)
		}
		left = window
	}
	count := int(hits.Val())
	return rateDecision{allowed: count <= limit, count: count, windowEnd: time.Now().Add(left)}
}

func (rl *redisRateLimiter) Close() {
	if rl.closer != nil {
		_ = rl.closer()
	}
}

func (rl *redisRateLimiter) warn(key string, err error) {
	if rl.logger != nil {
		rl.logger.Error("redis rate limiter unavailable, allowing request", "scope", keyScope(key), "error", err)
	}
}
