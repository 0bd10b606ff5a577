package echoapi

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/roofest/core"
)

// RateLimiter counts hits per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

func limitOrDefault(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return limit, window
}

// RedisRateLimiter shares its windows between API instances.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	limit, window = limitOrDefault(limit, window)
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: "rl"}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := redisFixedWindowScript.Run(ctx, rl.rdb, []string{rl.prefix + ":" + key}, rl.window.Milliseconds()).Result()
	if err != nil {
		return false, errors.Wrap(err, "running rate limit script")
	}
	var count int64
	switch v := res.(type) {
	case int64:
		count = v
	case string:
		if count, err = strconv.ParseInt(v, 10, 64); err != nil {
			return false, errors.Wrap(err, "parsing rate limit count")
		}
	default:
		return false, errors.Errorf("unexpected rate limit script result type %T", res)
	}
	return count <= int64(rl.limit), nil
}

// MemoryRateLimiter is the single-instance fallback used when Redis is not configured.
type MemoryRateLimiter struct {
	limit    int
	window   time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	count     int
	resetTime time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	limit, window = limitOrDefault(limit, window)
	return &MemoryRateLimiter{limit: limit, window: window, visitors: map[string]*visitor{}}
}

func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := nowFunc()
	v := rl.visitors[key]
	if v == nil || now.After(v.resetTime) {
		rl.visitors[key] = &visitor{count: 1, resetTime: now.Add(rl.window)}
		return true, nil
	}
	if v.count >= rl.limit {
		return false, nil
	}
	v.count++
	return true, nil
}

// rateLimitMiddleware limits requests per route and client IP. Limiter failures let the request through.
func rateLimitMiddleware(limiter RateLimiter, logger core.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			key := ctx.Path() + ":" + ctx.RealIP()
			ok, err := limiter.Allow(ctx.Request().Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable", err)
				return next(ctx)
			}
			if !ok {
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}
