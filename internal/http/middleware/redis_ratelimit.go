package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// RedisRateLimiter is a fixed-window counter shared by every API replica.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
	logger *logging.Logger
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration, logger *logging.Logger) *RedisRateLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
		logger: logger,
	}
}

// Allow counts one request for key in the current window. The remaining time in the
// window is returned so callers can set Retry-After.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	remaining := windowStart.Add(l.window).Sub(now)
	return incr.Val() <= l.limit, remaining, nil
}

// RedisRateLimit fails open: a Redis outage must not take booking down with it.
func RedisRateLimit(limiter *RedisRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				limiter.logger.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				secs := int(retry.Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
