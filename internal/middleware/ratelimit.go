package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/watchparty/internal/dto/response"
	apperrors "github.com/go-demo/watchparty/internal/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// InMemoryRateLimiter implements rate limiting using in-memory token buckets
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(r rate.Limit, burst int) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Allow checks if request is allowed
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow(), nil
}

// RedisRateLimiter implements a sliding window shared by every instance
type RedisRateLimiter struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(client *redis.Client, requests int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		requests: requests,
		window:   window,
	}
}

// Allow checks if request is allowed using Redis sliding window
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	pipe := l.client.Pipeline()

	now := time.Now().UnixNano()
	windowStart := now - l.window.Nanoseconds()

	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: now,
	})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	count, err := countCmd.Result()
	if err != nil {
		return false, err
	}

	return count <= int64(l.requests), nil
}

// NewRateLimiter returns a Redis limiter when a client is available and
// an in-memory one otherwise
func NewRateLimiter(client *redis.Client, requests int, window time.Duration) RateLimiter {
	if client != nil {
		return NewRedisRateLimiter(client, requests, window)
	}
	return NewInMemoryRateLimiter(rate.Every(window/time.Duration(requests)), requests)
}

// RateLimitConfig represents rate limit configuration
type RateLimitConfig struct {
	Window  time.Duration // reported in Retry-After
	KeyFunc func(*gin.Context) string
}

// RateLimitWithConfig creates a rate limiting middleware with custom configuration
func RateLimitWithConfig(limiter RateLimiter, config *RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), config.KeyFunc(c))
		if err != nil {
			// Fail open when the limiter backend is unavailable
			c.Next()
			return
		}

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(config.Window.Seconds())))
			response.Error(c, apperrors.ErrTooManyRequests)
			c.Abort()
			return
		}

		c.Next()
	}
}

// APIRateLimit limits requests per user, or per IP before authentication
func APIRateLimit(limiter RateLimiter, window time.Duration) gin.HandlerFunc {
	return RateLimitWithConfig(limiter, &RateLimitConfig{
		Window: window,
		KeyFunc: func(c *gin.Context) string {
			if userID := GetUserID(c); userID != "" {
				return "ratelimit:user:" + userID
			}
			return "ratelimit:ip:" + c.ClientIP()
		},
	})
}

// PlaybackRateLimit limits playback writes per user and room
func PlaybackRateLimit(limiter RateLimiter, window time.Duration) gin.HandlerFunc {
	return RateLimitWithConfig(limiter, &RateLimitConfig{
		Window: window,
		KeyFunc: func(c *gin.Context) string {
			return "ratelimit:playback:" + c.Param("id") + ":" + GetUserID(c)
		},
	})
}
