package middleware

import (
	"context"
	"fmt"
	"time"

	"streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimiterOptions configures the rate limiter
type RateLimiterOptions struct {
	ratelimit.Options
	// KeyFunc extracts the limiting key from a request (e.g. IP, user ID)
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimiterOptions limits per authenticated user, falling back to client IP
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Options: ratelimit.DefaultOptions(),
		KeyFunc: func(c *gin.Context) string {
			if user, ok := CurrentUser(c); ok {
				return "user:" + user.UserID
			}
			return "ip:" + c.ClientIP()
		},
	}
}

// RateLimiter implements rate limiting middleware for Gin
type RateLimiter struct {
	options RateLimiterOptions
	limiter *ratelimit.KeyedLimiter
	logger  *logger.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(logger *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &RateLimiter{
		options: opts,
		limiter: ratelimit.New(opts.Options),
		logger:  logger,
	}
}

// Start sweeps idle clients until ctx is cancelled
func (r *RateLimiter) Start(ctx context.Context) {
	go r.limiter.Run(ctx, time.Minute)
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)

		if !r.limiter.Allow(key) {
			r.logger.Warn("Rate limit exceeded",
				"client", key,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", r.options.Burst))
			_ = c.Error(errors.NewTooManyRequestsError("RATE_LIMIT_EXCEEDED", "Too many requests. Please try again later."))
			c.Abort()
			return
		}

		c.Next()
	}
}
