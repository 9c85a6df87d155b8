package router

import (
	"net/http"
	"slices"

	"streamkit/backend/internal/api"
	"streamkit/backend/pkg/config"
	"streamkit/backend/pkg/di"
	"streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/middleware"
	"streamkit/backend/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	RateLimiter *middleware.RateLimiter
	metrics     http.Handler
}

// Option customizes the router
type Option func(*Router)

// WithMetrics exposes handler on /metrics
func WithMetrics(handler http.Handler) Option {
	return func(r *Router) {
		r.metrics = handler
	}
}

// New creates a new router with the given container
func New(container *di.Container, opts ...Option) *Router {
	cfg := container.Config

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	if cfg.Security.MaxBodySize > 0 {
		engine.Use(bodyLimit(cfg.Security.MaxBodySize))
	}

	limiterOpts := middleware.DefaultRateLimiterOptions()
	if cfg.Security.RateLimit > 0 {
		limiterOpts.Options = ratelimit.Options{
			Limit:          rate.Limit(cfg.Security.RateLimit),
			Burst:          cfg.Security.RateLimitBurst,
			ExpiryDuration: ratelimit.DefaultOptions().ExpiryDuration,
		}
	}

	r := &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		RateLimiter: middleware.NewRateLimiter(container.Logger, limiterOpts),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	c := r.Container

	r.setupHealthRoutes()

	// identity is resolved before rate limiting so authenticated viewers get their own bucket
	auth := middleware.OptionalAuth(c.JWTService, r.Logger)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(auth, r.RateLimiter.Middleware())

	streams := v1.Group("/streams")
	api.NewStreamHandler(c.StreamService, c.Tracker).RegisterRoutes(streams)
	api.NewChatHandler(c.ChatService).RegisterRoutes(streams)
	api.NewRuleHandler(c.RuleService).RegisterRoutes(streams)
	api.NewInteractionHandler(c.PollService, c.QuizService, c.ChallengeService, c.ReactionBus).RegisterRoutes(streams)

	// websocket clients pass the token as ?access_token=
	r.Engine.GET("/ws/streams/:streamId", auth, c.Hub.ServeWs)
}

// corsMiddleware allows the configured origins, "*" allowing any. Websocket
// upgrade headers are exposed for browser clients.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	anyOrigin := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case origin == "":
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case anyOrigin || slices.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		default:
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, X-Request-ID, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
