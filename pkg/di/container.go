package di

import (
	"context"
	"fmt"
	"time"

	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/realtime"
	"streamkit/backend/internal/repository"
	"streamkit/backend/internal/service"
	"streamkit/backend/internal/ws"
	"streamkit/backend/pkg/config"
	"streamkit/backend/pkg/health"
	"streamkit/backend/pkg/jwt"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/secrets"
	sharedredis "streamkit/backend/shared/redis"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logger.Logger
	Redis  *sharedredis.RedisClient

	JWTService *jwt.Service
	Repos      *repository.Repositories
	Policy     *policy.Engine
	Broker     realtime.Broker

	Access           *service.Access
	RuleService      *service.RuleService
	StreamService    *service.StreamService
	ChatService      *service.ChatService
	Ledger           *service.Ledger
	Tracker          *service.Tracker
	ReactionBus      *service.ReactionBus
	PollService      *service.PollService
	QuizService      *service.QuizService
	ChallengeService *service.ChallengeService

	Hub     *ws.Hub
	Checker *health.Checker
}

// New wires repositories, services and the realtime gateway over db. The
// schema must already be migrated.
func New(ctx context.Context, db *gorm.DB, cfg *config.Config, log *logger.Logger) (*Container, error) {
	engine, err := policy.NewDefaultEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare moderation policy: %w", err)
	}

	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		Policy: engine,
		Repos:  repository.NewRepositories(db),
	}

	jwtSecret := secrets.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret)
	c.JWTService = jwt.NewService(jwtSecret, cfg.JWT.Expiry)

	var redisBroker *realtime.RedisBroker
	switch cfg.Realtime.Broker {
	case "redis":
		c.Redis = sharedredis.NewRedisClient(sharedredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: secrets.GetSecretWithDefault(ctx, secrets.KeyRedisPassword, cfg.Redis.Password),
			DB:       cfg.Redis.DB,
		})
		redisBroker = realtime.NewRedisBroker(c.Redis, "streamkit:", log)
		c.Broker = redisBroker
	default:
		c.Broker = realtime.NewMemoryBroker()
	}

	c.Access = service.NewAccess(c.Repos.Streams, engine, log)
	c.RuleService = service.NewRuleService(c.Repos, c.Access, cfg.Chat.RulesCacheTTL, log)
	c.StreamService = service.NewStreamService(c.Repos.Streams, c.Access, log)

	chatCfg := service.DefaultChatConfig()
	if cfg.Chat.SnapshotSize > 0 {
		chatCfg.SnapshotSize = cfg.Chat.SnapshotSize
	}
	if cfg.Chat.MaxMessageLength > 0 {
		chatCfg.MaxMessageLength = cfg.Chat.MaxMessageLength
	}
	if cfg.Chat.StoreRetries > 0 {
		chatCfg.StoreRetries = cfg.Chat.StoreRetries
	}
	if cfg.Realtime.ChatBuffer > 0 {
		chatCfg.SubscriberBuffer = cfg.Realtime.ChatBuffer
	}
	c.ChatService = service.NewChatService(c.Repos, c.RuleService, c.Access, service.NewStoreAudience(c.Repos.Streams), c.Broker, chatCfg, log)

	c.Ledger = service.NewLedger(c.Repos.Interactions, cfg.Chat.LedgerTimeout, log)
	c.Tracker = service.NewTracker(c.Repos.Interactions, log)

	reactionCfg := service.DefaultReactionConfig()
	if cfg.Realtime.ReactionDisplay > 0 {
		reactionCfg.DisplayDuration = cfg.Realtime.ReactionDisplay
	}
	if cfg.Realtime.ReactionRate > 0 {
		reactionCfg.Rate = cfg.Realtime.ReactionRate
	}
	if cfg.Realtime.ReactionBurst > 0 {
		reactionCfg.Burst = cfg.Realtime.ReactionBurst
	}
	if cfg.Realtime.ReactionBuffer > 0 {
		reactionCfg.Buffer = cfg.Realtime.ReactionBuffer
	}
	c.ReactionBus = service.NewReactionBus(c.Broker, c.Access, c.Ledger, reactionCfg, log)

	c.PollService = service.NewPollService(c.Repos.Polls, c.Access, c.Ledger, c.ReactionBus, log)
	c.QuizService = service.NewQuizService(c.Repos.Quizzes, c.Access, c.Ledger, c.ReactionBus, log)
	c.ChallengeService = service.NewChallengeService(c.Repos.Challenges, c.Access, c.Ledger, c.ReactionBus, log)

	hubCfg := ws.DefaultConfig()
	hubCfg.MaxConnsPerStream = cfg.Realtime.MaxConnsPerStream
	hubCfg.AllowedOrigins = cfg.Security.AllowedOrigins
	c.Hub = ws.NewHub(c.ChatService, c.ReactionBus, hubCfg, log)

	c.Checker = health.NewChecker(log, 30*time.Second)
	c.Checker.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.Redis != nil {
		c.Checker.RegisterRedisCheck(c.Redis.Ping)
	}
	if redisBroker != nil {
		c.Checker.RegisterCheck("realtime", false, brokerCheck(redisBroker))
	}

	return c, nil
}

// brokerCheck reports the redis publish breaker. An open breaker means
// events stay local to this instance, so the gateway is degraded but up.
func brokerCheck(b *realtime.RedisBroker) health.Check {
	return func(context.Context) (health.Status, string, error) {
		m := b.BreakerMetrics()
		desc := fmt.Sprintf("publish breaker %v: %v of %v publishes failed", m["state"], m["total_failures"], m["total_requests"])
		if !b.Healthy() {
			return health.StatusDegraded, desc, nil
		}
		return health.StatusUp, desc, nil
	}
}

// Run starts the background loops and blocks until ctx is done
func (c *Container) Run(ctx context.Context) {
	go c.RuleService.Run(ctx)
	go c.ReactionBus.Run(ctx)
	c.Checker.Start(ctx)
	c.Hub.Run(ctx)
}

// Close drains pending ledger writes and releases the broker
func (c *Container) Close() {
	c.Ledger.Close()
	if err := c.Broker.Close(); err != nil {
		c.Logger.LogError(err, "Failed to close realtime broker")
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close redis client")
		}
	}
}
