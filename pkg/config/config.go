package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port     string
		Env      string
		Timeout  time.Duration
		BaseURL  string
		GRPCPort string
	}

	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	JWT struct {
		Secret string
		Expiry time.Duration
	}

	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	Logging struct {
		Level  string
		Format string
	}

	// Chat pipeline tuning
	Chat struct {
		SnapshotSize     int
		MaxMessageLength int
		RulesCacheTTL    time.Duration
		LedgerTimeout    time.Duration
		StoreRetries     int
	}

	Realtime struct {
		// Broker is "memory" for a single instance or "redis" for fan-out across instances
		Broker            string
		ChatBuffer        int
		ReactionBuffer    int
		ReactionDisplay   time.Duration
		ReactionRate      float64
		ReactionBurst     int
		MaxConnsPerStream int
	}

	Telemetry struct {
		ServiceName  string
		OTLPEndpoint string
		StdoutTraces bool
	}

	Relay struct {
		TwitchChannel  string
		TwitchStreamID uint
		TwitchUsername string
		TwitchToken    string
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
	}

	OpenAPI struct {
		SchemaPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates the singleton Config from .env, an optional CONFIG_FILE and the environment
func New() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		cfg, err := Load()
		if err != nil {
			panic(fmt.Sprintf("config: %v", err))
		}
		instance = cfg
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Load builds a fresh Config without touching the singleton
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}

	cfg.Server.Port = v.GetString("PORT")
	cfg.Server.Env = v.GetString("APP_ENV")
	cfg.Server.Timeout = v.GetDuration("SERVER_TIMEOUT")
	cfg.Server.BaseURL = v.GetString("BASE_URL")
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:" + cfg.Server.Port
	}
	cfg.Server.GRPCPort = v.GetString("GRPC_PORT")

	cfg.Database.Host = v.GetString("DB_HOST")
	cfg.Database.Port = v.GetString("DB_PORT")
	cfg.Database.User = v.GetString("DB_USER")
	cfg.Database.Password = v.GetString("DB_PASSWORD")
	cfg.Database.Name = v.GetString("DB_NAME")
	cfg.Database.SSLMode = v.GetString("DB_SSL_MODE")
	cfg.Database.MaxConns = v.GetInt("DB_MAX_CONNS")
	cfg.Database.Timeout = v.GetDuration("DB_TIMEOUT")

	cfg.Redis.Addr = v.GetString("REDIS_URL")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Expiry = v.GetDuration("JWT_EXPIRY")

	cfg.Security.RateLimit = v.GetFloat64("RATE_LIMIT")
	cfg.Security.RateLimitBurst = v.GetInt("RATE_LIMIT_BURST")
	cfg.Security.AllowedOrigins = splitList(v.GetString("ALLOWED_ORIGINS"))
	cfg.Security.MaxBodySize = v.GetInt64("MAX_BODY_SIZE")

	cfg.Logging.Level = v.GetString("LOG_LEVEL")
	cfg.Logging.Format = v.GetString("LOG_FORMAT")

	cfg.Chat.SnapshotSize = v.GetInt("CHAT_SNAPSHOT_SIZE")
	cfg.Chat.MaxMessageLength = v.GetInt("CHAT_MAX_MESSAGE_LENGTH")
	cfg.Chat.RulesCacheTTL = v.GetDuration("CHAT_RULES_CACHE_TTL")
	cfg.Chat.LedgerTimeout = v.GetDuration("LEDGER_WRITE_TIMEOUT")
	cfg.Chat.StoreRetries = v.GetInt("STORE_RETRIES")

	cfg.Realtime.Broker = strings.ToLower(v.GetString("REALTIME_BROKER"))
	cfg.Realtime.ChatBuffer = v.GetInt("REALTIME_CHAT_BUFFER")
	cfg.Realtime.ReactionBuffer = v.GetInt("REALTIME_REACTION_BUFFER")
	cfg.Realtime.ReactionDisplay = v.GetDuration("REACTION_DISPLAY_DURATION")
	cfg.Realtime.ReactionRate = v.GetFloat64("REACTION_RATE")
	cfg.Realtime.ReactionBurst = v.GetInt("REACTION_BURST")
	cfg.Realtime.MaxConnsPerStream = v.GetInt("WS_MAX_CONNS_PER_STREAM")

	cfg.Telemetry.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.Telemetry.OTLPEndpoint = v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Telemetry.StdoutTraces = v.GetBool("TRACE_STDOUT")

	cfg.Relay.TwitchChannel = v.GetString("TWITCH_RELAY_CHANNEL")
	cfg.Relay.TwitchStreamID = v.GetUint("TWITCH_RELAY_STREAM_ID")
	cfg.Relay.TwitchUsername = v.GetString("TWITCH_BOT_USERNAME")
	cfg.Relay.TwitchToken = v.GetString("TWITCH_OAUTH_TOKEN")

	cfg.Vault.Enabled = v.GetBool("VAULT_ENABLED")
	cfg.Vault.Address = v.GetString("VAULT_ADDR")
	cfg.Vault.Token = v.GetString("VAULT_TOKEN")
	cfg.Vault.Namespace = v.GetString("VAULT_NAMESPACE")
	cfg.Vault.SecretsPath = v.GetString("VAULT_SECRETS_PATH")

	cfg.OpenAPI.SchemaPath = v.GetString("OPENAPI_SCHEMA_PATH")

	if cfg.Realtime.Broker != "memory" && cfg.Realtime.Broker != "redis" {
		return nil, fmt.Errorf("unknown REALTIME_BROKER %q", cfg.Realtime.Broker)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8081")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVER_TIMEOUT", 30*time.Second)
	v.SetDefault("GRPC_PORT", "")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "streamkit")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_TIMEOUT", 5*time.Second)

	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	v.SetDefault("JWT_EXPIRY", 24*time.Hour)

	v.SetDefault("RATE_LIMIT", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("MAX_BODY_SIZE", 1<<20)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CHAT_SNAPSHOT_SIZE", 50)
	v.SetDefault("CHAT_MAX_MESSAGE_LENGTH", 500)
	v.SetDefault("CHAT_RULES_CACHE_TTL", 5*time.Second)
	v.SetDefault("LEDGER_WRITE_TIMEOUT", 5*time.Second)
	v.SetDefault("STORE_RETRIES", 3)

	v.SetDefault("REALTIME_BROKER", "memory")
	v.SetDefault("REALTIME_CHAT_BUFFER", 256)
	v.SetDefault("REALTIME_REACTION_BUFFER", 64)
	v.SetDefault("REACTION_DISPLAY_DURATION", 3*time.Second)
	v.SetDefault("REACTION_RATE", 5)
	v.SetDefault("REACTION_BURST", 10)
	v.SetDefault("WS_MAX_CONNS_PER_STREAM", 5000)

	v.SetDefault("OTEL_SERVICE_NAME", "streamkit")
	v.SetDefault("TRACE_STDOUT", false)

	v.SetDefault("VAULT_ENABLED", false)
	v.SetDefault("VAULT_SECRETS_PATH", "streamkit")

	v.SetDefault("OPENAPI_SCHEMA_PATH", "api/openapi.yaml")
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DSN returns the postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
