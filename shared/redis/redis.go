package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the shared client
type Options struct {
	Addr     string
	Password string
	DB       int
}

// RedisClient wraps the go-redis client used for cross-instance fan-out
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a client; it does not dial until first use
func NewRedisClient(opts Options) *RedisClient {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisClient{client: client}
}

// Ping checks connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Publish sends payload to every subscriber of channel on any instance
func (r *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pub/sub connection on channel and waits for the confirmation
func (r *RedisClient) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return ps, nil
}

// Close releases the connection pool
func (r *RedisClient) Close() error {
	return r.client.Close()
}
