package realtime

import (
	"context"
	"fmt"
	"sync"

	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/resilience"
	sharedredis "streamkit/backend/shared/redis"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans out across instances. Each channel holds one redis
// subscription shared by every local subscriber of that channel.
type RedisBroker struct {
	client  *sharedredis.RedisClient
	log     *logger.Logger
	breaker *resilience.CircuitBreaker
	prefix  string

	mu       sync.Mutex
	channels map[string]*redisChannel
	closed   bool
}

type redisChannel struct {
	pubsub *redis.PubSub
	subs   map[string]*Subscription
	done   chan struct{}
}

// NewRedisBroker creates a broker over client; channel names are namespaced by prefix
func NewRedisBroker(client *sharedredis.RedisClient, prefix string, log *logger.Logger) *RedisBroker {
	log = log.WithComponent("redis_broker")
	return &RedisBroker{
		client:   client,
		log:      log,
		breaker:  resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("redis_publish"), log),
		prefix:   prefix,
		channels: make(map[string]*redisChannel),
	}
}

func (b *RedisBroker) key(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return b.prefix + ":" + channel
}

// Publish sends payload to every instance subscribed to channel
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	err := b.breaker.Execute(func() error {
		return b.client.Publish(ctx, b.key(channel), payload)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a local subscriber, opening the shared redis
// subscription on first use
func (b *RedisBroker) Subscribe(ctx context.Context, channel string, opts ...SubscribeOption) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	rc, ok := b.channels[channel]
	if !ok {
		pubsub, err := b.client.Subscribe(ctx, b.key(channel))
		if err != nil {
			return nil, err
		}
		rc = &redisChannel{
			pubsub: pubsub,
			subs:   make(map[string]*Subscription),
			done:   make(chan struct{}),
		}
		b.channels[channel] = rc
		go b.pump(channel, rc)
		b.log.Debug("Opened redis subscription", "channel", channel)
	}

	sub := newSubscription(ctx, channel, buildOptions(opts), b.remove)
	rc.subs[sub.ID] = sub
	return sub, nil
}

func (b *RedisBroker) pump(channel string, rc *redisChannel) {
	defer close(rc.done)

	for msg := range rc.pubsub.Channel() {
		b.mu.Lock()
		subs := make([]*Subscription, 0, len(rc.subs))
		for _, s := range rc.subs {
			subs = append(subs, s)
		}
		b.mu.Unlock()

		fanOut(subs, []byte(msg.Payload))
	}
	b.log.Debug("Redis subscription ended", "channel", channel)
}

func (b *RedisBroker) remove(s *Subscription) {
	b.mu.Lock()
	rc, ok := b.channels[s.Channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(rc.subs, s.ID)
	last := len(rc.subs) == 0
	if last {
		delete(b.channels, s.Channel)
	}
	b.mu.Unlock()

	if last {
		if err := rc.pubsub.Close(); err != nil {
			b.log.Warn("Failed to close redis subscription", "channel", s.Channel, "error", err.Error())
		}
	}
}

// Close ends every subscription and the shared redis subscriptions
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*Subscription
	for _, rc := range b.channels {
		for _, s := range rc.subs {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

// Healthy reports whether publishing is currently allowed by the breaker
func (b *RedisBroker) Healthy() bool {
	return b.breaker.GetState() != resilience.StateOpen
}

// BreakerMetrics returns the publish breaker's state and counters
func (b *RedisBroker) BreakerMetrics() map[string]interface{} {
	return b.breaker.GetMetrics()
}
