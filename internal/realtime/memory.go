package realtime

import (
	"context"
	"sync"
)

// MemoryBroker fans out within a single process
type MemoryBroker struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Subscription
	closed   bool
}

// NewMemoryBroker creates an in-process broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		channels: make(map[string]map[string]*Subscription),
	}
}

// Publish delivers payload to every current subscriber of channel
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	subs := make([]*Subscription, 0, len(b.channels[channel]))
	for _, s := range b.channels[channel] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	fanOut(subs, payload)
	return nil
}

// Subscribe registers a subscriber on channel
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, opts ...SubscribeOption) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := newSubscription(ctx, channel, buildOptions(opts), b.remove)
	if b.channels[channel] == nil {
		b.channels[channel] = make(map[string]*Subscription)
	}
	b.channels[channel][sub.ID] = sub
	return sub, nil
}

// Subscribers returns the number of live subscribers on channel
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

func (b *MemoryBroker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.channels[s.Channel]; ok {
		delete(subs, s.ID)
		if len(subs) == 0 {
			delete(b.channels, s.Channel)
		}
	}
}

// Close ends every subscription
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*Subscription
	for _, chSubs := range b.channels {
		for _, s := range chSubs {
			subs = append(subs, s)
		}
	}
	b.channels = make(map[string]map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}
