// Package realtime fans out stream events to subscribers, in process or across
// instances through redis pub/sub.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrBrokerClosed is returned by a broker after Close
var ErrBrokerClosed = errors.New("broker closed")

// Broker publishes payloads on named channels
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a subscriber; it is closed when ctx ends or Close is called
	Subscribe(ctx context.Context, channel string, opts ...SubscribeOption) (*Subscription, error)
	Close() error
}

// OverflowPolicy decides what happens when a subscriber's buffer is full
type OverflowPolicy int

const (
	// OverflowDrop discards the event and keeps the subscriber
	OverflowDrop OverflowPolicy = iota
	// OverflowEvict closes the subscriber so it can resubscribe and converge
	OverflowEvict
)

func (p OverflowPolicy) String() string {
	if p == OverflowEvict {
		return "evict"
	}
	return "drop"
}

const defaultBuffer = 64

type subscribeOptions struct {
	buffer   int
	overflow OverflowPolicy
}

// SubscribeOption customises a subscription
type SubscribeOption func(*subscribeOptions)

// WithBuffer sets the subscriber's channel capacity
func WithBuffer(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithOverflow sets the overflow policy
func WithOverflow(p OverflowPolicy) SubscribeOption {
	return func(o *subscribeOptions) {
		o.overflow = p
	}
}

func buildOptions(opts []SubscribeOption) subscribeOptions {
	o := subscribeOptions{buffer: defaultBuffer, overflow: OverflowDrop}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Subscription is one subscriber's view of a channel. C is closed once the
// subscription ends, whether by Close, context cancellation or eviction.
type Subscription struct {
	ID      string
	Channel string

	ch       chan []byte
	overflow OverflowPolicy
	dropped  atomic.Int64

	mu      sync.Mutex
	closed  bool
	evicted bool

	detachOnce sync.Once
	onDetach   func(*Subscription)
	stop       func() bool
}

func newSubscription(ctx context.Context, channel string, o subscribeOptions, onDetach func(*Subscription)) *Subscription {
	s := &Subscription{
		ID:       uuid.NewString(),
		Channel:  channel,
		ch:       make(chan []byte, o.buffer),
		overflow: o.overflow,
		onDetach: onDetach,
	}
	s.mu.Lock()
	s.stop = context.AfterFunc(ctx, s.Close)
	s.mu.Unlock()
	return s
}

// C delivers payloads in publish order
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close ends the subscription; safe to call more than once
func (s *Subscription) Close() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.detach()

	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
}

// Evicted reports whether the subscription was closed for falling behind
func (s *Subscription) Evicted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Dropped is the number of payloads discarded under OverflowDrop
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) detach() {
	s.detachOnce.Do(func() {
		if s.onDetach != nil {
			s.onDetach(s)
		}
	})
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// deliver hands payload to the subscriber without blocking. It returns false
// once the subscription is closed, including when this call evicted it.
func (s *Subscription) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- payload:
		return true
	default:
	}

	if s.overflow == OverflowEvict {
		s.evicted = true
		s.closeLocked()
		return false
	}
	s.dropped.Add(1)
	return true
}

// fanOut delivers to each subscriber and detaches the ones that are gone
func fanOut(subs []*Subscription, payload []byte) {
	for _, s := range subs {
		if !s.deliver(payload) {
			s.detach()
		}
	}
}
