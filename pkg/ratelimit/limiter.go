// Package ratelimit keeps one token bucket per key (client IP, viewer id) and
// forgets keys that have been idle for longer than the configured expiry.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options configures a KeyedLimiter
type Options struct {
	// Limit defines events per second
	Limit rate.Limit
	// Burst defines maximum burst size allowed
	Burst int
	// ExpiryDuration defines how long to keep idle keys in memory
	ExpiryDuration time.Duration
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Limit:          5,
		Burst:          10,
		ExpiryDuration: time.Hour,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter is a set of token buckets indexed by key
type KeyedLimiter struct {
	mu      sync.Mutex
	options Options
	entries map[string]*entry
}

// New creates a KeyedLimiter
func New(options Options) *KeyedLimiter {
	if options.ExpiryDuration <= 0 {
		options.ExpiryDuration = time.Hour
	}
	return &KeyedLimiter{
		options: options,
		entries: make(map[string]*entry),
	}
}

// Allow reports whether an event for key may happen now
func (l *KeyedLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Len returns the number of tracked keys
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.options.Limit, l.options.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Sweep drops keys idle for longer than the expiry
func (l *KeyedLimiter) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.options.ExpiryDuration {
			delete(l.entries, k)
		}
	}
}

// Run sweeps idle keys every interval until ctx is done
func (l *KeyedLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}
