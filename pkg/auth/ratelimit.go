package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter checks whether a request should be allowed based on
// the identity's service tier.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// InProcessLimiter is a fixed-window limiter keyed by subject and tier.
// Each project creation or message starts an agent run, so the limit bounds
// how many sandboxes and model calls a single user can trigger.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int
	mu         sync.Mutex
	counters   map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

func tierOf(identity *Identity) string {
	if identity.ServiceTier == "" {
		return "default"
	}
	return identity.ServiceTier
}

// NewInProcessLimiter creates a rate limiter with per-tier configuration.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		counters:   make(map[string]*counter),
	}
}

// Allow checks if the request is within the rate limit.
// Fails open: any internal error allows the request.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := tierOf(identity)

	rpm := l.defaultRPM
	if tc, ok := l.tiers[tier]; ok {
		rpm = tc.RequestsPerMinute
	}

	if rpm <= 0 {
		return nil // no limit
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.counters) > maxCounters {
		l.sweep(now)
	}
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		// New window.
		l.counters[key] = &counter{count: 1, windowAt: now}
		return nil
	}

	c.count++
	if c.count > rpm {
		return ErrTooManyRequests
	}

	return nil
}

// maxCounters bounds the counter map before expired windows are swept.
const maxCounters = 10000

func (l *InProcessLimiter) sweep(now time.Time) {
	for key, c := range l.counters {
		if now.Sub(c.windowAt) >= time.Minute {
			delete(l.counters, key)
		}
	}
}
