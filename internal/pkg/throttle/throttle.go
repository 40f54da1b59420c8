// Package throttle holds an in-process per-key cooldown. It is used for the
// OTP resend cooldown when Redis is not configured.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Cooldown allows one event per key per window.
type Cooldown struct {
	mu      sync.Mutex
	entries map[string]*entry
	window  time.Duration
	now     func() time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		entries: make(map[string]*entry),
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now and, if so, starts its window.
func (c *Cooldown) Allow(_ context.Context, key string) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(now)

	e, ok := c.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Every(c.window), 1)}
		c.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// Release forgets key so its next Allow succeeds.
func (c *Cooldown) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// evict drops keys whose window has fully elapsed. Caller holds mu.
func (c *Cooldown) evict(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.lastSeen) > c.window {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of tracked keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
