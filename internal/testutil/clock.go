package testutil

import (
	"context"
	"sync"
	"time"
)

// Clock is a simulated clock whose sleeps advance time instantly.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
}

// NewClock returns a Clock fixed at the provided time.
func NewClock(start time.Time) *Clock {
	return &Clock{current: start}
}

// Now returns the simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep advances the clock by d without blocking.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.current = c.current.Add(d)
	return nil
}

// Sleeps returns every duration passed to Sleep.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
