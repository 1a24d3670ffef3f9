// Package window provides an in-memory sliding-window event counter keyed by
// an arbitrary string. The gateway uses it to spot repeated authentication
// failures per client IP and the health probe uses it for the rolling error rate.
package window

import (
	"sync"
	"time"
)

// Counter counts events per key over a trailing window.
type Counter struct {
	mu        sync.Mutex
	window    time.Duration
	maxPerKey int
	now       func() time.Time
	events    map[string]*slidingWindow
}

// slidingWindow tracks event timestamps in arrival order.
type slidingWindow struct {
	timestamps []time.Time
}

// Option configures a Counter.
type Option func(*Counter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		c.now = now
	}
}

// WithMaxPerKey bounds retained timestamps per key; counts saturate at the cap.
func WithMaxPerKey(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.maxPerKey = n
		}
	}
}

// New creates a counter over the given trailing window.
func New(window time.Duration, opts ...Option) *Counter {
	c := &Counter{
		window:    window,
		maxPerKey: 10000,
		now:       time.Now,
		events:    make(map[string]*slidingWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record registers one event for key and returns the count inside the window,
// including this event.
func (c *Counter) Record(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	sw := c.events[key]
	if sw == nil {
		sw = &slidingWindow{}
		c.events[key] = sw
	}
	sw.cleanup(now, c.window)
	sw.timestamps = append(sw.timestamps, now)
	if over := len(sw.timestamps) - c.maxPerKey; over > 0 {
		sw.timestamps = sw.timestamps[over:]
	}
	return len(sw.timestamps)
}

// Count returns the number of events for key inside the window.
func (c *Counter) Count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	sw := c.events[key]
	if sw == nil {
		return 0
	}
	sw.cleanup(c.now(), c.window)
	if len(sw.timestamps) == 0 {
		delete(c.events, key)
		return 0
	}
	return len(sw.timestamps)
}

// Reset forgets all events for key.
func (c *Counter) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, key)
}

// Prune drops keys with no events inside the window.
func (c *Counter) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, sw := range c.events {
		sw.cleanup(now, c.window)
		if len(sw.timestamps) == 0 {
			delete(c.events, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys, including ones not yet pruned.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// cleanup removes timestamps that fell out of the window.
func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
