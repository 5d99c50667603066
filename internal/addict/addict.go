// Package addict tracks how often each user triggers the bot within a rolling
// cooldown window. A user who triggers more than the limit inside the window is
// an addict and gets scolded instead of receiving another cat.
//
// State lives in process memory only and resets on restart.
package addict

import (
	"sync"
	"time"
)

// Defaults used when a [Checker] is built from a zero config.
const (
	DefaultLimit    = 2
	DefaultCooldown = time.Hour
)

// Checker maps user IDs to the ordered timestamps of their recent triggers.
//
// Invariant: after any call, no user has a timestamp older than
// now-cooldown, and no user with zero timestamps is present in the map.
type Checker struct {
	limit    int
	cooldown time.Duration
	now      func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// Option customizes a [Checker].
type Option func(*Checker)

// WithClock replaces the wall clock, used by tests to step time.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// New returns a Checker that flags users with more than limit triggers within
// cooldown. Non-positive arguments fall back to [DefaultLimit] and
// [DefaultCooldown].
func New(limit int, cooldown time.Duration, opts ...Option) *Checker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	c := &Checker{
		limit:    limit,
		cooldown: cooldown,
		now:      time.Now,
		events:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends the current time to userID's history, then purges expired
// entries for every tracked user.
func (c *Checker) Record(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.events[userID] = append(c.events[userID], now)
	c.purgeLocked(now)
}

// IsAddict reports whether userID has strictly more than limit triggers
// inside the cooldown window. Expired entries are purged first.
func (c *Checker) IsAddict(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(c.now())
	return len(c.events[userID]) > c.limit
}

// Purge drops every timestamp older than the cooldown window and forgets
// users left with none.
func (c *Checker) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked(c.now())
}

// Count returns the number of retained triggers for userID.
func (c *Checker) Count(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events[userID])
}

// Len returns the number of users currently tracked.
func (c *Checker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

// purgeLocked keeps timestamps strictly newer than now-cooldown. Timestamps
// are appended in order, so the first retained index splits the slice.
func (c *Checker) purgeLocked(now time.Time) {
	cutoff := now.Add(-c.cooldown)
	for user, times := range c.events {
		i := 0
		for i < len(times) && !times[i].After(cutoff) {
			i++
		}
		if i == len(times) {
			delete(c.events, user)
			continue
		}
		if i > 0 {
			c.events[user] = append(times[:0], times[i:]...)
		}
	}
}
