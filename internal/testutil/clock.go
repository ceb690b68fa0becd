// Package testutil provides the deterministic test doubles the engine and
// harness tests are built on: a hand-advanced clock, a fixed token
// generator, and a scripted transport over an in-memory document store.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when a test advances it.
// Waiters registered through Wake hold absolute deadlines, so advancing
// past several deadlines at once fires all of them; the engine re-checks
// its own deadlines on every wake, which makes extra or stale fires
// harmless.
//
// Safe for concurrent use: the engine loop reads while the test advances.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

// NewFakeClock returns a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Wake returns a channel that delivers one tick when the clock reaches t.
// A deadline at or before the current time fires immediately.
func (c *FakeClock) Wake(t time.Time) <-chan time.Time {
	ch := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.After(c.now) {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: t, ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceToLocked(c.now.Add(d))
}

// AdvanceTo moves the clock to t. Panics if t is in the past: tests that
// rewind time are broken tests.
func (c *FakeClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceToLocked(t)
}

func (c *FakeClock) advanceToLocked(t time.Time) {
	if t.Before(c.now) {
		panic("testutil: fake clock cannot move backwards")
	}
	c.now = t

	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at.After(c.now) {
			kept = append(kept, w)
			continue
		}
		// Buffered channel, exactly one send per waiter: never blocks.
		w.ch <- c.now
	}
	c.waiters = kept
}

// Waiters returns the number of armed wake channels. Tests use it to
// observe that a consumer has gone to sleep on a deadline.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
