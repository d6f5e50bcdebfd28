// Package backoff implements the Backoff Coordinator: a shared
// "quiet-until" timestamp that every worker consults before issuing a
// network request, tripped by throttling or overload signals from any
// worker in the pool.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Reason identifies why a worker tripped the shared pause.
type Reason string

const (
	ReasonThrottled  Reason = "throttled"
	ReasonOverloaded Reason = "overloaded"
)

const (
	minQuiet = 30 * time.Second
	maxQuiet = 60 * time.Second
)

// Coordinator holds the shared quiet-until stamp. Zero value is ready to
// use with no pause in effect.
type Coordinator struct {
	mu        sync.Mutex
	quietUntil time.Time
	now        func() time.Time
}

// New returns a ready Coordinator.
func New() *Coordinator {
	return &Coordinator{now: time.Now}
}

// Trip sets the quiet-until stamp to now + random(30s, 60s), taking the
// max against any existing later pause so simultaneous trips never
// shorten an in-progress one.
func (c *Coordinator) Trip(reason Reason) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	jitter := time.Duration(rand.Int63n(int64(maxQuiet - minQuiet)))
	candidate := c.now().Add(minQuiet + jitter)
	if candidate.After(c.quietUntil) {
		c.quietUntil = candidate
	}
	return c.quietUntil
}

// QuietUntil reports the current pause deadline, zero if none is active.
func (c *Coordinator) QuietUntil() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quietUntil
}

// Wait blocks until the wall clock passes the quiet-until stamp, or ctx is
// canceled. A cancellation aborts the wait immediately.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		until := c.quietUntil
		c.mu.Unlock()

		remaining := until.Sub(c.now())
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another trip may have extended the deadline while
			// this wait slept.
		}
	}
}
