// Package ratelimit implements the Rate Governor: a process-wide
// token-bucket bandwidth limiter consumed by every worker on every byte
// read, built on golang.org/x/time/rate.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Governor admits bytes at a configured rate with burst capped at one
// second of that rate. A rate of 0 means unlimited: Consume is a no-op.
type Governor struct {
	limiter *rate.Limiter
}

// New builds a Governor for ratePerSec bytes/sec. ratePerSec <= 0 means
// unlimited.
func New(ratePerSec int64) *Governor {
	if ratePerSec <= 0 {
		return &Governor{}
	}
	return &Governor{limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec))}
}

// Consume blocks until n bytes worth of tokens are available, or ctx is
// canceled. A single large chunk is split into limiter-burst-sized waits
// since x/time/rate rejects a request larger than its burst.
func (g *Governor) Consume(ctx context.Context, n int) error {
	if g == nil || g.limiter == nil || n <= 0 {
		return nil
	}
	burst := g.limiter.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := g.limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// SetRate updates the token-bucket rate and burst in place, supporting
// the Controller's UpdateLimits at runtime.
func (g *Governor) SetRate(ratePerSec int64) {
	if ratePerSec <= 0 {
		g.limiter = nil
		return
	}
	if g.limiter == nil {
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec))
		return
	}
	g.limiter.SetLimit(rate.Limit(ratePerSec))
	g.limiter.SetBurst(int(ratePerSec))
}
