// Package throttle paces outbound requests to the market data provider.
package throttle

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Options configure pacing. A zero RPS disables the shared token bucket.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	RPS      float64
	Burst    int
}

// Pacer combines a randomized per-call delay with an optional shared rate limit.
// It is safe for concurrent use by scan workers.
type Pacer struct {
	opts    Options
	limiter *rate.Limiter
	int64n  func(int64) int64
}

// New constructs a pacer. MaxDelay below MinDelay is raised to MinDelay.
func New(opts Options) *Pacer {
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	p := &Pacer{opts: opts, int64n: rand.Int64N}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return p
}

// Delay draws the next randomized pause in [MinDelay, MaxDelay].
func (p *Pacer) Delay() time.Duration {
	span := int64(p.opts.MaxDelay - p.opts.MinDelay)
	if span <= 0 {
		return p.opts.MinDelay
	}
	return p.opts.MinDelay + time.Duration(p.int64n(span+1))
}

// Wait blocks for a rate-limit token and then the randomized delay.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Limiter exposes the shared token bucket, nil when disabled.
func (p *Pacer) Limiter() *rate.Limiter { return p.limiter }
