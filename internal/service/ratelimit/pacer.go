package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer spaces outbound upstream calls by at least minInterval, plus jitter
// whenever it actually has to wait. One Pacer is shared per process, so the
// clock carries over between invocations.
type Pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	maxJitter   time.Duration
	nextAllowed time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

type PacerOption func(*Pacer)

// WithClock replaces time.Now and the sleep function (tests).
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		p.now = now
		p.sleep = sleep
	}
}

// WithJitter replaces the uniform jitter source.
func WithJitter(fn func(max time.Duration) time.Duration) PacerOption {
	return func(p *Pacer) {
		p.jitter = fn
	}
}

func NewPacer(minInterval, maxJitter time.Duration, opts ...PacerOption) *Pacer {
	p := &Pacer{
		minInterval: minInterval,
		maxJitter:   maxJitter,
		now:         time.Now,
		sleep:       Sleep,
		jitter:      UniformJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire blocks until the caller may issue the next request.
// It returns ctx.Err() if the context ends while waiting.
func (p *Pacer) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Before(p.nextAllowed) {
		wait := p.nextAllowed.Sub(now) + p.jitter(p.maxJitter)
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
		now = p.now()
	}
	p.nextAllowed = now.Add(p.minInterval)
	return nil
}

// MinInterval returns the configured spacing.
func (p *Pacer) MinInterval() time.Duration {
	return p.minInterval
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UniformJitter returns a uniform duration in [0, max).
func UniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
