package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is the single gate every remote-visible operation passes through
type Limiter interface {
	// Wait blocks for the configured pause, or until ctx is done
	Wait(ctx context.Context) error
}

// Delay pauses for a fixed duration on every call. Concurrent callers are
// serialized so that N calls always take at least N times the delay in total.
type Delay struct {
	delay time.Duration
	mu    sync.Mutex
	waits int64
}

// NewDelay creates a fixed delay limiter. A non-positive delay never blocks.
func NewDelay(delay time.Duration) *Delay {
	if delay < 0 {
		delay = 0
	}
	return &Delay{delay: delay}
}

// Wait blocks for the configured delay
func (d *Delay) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits++

	if d.delay <= 0 {
		return nil
	}

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay returns the configured pause
func (d *Delay) Delay() time.Duration {
	return d.delay
}

// Waits returns how many times Wait has been called
func (d *Delay) Waits() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waits
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
