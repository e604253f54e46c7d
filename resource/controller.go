// Package resource provides admission control for identity resolution and
// bandwidth limits for background snapshot uploads.
package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrOverloaded is returned by TryAcquire when every in-flight slot is taken.
var ErrOverloaded = errors.New("resource: too many in-flight resolutions")

// Config holds resource limits. Zero values mean unlimited.
type Config struct {
	// MaxInFlight bounds concurrent Resolve calls.
	MaxInFlight int64

	// RatePerSecond bounds admitted Resolve calls per second.
	RatePerSecond float64

	// Burst is the rate limiter bucket size. Defaults to max(1, RatePerSecond).
	Burst int

	// IOLimitBytesPerSec is the maximum snapshot upload throughput.
	IOLimitBytesPerSec int64
}

// Controller gates admission. A nil *Controller admits everything.
type Controller struct {
	cfg Config

	sem      *semaphore.Weighted // nil if unlimited
	limiter  *rate.Limiter       // nil if unlimited
	inFlight atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MaxInFlight > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.RatePerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// Config returns the limits the controller was built with.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// Wait blocks until the rate limiter admits one call.
func (c *Controller) Wait(ctx context.Context) error {
	if c == nil || c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Acquire waits for the rate limiter and then for an in-flight slot.
// Every successful Acquire must be paired with Release.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquire reserves an in-flight slot without blocking. It ignores the
// rate limiter.
func (c *Controller) TryAcquire() error {
	if c == nil {
		return nil
	}
	if c.sem != nil && !c.sem.TryAcquire(1) {
		return ErrOverloaded
	}
	c.inFlight.Add(1)
	return nil
}

// Release returns an in-flight slot.
func (c *Controller) Release() {
	if c == nil {
		return
	}
	if c.sem != nil {
		c.sem.Release(1)
	}
	c.inFlight.Add(-1)
}

// InFlight returns the number of currently admitted calls.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than one second of budget are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
