// Package ratelimit implements sliding-window request limiting keyed by
// client address.
//
// Every consumption is timestamped. A key may consume at most Max points in
// any Window-long interval; once full, the next point becomes available when
// the oldest recorded consumption leaves the window.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Defaults used when a Config leaves a field zero.
const (
	DefaultMax    = 5
	DefaultWindow = 900 * time.Second
)

// Config sets the quota shared by every key.
type Config struct {
	Max    int
	Window time.Duration

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Max <= 0 {
		c.Max = DefaultMax
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Result describes the outcome of one Consume call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int

	// RetryAfter is set on rejection: the time until the oldest consumption
	// in the window expires.
	RetryAfter time.Duration

	// ResetAt is when the oldest consumption in the window expires.
	ResetAt time.Time
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1.
func (r Result) RetryAfterSeconds() int {
	s := int(math.Ceil(r.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Limiter consumes points for a key.
type Limiter interface {
	Consume(ctx context.Context, key string) (Result, error)
}

// Evictor is implemented by limiters whose stale entries are removed by a
// periodic task rather than on access.
type Evictor interface {
	Evict(ctx context.Context) (int, error)
}

func allowed(cfg Config, count int, oldest time.Time) Result {
	return Result{
		Allowed:   true,
		Limit:     cfg.Max,
		Remaining: cfg.Max - count,
		ResetAt:   oldest.Add(cfg.Window),
	}
}

func rejected(cfg Config, oldest, now time.Time) Result {
	reset := oldest.Add(cfg.Window)
	return Result{
		Allowed:    false,
		Limit:      cfg.Max,
		Remaining:  0,
		RetryAfter: reset.Sub(now),
		ResetAt:    reset,
	}
}
