// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package lifecycle

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultKeepAliveInterval is how often an authenticated session is refreshed.
const DefaultKeepAliveInterval = 5 * time.Minute

// Default login throttle: 10 attempts per minute with a burst of 5.
const (
	DefaultLoginRatePerMinute = 10
	DefaultLoginBurst         = 5
)

// Routes are the navigation targets used by the controller.
type Routes struct {
	// Landing is where a deliberate logout leads.
	Landing string
	// AccessDenied is where an expired or rejected session leads.
	AccessDenied string
}

// DefaultRoutes returns the standard landing and session-expired routes.
func DefaultRoutes() Routes {
	return Routes{Landing: "/", AccessDenied: "/session-expired"}
}

// Ticker drives the keep-alive loop.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) Chan() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()                  { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// CycleResult describes one completed keep-alive cycle.
type CycleResult struct {
	// Outcome is one of the Cycle* constants.
	Outcome string
	// Err is the error that decided the outcome, if any.
	Err error
	At  time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeepAliveInterval sets the keep-alive period.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTicker replaces the ticker factory used by the keep-alive loop.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(c *Controller) {
		if newTicker != nil {
			c.newTicker = newTicker
		}
	}
}

// WithLoginLimiter sets the client-side login throttle. A nil limiter
// disables throttling.
func WithLoginLimiter(l *rate.Limiter) Option {
	return func(c *Controller) {
		c.limiter = l
	}
}

// WithLoginRate configures the login throttle from a per-minute rate and burst.
// A non-positive rate disables throttling.
func WithLoginRate(perMinute float64, burst int) Option {
	return func(c *Controller) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

// WithCycleHook registers fn to be called after every keep-alive cycle,
// scheduled or on demand. fn runs on the cycle's goroutine and must not block.
func WithCycleHook(fn func(CycleResult)) Option {
	return func(c *Controller) {
		c.onCycle = fn
	}
}

// WithRoutes sets the navigation targets. Empty fields keep their defaults.
func WithRoutes(r Routes) Option {
	return func(c *Controller) {
		if r.Landing != "" {
			c.routes.Landing = r.Landing
		}
		if r.AccessDenied != "" {
			c.routes.AccessDenied = r.AccessDenied
		}
	}
}
