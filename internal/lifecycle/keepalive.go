// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scribeline/sessionkeeper/internal/transport"
	"github.com/scribeline/sessionkeeper/pkg/errutil"
)

// startKeepAliveLocked arms the keep-alive loop for epoch. c.mu must be held.
func (c *Controller) startKeepAliveLocked(epoch uint64) {
	if c.closed || c.keepAlive != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.keepAlive = cancel
	ticker := c.newTicker(c.interval)

	c.wg.Add(1)
	go c.runKeepAlive(ctx, ticker, epoch)
}

// stopKeepAliveLocked cancels the keep-alive loop and its in-flight request
// without waiting for it. c.mu must be held.
func (c *Controller) stopKeepAliveLocked() {
	if c.keepAlive != nil {
		c.keepAlive()
		c.keepAlive = nil
	}
}

func (c *Controller) runKeepAlive(ctx context.Context, ticker Ticker, epoch uint64) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.cycle(ctx, epoch); errors.Is(err, ErrRefreshInFlight) {
				c.logger.Debug("keep-alive tick skipped, refresh already running")
			}
		}
	}
}

// Refresh runs one keep-alive cycle now.
func (c *Controller) Refresh(ctx context.Context) error {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	c.mu.Lock()
	if c.keepAlive == nil {
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	epoch := c.epoch
	c.mu.Unlock()

	return c.cycle(ctx, epoch)
}

// cycle refreshes the session. If the refresh fails the identity probe
// decides: success keeps the session, an unauthorized or forbidden rejection
// ends it and anything else waits for the next tick.
func (c *Controller) cycle(ctx context.Context, epoch uint64) error {
	outcome, err := c.runCycle(ctx, epoch)
	KeepAliveCycles.WithLabelValues(outcome).Inc()
	if c.onCycle != nil {
		c.onCycle(CycleResult{Outcome: outcome, Err: err, At: time.Now()})
	}
	return err
}

func (c *Controller) runCycle(ctx context.Context, epoch uint64) (string, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return CycleSkipped, ErrRefreshInFlight
	}
	defer c.inFlight.Store(false)

	start := time.Now()
	refreshErr := c.transport.RefreshSession(ctx)
	if refreshErr == nil {
		c.logger.DebugContext(ctx, "session refreshed", "duration", time.Since(start))
		return CycleRefreshed, nil
	}
	if ctx.Err() != nil {
		return CycleCancelled, ctx.Err()
	}
	c.logger.DebugContext(ctx, "refresh failed, probing identity",
		"kind", transport.KindOf(refreshErr).String(),
		"error", refreshErr)

	id, err := c.transport.CurrentIdentity(ctx)
	if err == nil {
		c.mu.Lock()
		if c.liveLocked(epoch) && c.mut.ReplaceIdentity(id) {
			c.logger.InfoContext(ctx, "identity changed on server", "username", id.Username)
		}
		c.mu.Unlock()
		return CycleProbed, nil
	}

	// A rejected probe may already have ended the session through the
	// transport's notification, which also cancels ctx. It is still a
	// failed cycle, so the error is classified before ctx is consulted.
	// A credential cleared locally while the cycle was being cancelled
	// (logout, close) is not a rejection.
	cancelled := ctx.Err() != nil
	if transport.IsFatal(err) && !(cancelled && errors.Is(err, transport.ErrNoCredential)) {
		c.mu.Lock()
		if c.liveLocked(epoch) {
			c.failLocked(ctx)
		}
		c.mu.Unlock()
		return CycleFailed, err
	}
	if cancelled {
		return CycleCancelled, ctx.Err()
	}

	errutil.LogErrorContext(ctx, c.logger.With("kind", transport.KindOf(err).String()),
		slog.LevelWarn, "identity probe failed, retrying on next tick", err)
	return CycleTransient, err
}

// liveLocked reports whether results for epoch may still touch the store.
// c.mu must be held.
func (c *Controller) liveLocked(epoch uint64) bool {
	return !c.closed && c.epoch == epoch
}
