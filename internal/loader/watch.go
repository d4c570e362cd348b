package loader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/identity"
)

// restartWatcher (re)starts the periodic sign-out re-check. The previous
// watcher, if any, is cancelled first; Close cancels unconditionally.
func (c *Controller) restartWatcher() {
	c.mu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.watchCancel = cancel
	interval := c.opts.SignOutInterval
	c.mu.Unlock()

	go c.watch(ctx, interval)
}

// watch re-checks host-page identity while the widget is open. If the page
// no longer has a customer and a customer was previously delivered, the
// sign-out is propagated into the frame and the launcher resets to the
// default variant. The check silently no-ops when the frame is closed or
// nothing was ever delivered.
func (c *Controller) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkSignOut(ctx)
		}
	}
}

func (c *Controller) checkSignOut(ctx context.Context) {
	c.mu.Lock()
	open := c.state.IsOpen()
	delivered := c.lastSentID != ""
	cfg := c.cfg
	c.mu.Unlock()

	if !open || !delivered {
		return
	}

	page := c.opts.Page.Snapshot()
	in := identity.Input{Page: page, Config: cfg}

	// Still signed in according to the synchronous sources: nothing to do.
	if c.opts.Resolver.ResolveSync(ctx, in).Authenticated() {
		return
	}

	// Without api/store config there is no way to double-check; the empty
	// synchronous read is all the evidence there will be.
	if cfg.APIURL == "" || !identity.IsValidStoreHash(cfg.StoreHash) {
		c.resetToDefault(ctx, true)
		return
	}

	id, err := c.opts.Resolver.Resolve(ctx, in)
	if err != nil {
		// Network flakiness is not a sign-out. Keep the delivered customer
		// and try again next tick.
		c.logger.Debug("sign-out re-check inconclusive", zap.Error(err))
		return
	}
	if id.Authenticated() {
		return
	}

	c.mu.Lock()
	stillRelevant := c.state.IsOpen() && c.lastSentID != ""
	c.mu.Unlock()
	if stillRelevant {
		c.resetToDefault(ctx, true)
	}
}
