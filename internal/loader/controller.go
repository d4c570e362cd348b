package loader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/backend"
	"github.com/favloyalty/widgetbridge/internal/bus"
	"github.com/favloyalty/widgetbridge/internal/embed"
	"github.com/favloyalty/widgetbridge/internal/hostpage"
	"github.com/favloyalty/widgetbridge/internal/identity"
	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/internal/session"
	"github.com/favloyalty/widgetbridge/model"
)

// SettingsFetcher is the slice of the backend client the loader needs for
// the boot-time theme prefetch.
type SettingsFetcher interface {
	ChannelSettings(ctx context.Context, storeHash, channelID string) (backend.ChannelSettings, error)
}

// HostActions are the host-page capabilities the frame requests through the
// bridge: newsletter subscription and coupon application ride the visitor's
// storefront session, which only the host has.
type HostActions interface {
	Subscribe(ctx context.Context, email string) error
	ApplyCoupon(ctx context.Context, couponCode string) error
}

// Options configures a Controller.
type Options struct {
	Defaults        Defaults
	Page            hostpage.Reader
	Surface         Surface
	Resolver        *identity.Resolver
	Settings        SettingsFetcher
	Actions         HostActions
	SessionStore    session.Store
	SessionTTL      time.Duration
	SignOutInterval time.Duration
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// Controller is the host loader: it owns the launcher, the frame lifecycle,
// identity delivery ordering, and the sign-out watcher. Exactly one
// controller runs per host page.
type Controller struct {
	id      string
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics

	runCtx context.Context

	mu          sync.Mutex
	cfg         model.WidgetConfiguration
	state       FrameState
	conn        bus.Conn
	placement   model.Placement
	theme       model.LauncherTheme
	lastSentID  string
	frameHeight int
	watchCancel context.CancelFunc

	mailbox Mailbox

	themeSettled chan struct{}
	settleOnce   sync.Once
}

// NewController creates a controller. Boot must be called before any other
// operation.
func NewController(opts Options) *Controller {
	if opts.SignOutInterval <= 0 {
		opts.SignOutInterval = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Controller{
		id:           id,
		opts:         opts,
		logger:       logger.With(zap.String("component", "loader"), zap.String("loaderId", id)),
		metrics:      opts.Metrics,
		state:        FrameUninitialized,
		placement:    model.DefaultPlacement,
		theme:        model.DefaultLauncherTheme(),
		themeSettled: make(chan struct{}),
	}
}

// Boot resolves configuration, styles the launcher with the default theme,
// and starts the asynchronous boot theme prefetch. The launcher is revealed
// only once that prefetch settles. A missing widget URL is fatal; every
// other gap degrades to the anonymous default state.
func (c *Controller) Boot(ctx context.Context) error {
	c.runCtx = ctx

	page := c.opts.Page.Snapshot()
	cfg, err := ResolveConfig(ctx, page, c.opts.Defaults, c.opts.SessionStore, c.opts.SessionTTL, c.logger)
	if err != nil {
		c.logger.Error("loader refusing to initialize", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.cfg = cfg
	c.placement = cfg.Position
	c.theme = model.DefaultLauncherTheme()
	c.mu.Unlock()

	c.opts.Surface.ApplyTheme(c.theme)
	c.opts.Surface.ApplyPlacement(cfg.Position, CornerInset)

	c.logger.Info("loader booted",
		zap.String("origin", cfg.StoreOrigin),
		zap.String("storeHash", cfg.StoreHash),
		zap.String("channelId", cfg.ChannelID))

	go c.bootTheme(ctx)
	return nil
}

// ThemeSettled is closed once the boot theme prefetch has finished, success
// or failure, and the launcher is visible.
func (c *Controller) ThemeSettled() <-chan struct{} { return c.themeSettled }

// bootTheme fetches channel settings once before first open so a signed-in
// visitor's launcher is not default-styled. Settings are applied first;
// sign-out is confirmed asynchronously afterwards, because the synchronous
// page read is often empty right after navigation.
func (c *Controller) bootTheme(ctx context.Context) {
	defer c.settleOnce.Do(func() {
		c.opts.Surface.ShowLauncher()
		close(c.themeSettled)
	})

	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	if c.opts.Settings == nil || cfg.APIURL == "" || !identity.IsValidStoreHash(cfg.StoreHash) || cfg.ChannelID == "" {
		return
	}

	settings, err := c.opts.Settings.ChannelSettings(ctx, cfg.StoreHash, cfg.ChannelID)
	if err != nil {
		// Launcher still shows at the initial position.
		c.logger.Warn("boot theme fetch failed", zap.Error(err))
		return
	}
	c.applyTheme(settings.Theme())

	// Fall back to the default variant only on a confirmed sign-out; an
	// inconclusive check keeps the fetched theme.
	id, rerr := c.opts.Resolver.Resolve(ctx, identity.Input{Page: c.opts.Page.Snapshot(), Config: cfg})
	if rerr == nil && !id.Authenticated() {
		c.resetToDefault(ctx, false)
	}
}

// Open creates the frame on first use, reveals it, and (re)starts identity
// delivery and the sign-out watcher. Reopens never recreate or reload the
// frame document.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	cfg := c.cfg
	alreadyOpen := c.state.IsOpen()
	created := c.state.Exists()
	placement := c.placement
	c.mu.Unlock()

	if alreadyOpen {
		return nil
	}

	// 1. Synchronous identity pass so the first paint is optimistic.
	syncID := c.opts.Resolver.ResolveSync(ctx, identity.Input{Page: c.opts.Page.Snapshot(), Config: cfg})
	openCfg := cfg
	openCfg.Position = placement
	if syncID.Authenticated() {
		openCfg = openCfg.MergeIdentity(syncID)
	}

	// 2. Create the frame exactly once.
	if !created {
		frameURL, err := embed.BuildFrameURL(openCfg)
		if err != nil {
			return err
		}
		conn, err := c.opts.Surface.CreateFrame(c.runCtx, frameURL)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.state = FrameCreated
		c.mu.Unlock()

		go c.frameDispatcher().Listen(c.runCtx, conn)
	}

	c.mu.Lock()
	c.cfg = openCfg
	c.lastSentID = openCfg.CustomerID
	c.state = FrameOpen
	conn := c.conn
	c.mu.Unlock()

	// 3. Reveal, offset from the launcher so the two never overlap.
	c.opts.Surface.ApplyPlacement(placement, OpenFrameOffset())
	c.opts.Surface.ShowFrame()
	c.metrics.RecordWidgetOpen()
	c.logger.Info("widget opened", zap.Bool("firstOpen", !created))

	// 4. A reopened frame already has its listener; tell it to refetch.
	if created {
		c.post(ctx, conn, model.WidgetOpened{})
	}

	// 5. Background resolution when the synchronous pass found nothing.
	if !syncID.Authenticated() && openCfg.APIURL != "" && openCfg.StoreHash != "" {
		future := NewIdentityFuture()
		go func() {
			id, err := c.opts.Resolver.Resolve(c.runCtx, identity.Input{Page: c.opts.Page.Snapshot(), Config: openCfg})
			future.Complete(id, err)
		}()
		if !created {
			// First open: the frame's listener does not exist yet. Park the
			// resolution until the frame announces readiness.
			c.mailbox.Put(future)
		} else {
			go c.deliverWhenDone(future)
		}
	}

	c.restartWatcher()
	return nil
}

// Close hides the frame, returns it to the resting placement, and cancels
// the sign-out watcher. The frame document is preserved.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	if !c.state.Exists() {
		c.mu.Unlock()
		return
	}
	c.state = FrameClosed
	placement := c.placement
	c.mu.Unlock()

	c.opts.Surface.HideFrame()
	c.opts.Surface.ApplyPlacement(placement, CornerInset)
	c.metrics.RecordWidgetClose()
	c.logger.Info("widget closed")
}

// Toggle opens or closes based on the current frame state.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	open := c.state.IsOpen()
	c.mu.Unlock()

	if open {
		c.Close()
		return nil
	}
	return c.Open(ctx)
}

// State reports the current frame lifecycle state.
func (c *Controller) State() FrameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Theme reports the currently applied launcher theme.
func (c *Controller) Theme() model.LauncherTheme {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

// Placement reports the current effective placement.
func (c *Controller) Placement() model.Placement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placement
}

// Config reports the current configuration.
func (c *Controller) Config() model.WidgetConfiguration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// frameDispatcher builds the exhaustive handler map for frame→host traffic.
func (c *Controller) frameDispatcher() *bus.Dispatcher {
	d := bus.NewDispatcher("host", c.logger, c.metrics)
	d.Handle(model.MsgWidgetLoaded, c.onWidgetLoaded)
	d.Handle(model.MsgWidgetHeight, c.onWidgetHeight)
	d.Handle(model.MsgWidgetClose, c.onWidgetClose)
	d.Handle(model.MsgWidgetTheme, c.onWidgetTheme)
	d.Handle(model.MsgApplyCoupon, c.onApplyCoupon)
	d.Handle(model.MsgSubscribeNewsletter, c.onSubscribeNewsletter)
	return d
}

// onWidgetLoaded consumes the readiness signal: any parked identity
// resolution is taken from the mailbox, exactly once, and delivered when it
// completes. This is the ordering guarantee that identity never reaches a
// frame whose listener does not exist yet.
func (c *Controller) onWidgetLoaded(ctx context.Context, _ model.Message) error {
	if future, ok := c.mailbox.Take(); ok {
		go c.deliverWhenDone(future)
	}
	return nil
}

func (c *Controller) deliverWhenDone(future *IdentityFuture) {
	select {
	case <-future.Done():
	case <-c.runCtx.Done():
		return
	}
	id, err := future.Result()
	if err != nil {
		// Inconclusive resolution delivers nothing rather than a false
		// sign-out.
		c.logger.Warn("background identity resolution failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	if !c.state.IsOpen() || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.lastSentID = id.CustomerID
	c.cfg = c.cfg.MergeIdentity(id)
	c.mu.Unlock()

	c.post(c.runCtx, conn, model.CustomerResolved{
		CustomerID:    id.CustomerID,
		CustomerEmail: id.CustomerEmail,
	})
	c.logger.Info("customer delivered to frame",
		zap.String("resolvedVia", id.ResolvedVia),
		zap.Bool("authenticated", id.Authenticated()))
}

func (c *Controller) onWidgetHeight(_ context.Context, msg model.Message) error {
	h := msg.(model.WidgetHeight).Height
	c.mu.Lock()
	c.frameHeight = ClampFrameHeight(h, embed.PreferredFrameHeight)
	clamped := c.frameHeight
	c.mu.Unlock()

	c.opts.Surface.SetFrameHeight(clamped)
	return nil
}

func (c *Controller) onWidgetClose(_ context.Context, _ model.Message) error {
	c.Close()
	return nil
}

// onWidgetTheme applies a theme pushed by the frame. The frame is the source
// of truth for launcher appearance; the host only applies.
func (c *Controller) onWidgetTheme(_ context.Context, msg model.Message) error {
	theme := msg.(model.WidgetTheme).LauncherTheme.Normalize()
	c.applyTheme(theme)
	return nil
}

// applyTheme styles the launcher and re-anchors launcher and frame together.
func (c *Controller) applyTheme(theme model.LauncherTheme) {
	c.mu.Lock()
	c.theme = theme
	c.placement = theme.Placement
	open := c.state.IsOpen()
	c.mu.Unlock()

	c.opts.Surface.ApplyTheme(theme)
	c.opts.Surface.ApplyPlacement(theme.Placement, FrameOffsetFor(theme.Placement, open))

	variant := "custom"
	if theme.IsDefault() {
		variant = "default"
	}
	c.metrics.RecordThemeApply(variant)
}

func (c *Controller) onApplyCoupon(ctx context.Context, msg model.Message) error {
	req := msg.(model.ApplyCoupon)
	go func() {
		result := model.ApplyCouponResult{Success: true, CouponID: req.CouponID}
		if err := c.opts.Actions.ApplyCoupon(c.runCtx, req.CouponCode); err != nil {
			result = model.ApplyCouponResult{Success: false, Error: userMessage(err), CouponID: req.CouponID}
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.post(c.runCtx, conn, result)
		}
	}()
	return nil
}

func (c *Controller) onSubscribeNewsletter(ctx context.Context, msg model.Message) error {
	req := msg.(model.SubscribeNewsletter)
	go func() {
		result := model.SubscribeNewsletterResult{Success: true}
		if err := c.opts.Actions.Subscribe(c.runCtx, req.Email); err != nil {
			result = model.SubscribeNewsletterResult{Success: false, Error: userMessage(err)}
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.post(c.runCtx, conn, result)
		}
	}()
	return nil
}

// resetToDefault pushes the hardcoded default theme and placement, and, when
// signOut is set, an empty identity into the frame. This is the sign-out
// propagation contract: a stale personalized theme never leaks to the next
// anonymous visitor.
func (c *Controller) resetToDefault(ctx context.Context, signOut bool) {
	c.mu.Lock()
	c.lastSentID = ""
	c.cfg = c.cfg.MergeIdentity(model.CustomerIdentity{})
	conn := c.conn
	c.mu.Unlock()

	if signOut && conn != nil {
		c.post(ctx, conn, model.CustomerResolved{})
	}
	c.applyTheme(model.DefaultLauncherTheme())
	if signOut {
		c.metrics.RecordSignOutReset()
		c.logger.Info("sign-out propagated, launcher reset to default")
	}
}

func (c *Controller) post(ctx context.Context, conn bus.Conn, msg model.Message) {
	if err := conn.Post(ctx, msg); err != nil {
		c.logger.Warn("post to frame failed",
			zap.String("type", string(msg.MessageType())),
			zap.Error(err))
	}
}

// userMessage extracts an inline-displayable message from an error.
func userMessage(err error) string {
	var be *model.BridgeError
	if errors.As(err, &be) {
		return be.Message
	}
	return "Something went wrong. Please try again."
}
