package embed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/backend"
	"github.com/favloyalty/widgetbridge/internal/bus"
	"github.com/favloyalty/widgetbridge/internal/identity"
	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/internal/session"
	"github.com/favloyalty/widgetbridge/model"
)

// PreferredFrameHeight is the frame height in pixels the application
// announces on mount.
const PreferredFrameHeight = 580

// BackendAPI is the slice of the backend client the application uses.
type BackendAPI interface {
	ChannelSettings(ctx context.Context, storeHash, channelID string) (backend.ChannelSettings, error)
	CurrentCustomer(ctx context.Context, auth backend.AuthEnvelope) (backend.CustomerState, error)
}

// Options configures an App.
type Options struct {
	FrameURL string
	// Config is the host-injected configuration, merged over the URL-carried
	// one. The customer JWT only travels here, never in the URL.
	Config     model.WidgetConfiguration
	Conn       bus.Conn
	Backend    BackendAPI
	Sessions   session.Store
	SessionTTL time.Duration
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// App is the embedded widget application: it reads its configuration from
// its own frame URL, announces readiness and preferred height, reacts to
// pushed host events, owns the theme it reports to the host, and runs
// host-mediated round-trips with a bounded wait.
type App struct {
	id      string
	conn    bus.Conn
	backend BackendAPI
	session session.Store
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	runCtx context.Context

	mu         sync.Mutex
	cfg        model.WidgetConfiguration
	theme      model.LauncherTheme
	points     int
	hasPoints  bool
	generation int
	lastError  string

	trips *RoundTrips
}

// NewApp creates the application from its frame URL and the host-injected
// configuration. An unparseable config parameter boots the anonymous default
// state, never an error.
func NewApp(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	cfg := MergeHostConfig(ParseFrameURL(opts.FrameURL), opts.Config)
	if cfg.CurrentCustomerJWT != "" && !identity.UsableCustomerJWT(cfg.CurrentCustomerJWT, time.Now()) {
		logger.Warn("customer jwt unusable, falling back to store-customer auth",
			zap.String("appId", id))
		cfg.CurrentCustomerJWT = ""
	}
	return &App{
		id:      id,
		conn:    opts.Conn,
		backend: opts.Backend,
		session: opts.Sessions,
		ttl:     opts.SessionTTL,
		logger:  logger.With(zap.String("component", "embed"), zap.String("appId", id)),
		metrics: opts.Metrics,
		cfg:     cfg,
		theme:   model.DefaultLauncherTheme(),
		trips:   NewRoundTrips(opts.Timeout, opts.Metrics),
	}
}

// Run mounts the application: attach the inbound listener, announce
// readiness and preferred height, and run the initial fetch pass. It blocks
// until ctx is cancelled or the host closes the channel.
func (a *App) Run(ctx context.Context) {
	a.runCtx = ctx

	d := bus.NewDispatcher("frame", a.logger, a.metrics)
	d.Handle(model.MsgCustomerResolved, a.onCustomerResolved)
	d.Handle(model.MsgWidgetOpened, a.onWidgetOpened)
	d.Handle(model.MsgApplyCouponResult, a.onApplyCouponResult)
	d.Handle(model.MsgSubscribeNewsletterResult, a.onSubscribeNewsletterResult)
	d.Handle(model.MsgWidgetTheme, a.onWidgetTheme)

	// Restore a persisted session customer before the first fetch so a
	// navigation inside the store does not drop to anonymous while the host
	// re-resolves.
	a.restoreSessionCustomer(ctx)

	// Readiness must be announced before anything else; the host holds
	// identity delivery until it sees this.
	a.post(ctx, model.WidgetLoaded{})
	a.post(ctx, model.WidgetHeight{Height: PreferredFrameHeight})

	go a.refresh(ctx, a.nextGeneration())

	d.Listen(ctx, a.conn)
}

// Config returns the application's current configuration.
func (a *App) Config() model.WidgetConfiguration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Theme returns the theme the application currently reports to the host.
func (a *App) Theme() model.LauncherTheme {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.theme
}

// Points returns the customer's point balance and whether one is loaded.
func (a *App) Points() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.points, a.hasPoints
}

// LastError returns the most recent inline error message, empty when the
// last operation succeeded.
func (a *App) LastError() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastError
}

func (a *App) nextGeneration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	return a.generation
}

func (a *App) currentGeneration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// refresh re-runs the identity- and points-dependent fetches. gen is the
// fetch generation: a newer trigger invalidates this pass, and stale results
// are discarded instead of overwriting fresher state.
func (a *App) refresh(ctx context.Context, gen int) {
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	if a.backend == nil || cfg.APIURL == "" || !cfg.HasStoreIdentity() {
		return
	}

	// 1. Channel settings drive the theme push.
	settings, err := a.backend.ChannelSettings(ctx, cfg.StoreHash, cfg.ChannelID)
	if gen != a.currentGeneration() {
		return
	}
	if err != nil {
		a.setError(userMessage(err))
		a.logger.Warn("channel settings fetch failed", zap.Error(err))
	} else {
		a.pushTheme(ctx, gen, settings.Theme())
	}

	// 2. Points state only for an authenticated customer. A JWT that has
	// expired since mount no longer counts as an auth mode.
	if cfg.CurrentCustomerJWT != "" && !identity.UsableCustomerJWT(cfg.CurrentCustomerJWT, time.Now()) {
		cfg.CurrentCustomerJWT = ""
		a.mu.Lock()
		a.cfg.CurrentCustomerJWT = ""
		a.mu.Unlock()
	}
	auth, ok := backend.EnvelopeFromConfig(cfg)
	if !ok {
		a.mu.Lock()
		a.hasPoints = false
		a.mu.Unlock()
		return
	}
	state, err := a.backend.CurrentCustomer(ctx, auth)
	if gen != a.currentGeneration() {
		return
	}
	if err != nil {
		a.setError(userMessage(err))
		a.logger.Warn("current customer fetch failed", zap.Error(err))
		return
	}

	a.mu.Lock()
	a.points = state.Points
	a.hasPoints = true
	a.lastError = ""
	a.mu.Unlock()
}

// pushTheme applies and reports a theme. An unauthenticated visitor always
// gets the default variant, regardless of channel settings, so a custom
// theme never arrives after a sign-out reset.
func (a *App) pushTheme(ctx context.Context, gen int, theme model.LauncherTheme) {
	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		return
	}
	if a.cfg.ResolveAuthMode() == model.AuthNone {
		theme = model.DefaultLauncherTheme()
	}
	a.theme = theme
	a.mu.Unlock()

	a.post(ctx, model.WidgetTheme{LauncherTheme: theme})
}

// onCustomerResolved merges pushed identity into the configuration. An empty
// id is the sign-out signal: the persisted session customer is cleared and
// the default theme is pushed before anything else can race it.
func (a *App) onCustomerResolved(ctx context.Context, msg model.Message) error {
	id := msg.(model.CustomerResolved)

	a.mu.Lock()
	signedOut := id.CustomerID == ""
	a.cfg = a.cfg.MergeIdentity(model.CustomerIdentity{
		CustomerID:    id.CustomerID,
		CustomerEmail: id.CustomerEmail,
	})
	origin := a.cfg.StoreOrigin
	if signedOut {
		a.points = 0
		a.hasPoints = false
		a.theme = model.DefaultLauncherTheme()
	}
	a.mu.Unlock()

	if signedOut {
		if a.session != nil && origin != "" {
			if err := a.session.ClearCustomer(ctx, origin); err != nil {
				a.logger.Warn("session customer clear failed", zap.Error(err))
			}
		}
		// Bump the generation so a late fetch from before the sign-out
		// cannot resurrect the custom theme or points.
		a.nextGeneration()
		a.post(ctx, model.WidgetTheme{LauncherTheme: model.DefaultLauncherTheme()})
		a.logger.Info("sign-out received, state cleared")
		return nil
	}

	if a.session != nil && origin != "" {
		cust := model.Resolved(id.CustomerID, id.CustomerEmail, "host-push")
		if err := a.session.SaveCustomer(ctx, origin, cust, a.ttl); err != nil {
			a.logger.Warn("session customer save failed", zap.Error(err))
		}
	}
	go a.refresh(ctx, a.nextGeneration())
	return nil
}

// onWidgetOpened re-runs all identity- and points-dependent fetches,
// abandoning any in-flight pass from a previous open.
func (a *App) onWidgetOpened(ctx context.Context, _ model.Message) error {
	go a.refresh(ctx, a.nextGeneration())
	return nil
}

// onWidgetTheme accepts a theme pushed into the frame (admin preview path).
func (a *App) onWidgetTheme(_ context.Context, msg model.Message) error {
	theme := msg.(model.WidgetTheme).LauncherTheme.Normalize()
	a.mu.Lock()
	a.theme = theme
	a.mu.Unlock()
	return nil
}

func (a *App) onApplyCouponResult(_ context.Context, msg model.Message) error {
	r := msg.(model.ApplyCouponResult)
	a.trips.Settle(ActionApplyCoupon, Outcome{Success: r.Success, Error: r.Error})
	return nil
}

func (a *App) onSubscribeNewsletterResult(_ context.Context, msg model.Message) error {
	r := msg.(model.SubscribeNewsletterResult)
	a.trips.Settle(ActionSubscribeNewsletter, Outcome{Success: r.Success, Error: r.Error})
	return nil
}

// SubscribeNewsletter asks the host to subscribe the email via the
// storefront session and waits, bounded, for the result.
func (a *App) SubscribeNewsletter(ctx context.Context, email string) error {
	ch := a.trips.Begin(ActionSubscribeNewsletter)
	a.post(ctx, model.SubscribeNewsletter{Email: email})

	outcome, err := a.trips.Await(ctx, ActionSubscribeNewsletter, ch)
	if err != nil {
		a.setError(userMessage(err))
		return err
	}
	if !outcome.Success {
		a.setError(outcome.Error)
		return model.NewBackendError(outcome.Error)
	}
	a.setError("")
	return nil
}

// ApplyCoupon asks the host to apply a coupon to the storefront cart and
// waits, bounded, for the result.
func (a *App) ApplyCoupon(ctx context.Context, coupon model.ApplyCoupon) error {
	ch := a.trips.Begin(ActionApplyCoupon)
	a.post(ctx, coupon)

	outcome, err := a.trips.Await(ctx, ActionApplyCoupon, ch)
	if err != nil {
		a.setError(userMessage(err))
		return err
	}
	if !outcome.Success {
		a.setError(outcome.Error)
		return model.NewBackendError(outcome.Error)
	}
	a.setError("")
	return nil
}

// restoreSessionCustomer fills identity from the session cache when the
// frame URL carried none.
func (a *App) restoreSessionCustomer(ctx context.Context) {
	a.mu.Lock()
	cfg := a.cfg
	a.mu.Unlock()

	if a.session == nil || cfg.StoreOrigin == "" || cfg.CustomerID != "" {
		return
	}
	cust, found, err := a.session.LoadCustomer(ctx, cfg.StoreOrigin)
	if err != nil {
		a.logger.Warn("session customer lookup failed", zap.Error(err))
		return
	}
	if !found || !cust.Authenticated() {
		a.metrics.RecordSessionCacheMiss("customer")
		return
	}
	a.metrics.RecordSessionCacheHit("customer")

	a.mu.Lock()
	a.cfg = a.cfg.MergeIdentity(cust)
	a.mu.Unlock()
	a.logger.Debug("customer restored from session",
		zap.String("customerId", cust.CustomerID))
}

func (a *App) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.mu.Unlock()
}

func (a *App) post(ctx context.Context, msg model.Message) {
	if err := a.conn.Post(ctx, msg); err != nil {
		a.logger.Warn("post to host failed",
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

// PointsLabel formats a point balance for display.
func PointsLabel(points int) string {
	return strconv.Itoa(points) + " points"
}
