// Package harness runs the whole bridge headlessly: a loader controller
// driving a recording surface, with the embedded application attached
// in-process over a piped message channel. An HTTP API swaps the simulated
// host page and drives open/close, so the protocol can be exercised and
// inspected without a browser.
package harness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/bus"
	"github.com/favloyalty/widgetbridge/internal/embed"
	"github.com/favloyalty/widgetbridge/internal/hostpage"
	"github.com/favloyalty/widgetbridge/internal/identity"
	"github.com/favloyalty/widgetbridge/internal/loader"
	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/internal/session"
	"github.com/favloyalty/widgetbridge/internal/storefront"
	"github.com/favloyalty/widgetbridge/model"
)

// Options wires the runtime's collaborators.
type Options struct {
	Defaults loader.Defaults

	// Settings serves the loader's boot theme prefetch; BackendAPI serves
	// the embedded application. Both are normally the same backend client.
	Settings   loader.SettingsFetcher
	BackendAPI embed.BackendAPI

	// Actions runs host-page storefront actions; Tokens and Customers feed
	// the identity resolver's GraphQL fallback.
	Actions   loader.HostActions
	Tokens    identity.TokenSource
	Customers identity.CustomerQuerier

	Sessions         session.Store
	SessionTTL       time.Duration
	SignOutInterval  time.Duration
	RoundTripTimeout time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Runtime is one live simulation: a booted controller over the current host
// page. SetPage tears the previous simulation down and boots a fresh one.
type Runtime struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	page    hostpage.Snapshot
	surface *RecordingSurface
	ctrl    *loader.Controller
	app     *embed.App
	cancel  context.CancelFunc
	booted  bool
}

// NewRuntime creates an empty runtime. Nothing runs until SetPage.
func NewRuntime(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		opts:   opts,
		logger: logger.With(zap.String("component", "harness")),
	}
}

// SetPage replaces the simulated host page and boots a fresh loader against
// it. The previous simulation, if any, is cancelled first. Returns the boot
// error; a missing widget URL is the fatal case.
func (r *Runtime) SetPage(ctx context.Context, page hostpage.Snapshot) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.page = page
	r.booted = false
	r.app = nil

	// The frame outlives the call that created it, so the application runs
	// on the simulation context, not the request context.
	surface := NewRecordingSurface(func(_ context.Context, frameURL string) (bus.Conn, error) {
		return r.attachApp(runCtx, frameURL)
	})
	r.surface = surface

	// Storefront collaborators are origin-scoped; when none were injected,
	// build them against the page being simulated.
	actions := r.opts.Actions
	customers := r.opts.Customers
	if (actions == nil || customers == nil) && page.Origin != "" {
		sf := storefront.NewClient(page.Origin, r.logger)
		if actions == nil {
			actions = sf
		}
		if customers == nil {
			customers = sf
		}
	}

	resolver := identity.NewResolver(r.logger, r.opts.Metrics,
		identity.DefaultStrategies(r.opts.Tokens, customers)...)

	ctrl := loader.NewController(loader.Options{
		Defaults:        r.opts.Defaults,
		Page:            hostpage.ReaderFunc(r.snapshot),
		Surface:         surface,
		Resolver:        resolver,
		Settings:        r.opts.Settings,
		Actions:         actions,
		SessionStore:    r.opts.Sessions,
		SessionTTL:      r.opts.SessionTTL,
		SignOutInterval: r.opts.SignOutInterval,
		Logger:          r.logger,
		Metrics:         r.opts.Metrics,
	})
	r.ctrl = ctrl
	r.mu.Unlock()

	if err := ctrl.Boot(runCtx); err != nil {
		return err
	}

	r.mu.Lock()
	r.booted = true
	r.mu.Unlock()
	return nil
}

// UpdatePage mutates the current page snapshot without rebooting, the way a
// live page changes when the visitor signs in or out. The sign-out watcher
// sees the new snapshot on its next tick.
func (r *Runtime) UpdatePage(page hostpage.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = page
}

func (r *Runtime) snapshot() hostpage.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.page
}

// attachApp builds the in-process embedded application for a created frame.
// The loader's resolved configuration rides along the way a host page injects
// its global object; the frame URL never carries the customer JWT.
func (r *Runtime) attachApp(ctx context.Context, frameURL string) (bus.Conn, error) {
	var hostCfg model.WidgetConfiguration
	r.mu.Lock()
	ctrl := r.ctrl
	r.mu.Unlock()
	if ctrl != nil {
		hostCfg = ctrl.Config()
	}

	host, frame := bus.Pipe()
	app := embed.NewApp(embed.Options{
		FrameURL:   frameURL,
		Config:     hostCfg,
		Conn:       frame,
		Backend:    r.opts.BackendAPI,
		Sessions:   r.opts.Sessions,
		SessionTTL: r.opts.SessionTTL,
		Timeout:    r.opts.RoundTripTimeout,
		Logger:     r.logger,
		Metrics:    r.opts.Metrics,
	})

	r.mu.Lock()
	r.app = app
	r.mu.Unlock()

	go app.Run(ctx)
	return host, nil
}

// Open opens the widget. SetPage must have succeeded first.
func (r *Runtime) Open(ctx context.Context) error {
	ctrl, err := r.controller()
	if err != nil {
		return err
	}
	return ctrl.Open(ctx)
}

// Close closes the widget.
func (r *Runtime) Close() error {
	ctrl, err := r.controller()
	if err != nil {
		return err
	}
	ctrl.Close()
	return nil
}

// Toggle opens or closes based on the current frame state.
func (r *Runtime) Toggle(ctx context.Context) error {
	ctrl, err := r.controller()
	if err != nil {
		return err
	}
	return ctrl.Toggle(ctx)
}

// Ready reports whether a simulation is booted.
func (r *Runtime) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.booted
}

// Stop cancels the current simulation.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.booted = false
}

var errNotBooted = &notBootedError{}

type notBootedError struct{}

func (*notBootedError) Error() string { return "harness: no page set, nothing is booted" }

func (r *Runtime) controller() (*loader.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.booted || r.ctrl == nil {
		return nil, errNotBooted
	}
	return r.ctrl, nil
}

// AppState is the embedded application's observable state.
type AppState struct {
	Config    any    `json:"config"`
	Theme     any    `json:"theme"`
	Points    int    `json:"points"`
	HasPoints bool   `json:"hasPoints"`
	LastError string `json:"lastError,omitempty"`
}

// State is the full inspectable simulation state.
type State struct {
	Booted     bool         `json:"booted"`
	FrameState string       `json:"frameState"`
	Loader     any          `json:"loader,omitempty"`
	Surface    SurfaceState `json:"surface"`
	App        *AppState    `json:"app,omitempty"`
}

// Inspect snapshots the whole simulation.
func (r *Runtime) Inspect() State {
	r.mu.Lock()
	ctrl, app, surface, booted := r.ctrl, r.app, r.surface, r.booted
	r.mu.Unlock()

	st := State{Booted: booted, FrameState: loader.FrameUninitialized.String()}
	if surface != nil {
		st.Surface = surface.State()
	}
	if ctrl != nil && booted {
		st.FrameState = ctrl.State().String()
		st.Loader = map[string]any{
			"config":    ctrl.Config(),
			"theme":     ctrl.Theme(),
			"placement": ctrl.Placement(),
		}
	}
	if app != nil {
		points, hasPoints := app.Points()
		st.App = &AppState{
			Config:    app.Config(),
			Theme:     app.Theme(),
			Points:    points,
			HasPoints: hasPoints,
			LastError: app.LastError(),
		}
	}
	return st
}
