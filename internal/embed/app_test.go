package embed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/favloyalty/widgetbridge/internal/backend"
	"github.com/favloyalty/widgetbridge/internal/bus"
	"github.com/favloyalty/widgetbridge/internal/session"
	"github.com/favloyalty/widgetbridge/model"
)

type fakeBackend struct {
	mu            sync.Mutex
	settings      backend.ChannelSettings
	settingsErr   error
	settingsCalls int
	settingsGate  chan struct{}
	state         backend.CustomerState
	stateErr      error
	stateCalls    int
	lastAuth      backend.AuthEnvelope
}

func (f *fakeBackend) ChannelSettings(ctx context.Context, storeHash, channelID string) (backend.ChannelSettings, error) {
	f.mu.Lock()
	f.settingsCalls++
	gate := f.settingsGate
	settings, err := f.settings, f.settingsErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.ChannelSettings{}, ctx.Err()
		}
	}
	return settings, err
}

func (f *fakeBackend) CurrentCustomer(_ context.Context, auth backend.AuthEnvelope) (backend.CustomerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	f.lastAuth = auth
	return f.state, f.stateErr
}

func (f *fakeBackend) auth() backend.AuthEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settingsCalls, f.stateCalls
}

func customSettings() backend.ChannelSettings {
	return backend.ChannelSettings{
		Success:         true,
		WidgetBgColor:   "#112233",
		WidgetIconColor: "#445566",
		LauncherType:    "LabelOnly",
		Label:           "Points",
		Position:        "top-left",
	}
}

func signedInConfig() model.WidgetConfiguration {
	return model.WidgetConfiguration{
		WidgetURL:   "https://widget.example.com",
		APIURL:      "https://api.example.com",
		StoreOrigin: "https://store.example.com",
		StoreHash:   "abc123",
		ChannelID:   "5",
		CustomerID:  "42",
	}
}

// hostHarness runs an App over a piped connection and records everything the
// frame posts to the host.
type hostHarness struct {
	t    *testing.T
	conn bus.Conn

	mu       sync.Mutex
	received []model.Message
	arrived  chan model.MessageType
}

func newHostHarness(t *testing.T, ctx context.Context, app *App, hostConn bus.Conn) *hostHarness {
	t.Helper()
	h := &hostHarness{t: t, conn: hostConn, arrived: make(chan model.MessageType, 64)}
	go func() {
		for raw := range hostConn.Messages() {
			msg, err := model.Decode(raw)
			if err != nil {
				continue
			}
			h.mu.Lock()
			h.received = append(h.received, msg)
			h.mu.Unlock()
			h.arrived <- msg.MessageType()
		}
	}()
	go app.Run(ctx)
	return h
}

func (h *hostHarness) waitFor(mt model.MessageType) model.Message {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.arrived:
			if got == mt {
				h.mu.Lock()
				last := h.received[len(h.received)-1]
				h.mu.Unlock()
				return last
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s", mt)
			return nil
		}
	}
}

func (h *hostHarness) messages() []model.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Message, len(h.received))
	copy(out, h.received)
	return out
}

func (h *hostHarness) post(ctx context.Context, msg model.Message) {
	h.t.Helper()
	if err := h.conn.Post(ctx, msg); err != nil {
		h.t.Fatalf("post %s: %v", msg.MessageType(), err)
	}
}

func newTestApp(t *testing.T, cfg model.WidgetConfiguration, be BackendAPI, store session.Store, timeout time.Duration) (*App, bus.Conn) {
	t.Helper()
	frameURL, err := BuildFrameURL(cfg)
	if err != nil {
		t.Fatalf("build frame url: %v", err)
	}
	hostConn, frameConn := bus.Pipe()
	app := NewApp(Options{
		FrameURL: frameURL,
		Conn:     frameConn,
		Backend:  be,
		Sessions: store,
		Timeout:  timeout,
	})
	return app, hostConn
}

func TestRunAnnouncesLoadedThenHeight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, hostConn := newTestApp(t, signedInConfig(), &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 120}}, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	h.waitFor(model.MsgWidgetHeight)

	msgs := h.messages()
	if len(msgs) < 2 {
		t.Fatalf("expected at least 2 messages, got %d", len(msgs))
	}
	if msgs[0].MessageType() != model.MsgWidgetLoaded {
		t.Fatalf("first message = %s, want %s", msgs[0].MessageType(), model.MsgWidgetLoaded)
	}
	height := msgs[1].(model.WidgetHeight)
	if height.Height != PreferredFrameHeight {
		t.Fatalf("height = %d, want %d", height.Height, PreferredFrameHeight)
	}
}

func TestInitialRefreshPushesThemeAndPoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 120}}
	app, hostConn := newTestApp(t, signedInConfig(), be, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	theme := h.waitFor(model.MsgWidgetTheme).(model.WidgetTheme)
	if theme.BackgroundColor != "#112233" {
		t.Fatalf("theme background = %q, want #112233", theme.BackgroundColor)
	}
	if theme.DisplayMode != model.DisplayLabelOnly {
		t.Fatalf("display mode = %q, want %q", theme.DisplayMode, model.DisplayLabelOnly)
	}
	if theme.Placement != model.PlacementTopLeft {
		t.Fatalf("placement = %q, want top-left", theme.Placement)
	}

	waitUntil(t, func() bool {
		points, ok := app.Points()
		return ok && points == 120
	})
}

func TestAnonymousGetsDefaultThemeDespiteCustomSettings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := signedInConfig()
	cfg.CustomerID = ""
	be := &fakeBackend{settings: customSettings()}
	app, hostConn := newTestApp(t, cfg, be, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	theme := h.waitFor(model.MsgWidgetTheme).(model.WidgetTheme)
	if !theme.LauncherTheme.IsDefault() {
		t.Fatalf("anonymous theme = %+v, want default", theme.LauncherTheme)
	}
	if _, ok := app.Points(); ok {
		t.Fatal("anonymous session should not load points")
	}
}

func TestSignOutClearsStateAndPushesDefaultTheme(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := session.NewMemoryStore()
	cfg := signedInConfig()
	if err := store.SaveCustomer(ctx, cfg.StoreOrigin, model.Resolved("42", "a@b.com", "test"), time.Minute); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 120}}
	app, hostConn := newTestApp(t, cfg, be, store, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	h.waitFor(model.MsgWidgetTheme)
	waitUntil(t, func() bool { _, ok := app.Points(); return ok })

	h.post(ctx, model.CustomerResolved{})

	waitUntil(t, func() bool { return app.Theme().IsDefault() })
	if _, ok := app.Points(); ok {
		t.Fatal("points should be cleared after sign-out")
	}
	if app.Config().CustomerID != "" {
		t.Fatalf("customer id = %q, want empty", app.Config().CustomerID)
	}

	// Persisted session customer must be gone too.
	waitUntil(t, func() bool {
		_, found, err := store.LoadCustomer(ctx, cfg.StoreOrigin)
		return err == nil && !found
	})

	// The host is told about the reset so it never keeps a stale custom
	// launcher.
	theme := h.waitFor(model.MsgWidgetTheme).(model.WidgetTheme)
	if !theme.LauncherTheme.IsDefault() {
		t.Fatalf("pushed theme = %+v, want default", theme.LauncherTheme)
	}
}

func TestLateSettingsResponseCannotOverwriteSignOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true}, settingsGate: gate}
	app, hostConn := newTestApp(t, signedInConfig(), be, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	h.waitFor(model.MsgWidgetHeight)
	waitUntil(t, func() bool { calls, _ := be.calls(); return calls >= 1 })

	// Sign-out lands while the settings fetch is still in flight.
	h.post(ctx, model.CustomerResolved{})
	waitUntil(t, func() bool { return app.Config().CustomerID == "" })

	close(gate)

	// The stale response belongs to an abandoned generation and must not
	// resurrect the custom theme.
	time.Sleep(50 * time.Millisecond)
	if !app.Theme().IsDefault() {
		t.Fatalf("theme = %+v, want default after sign-out", app.Theme())
	}
}

func TestWidgetOpenedRefetchesSettings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 10}}
	app, hostConn := newTestApp(t, signedInConfig(), be, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	h.waitFor(model.MsgWidgetTheme)
	before, _ := be.calls()

	h.post(ctx, model.WidgetOpened{})

	waitUntil(t, func() bool { calls, _ := be.calls(); return calls == before+1 })
	if _, ok := app.Points(); !ok {
		t.Fatal("points should be loaded after reopen refresh")
	}
}

func TestSubscribeNewsletterRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, hostConn := newTestApp(t, signedInConfig(), &fakeBackend{settings: customSettings()}, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)
	h.waitFor(model.MsgWidgetHeight)

	done := make(chan error, 1)
	go func() { done <- app.SubscribeNewsletter(ctx, "a@b.com") }()

	req := h.waitFor(model.MsgSubscribeNewsletter).(model.SubscribeNewsletter)
	if req.Email != "a@b.com" {
		t.Fatalf("email = %q, want a@b.com", req.Email)
	}
	h.post(ctx, model.SubscribeNewsletterResult{Success: true})

	if err := <-done; err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if app.LastError() != "" {
		t.Fatalf("last error = %q, want empty", app.LastError())
	}
}

func TestSubscribeNewsletterFailureCarriesMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, hostConn := newTestApp(t, signedInConfig(), &fakeBackend{settings: customSettings()}, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)
	h.waitFor(model.MsgWidgetHeight)

	done := make(chan error, 1)
	go func() { done <- app.SubscribeNewsletter(ctx, "a@b.com") }()

	h.waitFor(model.MsgSubscribeNewsletter)
	h.post(ctx, model.SubscribeNewsletterResult{Success: false, Error: "Already subscribed"})

	err := <-done
	var be *model.BridgeError
	if !errors.As(err, &be) || be.Message != "Already subscribed" {
		t.Fatalf("err = %v, want bridge error with backend message", err)
	}
	if app.LastError() != "Already subscribed" {
		t.Fatalf("last error = %q", app.LastError())
	}
}

func TestSubscribeNewsletterTimesOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, hostConn := newTestApp(t, signedInConfig(), &fakeBackend{settings: customSettings()}, nil, 30*time.Millisecond)
	h := newHostHarness(t, ctx, app, hostConn)
	h.waitFor(model.MsgWidgetHeight)

	err := app.SubscribeNewsletter(ctx, "a@b.com")

	var be *model.BridgeError
	if !errors.As(err, &be) || be.Code != model.ErrCodeProtocolTimeout {
		t.Fatalf("err = %v, want protocol timeout", err)
	}

	// A result arriving after the timeout settles nothing and must not be
	// mistaken for success.
	h.post(ctx, model.SubscribeNewsletterResult{Success: true})
	time.Sleep(20 * time.Millisecond)
	if app.LastError() == "" {
		t.Fatal("late result must not clear the timeout error")
	}
}

func TestApplyCouponRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, hostConn := newTestApp(t, signedInConfig(), &fakeBackend{settings: customSettings()}, nil, 0)
	h := newHostHarness(t, ctx, app, hostConn)
	h.waitFor(model.MsgWidgetHeight)

	done := make(chan error, 1)
	go func() {
		done <- app.ApplyCoupon(ctx, model.ApplyCoupon{CouponID: "c1", CouponCode: "SAVE10"})
	}()

	req := h.waitFor(model.MsgApplyCoupon).(model.ApplyCoupon)
	if req.CouponCode != "SAVE10" {
		t.Fatalf("coupon code = %q, want SAVE10", req.CouponCode)
	}
	h.post(ctx, model.ApplyCouponResult{Success: true, CouponID: "c1"})

	if err := <-done; err != nil {
		t.Fatalf("apply coupon: %v", err)
	}
}

func TestSessionCustomerRestoredWhenURLCarriesNone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := session.NewMemoryStore()
	cfg := signedInConfig()
	cfg.CustomerID = ""
	if err := store.SaveCustomer(ctx, cfg.StoreOrigin, model.Resolved("77", "c@d.com", "test"), time.Minute); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 5}}
	app, hostConn := newTestApp(t, cfg, be, store, 0)
	h := newHostHarness(t, ctx, app, hostConn)

	h.waitFor(model.MsgWidgetHeight)
	waitUntil(t, func() bool { return app.Config().CustomerID == "77" })
	waitUntil(t, func() bool { _, calls := be.calls(); return calls >= 1 })
}

func mintCustomerJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func TestHostInjectedJWTAuthenticatesWithoutStoreCustomer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := signedInConfig()
	cfg.CustomerID = ""
	frameURL, err := BuildFrameURL(cfg)
	if err != nil {
		t.Fatalf("build frame url: %v", err)
	}
	token := mintCustomerJWT(t, time.Now().Add(time.Hour))

	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 340}}
	hostConn, frameConn := bus.Pipe()
	app := NewApp(Options{
		FrameURL: frameURL,
		Config:   model.WidgetConfiguration{CurrentCustomerJWT: token},
		Conn:     frameConn,
		Backend:  be,
	})
	h := newHostHarness(t, ctx, app, hostConn)

	// A JWT visitor is authenticated: the custom theme is not forced back
	// to the default variant.
	theme := h.waitFor(model.MsgWidgetTheme).(model.WidgetTheme)
	if theme.BackgroundColor != "#112233" {
		t.Fatalf("theme background = %q, want custom settings applied", theme.BackgroundColor)
	}

	waitUntil(t, func() bool { _, ok := app.Points(); return ok })

	auth := be.auth()
	if auth.CurrentCustomerJWT != token {
		t.Fatalf("envelope jwt = %q, want the host-injected token", auth.CurrentCustomerJWT)
	}
	if auth.CustomerID != "" {
		t.Errorf("jwt envelope carries customer id %q, want empty", auth.CustomerID)
	}
	if app.Config().CurrentCustomerJWT != token {
		t.Error("host-injected jwt missing from the merged configuration")
	}
}

func TestExpiredHostJWTFallsBackToStoreCustomer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frameURL, err := BuildFrameURL(signedInConfig())
	if err != nil {
		t.Fatalf("build frame url: %v", err)
	}
	token := mintCustomerJWT(t, time.Now().Add(-time.Hour))

	be := &fakeBackend{settings: customSettings(), state: backend.CustomerState{Success: true, Points: 120}}
	hostConn, frameConn := bus.Pipe()
	app := NewApp(Options{
		FrameURL: frameURL,
		Config:   model.WidgetConfiguration{CurrentCustomerJWT: token},
		Conn:     frameConn,
		Backend:  be,
	})
	newHostHarness(t, ctx, app, hostConn)

	waitUntil(t, func() bool { _, ok := app.Points(); return ok })

	auth := be.auth()
	if auth.CurrentCustomerJWT != "" {
		t.Fatal("expired jwt must not reach the backend envelope")
	}
	if auth.CustomerID != "42" {
		t.Fatalf("envelope customer id = %q, want store-customer fallback", auth.CustomerID)
	}
	if app.Config().CurrentCustomerJWT != "" {
		t.Error("expired jwt survived into the merged configuration")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
