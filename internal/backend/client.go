// Package backend is the REST client for the loyalty backend. The backend is
// an external collaborator: every response carries a success boolean, and a
// missing or false success is the uniform error signal. Transport failures
// and success:false both surface as typed errors suitable for inline
// display; nothing here panics or escapes as an unhandled failure.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/model"
)

// AuthEnvelope is the authentication block every backend call carries: either
// store hash + channel + customer, or a backend-verified customer JWT plus
// channel.
type AuthEnvelope struct {
	StoreHash          string `json:"storeHash,omitempty"`
	ChannelID          string `json:"channelId"`
	CustomerID         string `json:"customerId,omitempty"`
	CurrentCustomerJWT string `json:"currentCustomerJwt,omitempty"`
}

// EnvelopeFromConfig derives the auth envelope from a configuration. ok is
// false when no auth mode is resolvable; callers must then degrade to the
// anonymous state instead of calling the backend.
func EnvelopeFromConfig(cfg model.WidgetConfiguration) (AuthEnvelope, bool) {
	switch cfg.ResolveAuthMode() {
	case model.AuthCustomerJWT:
		return AuthEnvelope{ChannelID: cfg.ChannelID, CurrentCustomerJWT: cfg.CurrentCustomerJWT}, true
	case model.AuthStoreCustomer:
		return AuthEnvelope{
			StoreHash:  cfg.StoreHash,
			ChannelID:  cfg.ChannelID,
			CustomerID: strings.TrimSpace(cfg.CustomerID),
		}, true
	default:
		return AuthEnvelope{}, false
	}
}

// ChannelSettings is the backend's channel theme/settings document. Field
// names mirror the backend wire contract.
type ChannelSettings struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	WidgetBgColor   string `json:"widgetBgColor,omitempty"`
	WidgetIconColor string `json:"widgetIconColor,omitempty"`
	WidgetIconURLID string `json:"widgetIconUrlId,omitempty"`
	LauncherType    string `json:"launcherType,omitempty"`
	Label           string `json:"label,omitempty"`
	Position        string `json:"position,omitempty"`
	// WidgetButton is the legacy name for Position, still emitted by older
	// backend versions.
	WidgetButton string `json:"widgetButton,omitempty"`
}

// Theme converts the settings document into a normalized launcher theme.
func (s ChannelSettings) Theme() model.LauncherTheme {
	pos := s.Position
	if pos == "" {
		pos = s.WidgetButton
	}
	return model.LauncherTheme{
		BackgroundColor: s.WidgetBgColor,
		IconColor:       s.WidgetIconColor,
		IconID:          s.WidgetIconURLID,
		DisplayMode:     model.NormalizeDisplayMode(s.LauncherType),
		Label:           s.Label,
		Placement:       model.NormalizePlacement(pos),
	}.Normalize()
}

// CustomerState is the backend's view of the current customer.
type CustomerState struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Points  int    `json:"points"`
}

// RedeemSetting is one redeemable offer configured for the channel.
type RedeemSetting struct {
	ID             string `json:"id"`
	Method         string `json:"method,omitempty"`
	Name           string `json:"name,omitempty"`
	PointsRequired int    `json:"pointsRequired,omitempty"`
}

// Redemption is the result of redeeming points for a coupon.
type Redemption struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	CouponCode string `json:"couponCode,omitempty"`
	OfferLabel string `json:"offerLabel,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

// Coupon is one coupon issued to the customer.
type Coupon struct {
	ID                string   `json:"id"`
	Code              string   `json:"code"`
	Name              string   `json:"name,omitempty"`
	IsProductSpecific bool     `json:"isProductSpecific,omitempty"`
	Products          []string `json:"products,omitempty"`
	ExpiresAt         string   `json:"expiresAt,omitempty"`
}

// Referral is one referral record for the customer.
type Referral struct {
	Email     string `json:"email"`
	Status    string `json:"status,omitempty"`
	Points    int    `json:"points,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// ack is the minimal success/message envelope the mutation endpoints return.
type ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Client calls the loyalty backend. All calls go through the circuit breaker
// and honor the configured per-request timeout.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *Breaker
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMetrics attaches metrics recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a backend client for the given base URL. A trailing
// slash on the base URL is tolerated.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: NewBreaker(5, 2, 30*time.Second),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Breaker exposes the client's circuit breaker for state inspection.
func (c *Client) Breaker() *Breaker { return c.breaker }

// ChannelSettings fetches the channel theme/settings document.
func (c *Client) ChannelSettings(ctx context.Context, storeHash, channelID string) (ChannelSettings, error) {
	q := url.Values{}
	q.Set("storeHash", storeHash)
	q.Set("channelId", channelID)

	var out ChannelSettings
	if err := c.get(ctx, "channel-settings", "/api/widget/channel-settings", q, &out); err != nil {
		return ChannelSettings{}, err
	}
	if !out.Success {
		return ChannelSettings{}, model.NewBackendError(out.Message)
	}
	return out, nil
}

// StorefrontToken mints a storefront GraphQL token for the given store and
// page origin. Used when the host page does not expose one.
func (c *Client) StorefrontToken(ctx context.Context, storeHash, channelID, origin string) (string, error) {
	q := url.Values{}
	q.Set("storeHash", storeHash)
	q.Set("origin", origin)
	if channelID != "" {
		q.Set("channelId", channelID)
	}

	var out struct {
		Token   string `json:"token"`
		Message string `json:"message,omitempty"`
	}
	if err := c.get(ctx, "storefront-token", "/api/widget/storefront-token", q, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", model.NewBackendError(out.Message)
	}
	return out.Token, nil
}

// CurrentCustomer fetches the backend's state for the authenticated customer.
func (c *Client) CurrentCustomer(ctx context.Context, auth AuthEnvelope) (CustomerState, error) {
	var out CustomerState
	if err := c.post(ctx, "current-customer", "/api/widget/current-customer", auth, &out); err != nil {
		return CustomerState{}, err
	}
	if !out.Success {
		return CustomerState{}, model.NewBackendError(out.Message)
	}
	return out, nil
}

// RedeemSettings lists the redeemable offers for the channel, personalized
// when a customer id is present.
func (c *Client) RedeemSettings(ctx context.Context, auth AuthEnvelope) ([]RedeemSetting, error) {
	q := url.Values{}
	q.Set("storeHash", auth.StoreHash)
	q.Set("channelId", auth.ChannelID)
	if auth.CustomerID != "" {
		q.Set("customerId", auth.CustomerID)
	}

	// This endpoint returns a bare array, not the success envelope.
	var out []RedeemSetting
	if err := c.get(ctx, "redeem-settings", "/api/widget/redeem-settings", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Redeem exchanges points for the given redeem setting.
func (c *Client) Redeem(ctx context.Context, auth AuthEnvelope, redeemSettingID string) (Redemption, error) {
	body := struct {
		AuthEnvelope
		RedeemSettingID string `json:"redeemSettingId"`
	}{auth, redeemSettingID}

	var out Redemption
	if err := c.post(ctx, "redeem", "/api/widget/redeem", body, &out); err != nil {
		return Redemption{}, err
	}
	if !out.Success {
		return Redemption{}, model.NewBackendError(out.Message)
	}
	return out, nil
}

// Coupons lists the coupons issued to the customer.
func (c *Client) Coupons(ctx context.Context, auth AuthEnvelope) ([]Coupon, error) {
	var out struct {
		ack
		Coupons []Coupon `json:"coupons"`
	}
	if err := c.post(ctx, "coupons", "/api/widget/coupons", auth, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, model.NewBackendError(out.Message)
	}
	return out.Coupons, nil
}

// Referrals lists the customer's referral history.
func (c *Client) Referrals(ctx context.Context, auth AuthEnvelope) ([]Referral, error) {
	q := url.Values{}
	q.Set("storeHash", auth.StoreHash)
	q.Set("channelId", auth.ChannelID)
	q.Set("customerId", auth.CustomerID)

	var out struct {
		ack
		Referrals []Referral `json:"referrals"`
	}
	if err := c.get(ctx, "referrals", "/api/widget/referrals", q, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, model.NewBackendError(out.Message)
	}
	return out.Referrals, nil
}

// UpdateProfile submits profile field changes for the customer.
func (c *Client) UpdateProfile(ctx context.Context, auth AuthEnvelope, fields map[string]string) error {
	body := struct {
		AuthEnvelope
		Fields map[string]string `json:"fields"`
	}{auth, fields}

	var out ack
	if err := c.post(ctx, "update-profile", "/api/widget/update-profile", body, &out); err != nil {
		return err
	}
	if !out.Success {
		return model.NewBackendError(out.Message)
	}
	return nil
}

// SaveBirthday records the customer's birthday for birthday rewards.
func (c *Client) SaveBirthday(ctx context.Context, auth AuthEnvelope, birthday string) error {
	body := struct {
		AuthEnvelope
		Birthday string `json:"birthday"`
	}{auth, birthday}

	var out ack
	if err := c.post(ctx, "save-birthday", "/api/widget/save-birthday", body, &out); err != nil {
		return err
	}
	if !out.Success {
		return model.NewBackendError(out.Message)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	return c.do(ctx, endpoint, http.MethodGet, path+"?"+q.Encode(), nil, out)
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", endpoint, err)
	}
	return c.do(ctx, endpoint, http.MethodPost, path, raw, out)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body []byte, out any) error {
	if !c.breaker.Allow() {
		c.metrics.RecordBackendRequest(endpoint, "rejected", 0)
		return model.NewUnavailableError()
	}

	ctx, span := observability.Tracer().Start(ctx, "backend."+endpoint)
	span.SetAttributes(observability.AttrEndpoint.String(endpoint))
	defer span.End()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.breaker.RecordFailure()
		c.publishBreakerState()
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.metrics.RecordBackendRequest(endpoint, "timeout", elapsed)
			c.logger.Warn("backend request timed out",
				zap.String("endpoint", endpoint),
				zap.Duration("elapsed", elapsed))
			return model.NewBackendTimeoutError()
		}
		c.metrics.RecordBackendRequest(endpoint, "error", elapsed)
		c.logger.Warn("backend request failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		return model.NewBackendError("")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.RecordFailure()
		c.publishBreakerState()
		c.metrics.RecordBackendRequest(endpoint, "error", elapsed)
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, resp.Status)

		// Error bodies may still carry a user-presentable message.
		var e ack
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return model.NewBackendError(e.Message)
	}

	c.breaker.RecordSuccess()
	c.publishBreakerState()
	c.metrics.RecordBackendRequest(endpoint, "ok", elapsed)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewBackendError("")
	}
	return nil
}

func (c *Client) publishBreakerState() {
	c.metrics.SetBackendBreakerState(float64(c.breaker.State()))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
