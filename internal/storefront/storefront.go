// Package storefront talks to the host page's own origin: the storefront
// GraphQL endpoint used for identity resolution and the subscriptions
// endpoint used for newsletter sign-up. Both ride the visitor's storefront
// session, which is why these calls are mediated by the host and not the
// embedded frame.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/favloyalty/widgetbridge/model"
)

// customerQuery asks the storefront who is signed in on this session.
const customerQuery = `query { customer { entityId email } }`

// Client issues same-origin storefront requests for one page origin.
type Client struct {
	origin string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a storefront client for the given page origin.
func NewClient(origin string, logger *zap.Logger) *Client {
	return &Client{
		origin: strings.TrimRight(origin, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// WithHTTPClient replaces the underlying HTTP client. For testing.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// CurrentCustomer queries the storefront GraphQL endpoint for the signed-in
// customer. token is the storefront bearer token; csrfToken is forwarded when
// present. An anonymous session yields an identity with an empty id and no
// error; only transport and protocol failures return an error.
func (c *Client) CurrentCustomer(ctx context.Context, token, csrfToken string) (model.CustomerIdentity, error) {
	body, err := json.Marshal(map[string]string{"query": customerQuery})
	if err != nil {
		return model.CustomerIdentity{}, fmt.Errorf("marshal customer query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+"/graphql", bytes.NewReader(body))
	if err != nil {
		return model.CustomerIdentity{}, fmt.Errorf("build customer query: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if csrfToken != "" {
		req.Header.Set("X-CSRF-Token", csrfToken)
		req.Header.Set("Request-Verification-Token", csrfToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return model.CustomerIdentity{}, fmt.Errorf("storefront graphql: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.CustomerIdentity{}, fmt.Errorf("storefront graphql: status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			Customer *struct {
				EntityID *json.Number `json:"entityId"`
				ID       *json.Number `json:"id"`
				Email    string       `json:"email"`
			} `json:"customer"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.CustomerIdentity{}, fmt.Errorf("decode customer query: %w", err)
	}

	cust := out.Data.Customer
	if cust == nil {
		return model.Anonymous(), nil
	}
	id := cust.EntityID
	if id == nil {
		id = cust.ID
	}
	if id == nil {
		return model.Anonymous(), nil
	}
	return model.Resolved(id.String(), cust.Email, "graphql"), nil
}

// Subscribe signs the email up for the store's marketing newsletter via the
// storefront subscriptions endpoint. The error message is safe to relay to
// the frame.
func (c *Client) Subscribe(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewBackendError("Email is required")
	}

	body, err := json.Marshal(map[string]any{
		"email":                      email,
		"acceptsMarketingNewsletter": true,
		"acceptsAbandonedCartEmails": false,
	})
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+"/api/storefront/subscriptions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build subscription request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("newsletter subscription failed", zap.Error(err))
		return model.NewBackendError("Subscription failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
			Title   string `json:"title"`
			Detail  string `json:"detail"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = e.Title
		}
		if msg == "" {
			msg = e.Detail
		}
		if msg == "" {
			msg = "Subscription failed"
		}
		return model.NewBackendError(msg)
	}
	return nil
}

// ApplyCoupon applies a coupon code to the visitor's active storefront cart.
// Product-specific coupons are rejected by the storefront when the cart lacks
// the product; that rejection surfaces as the error message.
func (c *Client) ApplyCoupon(ctx context.Context, couponCode string) error {
	couponCode = strings.TrimSpace(couponCode)
	if couponCode == "" {
		return model.NewBackendError("Coupon code is required")
	}

	body, err := json.Marshal(map[string]string{"couponCode": couponCode})
	if err != nil {
		return fmt.Errorf("marshal coupon request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.origin+"/api/storefront/checkout/coupons", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build coupon request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("coupon application failed", zap.Error(err))
		return model.NewBackendError("Could not apply the coupon")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
			Title   string `json:"title"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = e.Title
		}
		if msg == "" {
			msg = "Could not apply the coupon"
		}
		return model.NewBackendError(msg)
	}
	return nil
}
