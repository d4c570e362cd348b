// Package model holds the shared protocol types exchanged between the host
// loader and the embedded widget application: configuration, identity, theme,
// and the cross-frame message set.
package model

import "strings"

// Placement is one of the four screen corners the launcher and frame can
// anchor to.
type Placement string

const (
	PlacementBottomRight Placement = "bottom-right"
	PlacementBottomLeft  Placement = "bottom-left"
	PlacementTopRight    Placement = "top-right"
	PlacementTopLeft     Placement = "top-left"
)

// DefaultPlacement is used whenever a placement value is missing or invalid.
const DefaultPlacement = PlacementBottomRight

// NormalizePlacement maps free-form placement values ("Bottom-Left",
// "top right") to a canonical Placement. Unknown values fall back to
// DefaultPlacement.
func NormalizePlacement(v string) Placement {
	s := strings.ToLower(strings.TrimSpace(v))
	s = strings.Join(strings.Fields(s), "-")
	switch Placement(s) {
	case PlacementBottomRight, PlacementBottomLeft, PlacementTopRight, PlacementTopLeft:
		return Placement(s)
	}
	return DefaultPlacement
}

// Valid reports whether p is one of the four corners.
func (p Placement) Valid() bool {
	switch p {
	case PlacementBottomRight, PlacementBottomLeft, PlacementTopRight, PlacementTopLeft:
		return true
	}
	return false
}

// Top reports whether the placement anchors to the top edge.
func (p Placement) Top() bool {
	return p == PlacementTopRight || p == PlacementTopLeft
}

// WidgetConfiguration is the negotiated contract between the host loader and
// the embedded frame. It is assembled once at loader boot from script-tag
// attributes, script URL query parameters, a global override object, and the
// session cache; identity fields are re-resolved on every open.
type WidgetConfiguration struct {
	WidgetURL   string    `json:"widgetUrl"`
	APIURL      string    `json:"apiUrl,omitempty"`
	Position    Placement `json:"position,omitempty"`
	StoreID     string    `json:"storeId,omitempty"`
	StoreHash   string    `json:"storeHash,omitempty"`
	AppClientID string    `json:"appClientId,omitempty"`
	ChannelID   string    `json:"channelId,omitempty"`
	StoreOrigin string    `json:"storeOrigin,omitempty"`

	// Identity fields. An empty CustomerID means "unauthenticated".
	CustomerID         string `json:"customerId,omitempty"`
	CustomerEmail      string `json:"customerEmail,omitempty"`
	CurrentCustomerJWT string `json:"currentCustomerJwt,omitempty"`
}

// HasStoreIdentity reports whether the store/channel half of the auth
// envelope is present.
func (c WidgetConfiguration) HasStoreIdentity() bool {
	return c.StoreHash != "" && c.ChannelID != ""
}

// AuthMode describes which authentication envelope a configuration can use
// for backend calls.
type AuthMode int

const (
	// AuthNone means no backend call may be attempted; the system degrades to
	// the unauthenticated default state.
	AuthNone AuthMode = iota
	// AuthStoreCustomer uses storeHash + channelId + customerId.
	AuthStoreCustomer
	// AuthCustomerJWT uses currentCustomerJwt + channelId.
	AuthCustomerJWT
)

// ResolveAuthMode returns the strongest envelope the configuration supports.
// The JWT mode wins when both are available since it is backend-verified.
func (c WidgetConfiguration) ResolveAuthMode() AuthMode {
	if c.CurrentCustomerJWT != "" && c.ChannelID != "" {
		return AuthCustomerJWT
	}
	if c.HasStoreIdentity() && c.CustomerID != "" {
		return AuthStoreCustomer
	}
	return AuthNone
}

// MergeIdentity returns a copy of c with the identity fields from id applied.
// An unauthenticated identity clears the customer fields, including the
// customer JWT: a stale token must not keep the JWT auth mode alive after a
// sign-out.
func (c WidgetConfiguration) MergeIdentity(id CustomerIdentity) WidgetConfiguration {
	out := c
	out.CustomerID = id.CustomerID
	out.CustomerEmail = id.CustomerEmail
	if !id.Authenticated() {
		out.CurrentCustomerJWT = ""
	}
	return out
}
