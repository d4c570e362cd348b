// Package embed implements the frame side of the widget bridge: the embedded
// application's configuration intake, inbound message handling, identity and
// theme state, and the bounded round-trips it runs through the host.
package embed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/favloyalty/widgetbridge/model"
)

// FramePath is the path of the embedded application inside the widget app.
const FramePath = "/embed"

// BuildFrameURL serializes the configuration into the frame's URL: the
// widget URL's /embed path with a JSON config query parameter. The customer
// JWT never travels in the URL.
func BuildFrameURL(cfg model.WidgetConfiguration) (string, error) {
	if cfg.WidgetURL == "" {
		return "", model.ErrMissingWidgetURL
	}
	wire := cfg
	wire.CurrentCustomerJWT = ""

	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal frame config: %w", err)
	}
	q := url.Values{}
	q.Set("config", string(raw))
	return strings.TrimRight(cfg.WidgetURL, "/") + FramePath + "?" + q.Encode(), nil
}

// ParseFrameURL recovers the configuration from a frame URL. The config
// parameter may arrive single or double URL-encoded depending on the
// delivery path, so decoding is attempted both ways. A missing or
// unparseable parameter yields a zero configuration, never an error: the
// frame must still boot in the anonymous default state.
func ParseFrameURL(frameURL string) model.WidgetConfiguration {
	u, err := url.Parse(frameURL)
	if err != nil {
		return model.WidgetConfiguration{}
	}
	return ParseConfigParam(u.Query().Get("config"))
}

// MergeHostConfig overlays the host-injected configuration onto the
// URL-carried one, non-empty fields winning. The frame URL never carries the
// customer JWT, so the host injection is the only path it can arrive on.
func MergeHostConfig(base, host model.WidgetConfiguration) model.WidgetConfiguration {
	overlay := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	out := base
	overlay(&out.WidgetURL, host.WidgetURL)
	overlay(&out.APIURL, host.APIURL)
	overlay(&out.StoreID, host.StoreID)
	overlay(&out.StoreHash, host.StoreHash)
	overlay(&out.AppClientID, host.AppClientID)
	overlay(&out.ChannelID, host.ChannelID)
	overlay(&out.StoreOrigin, host.StoreOrigin)
	overlay(&out.CustomerID, host.CustomerID)
	overlay(&out.CustomerEmail, host.CustomerEmail)
	overlay(&out.CurrentCustomerJWT, host.CurrentCustomerJWT)
	if host.Position.Valid() {
		out.Position = host.Position
	}
	return out
}

// ParseConfigParam decodes the raw config query parameter value.
func ParseConfigParam(raw string) model.WidgetConfiguration {
	if raw == "" {
		return model.WidgetConfiguration{}
	}

	var cfg model.WidgetConfiguration
	if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
		return cfg
	}
	// Double-encoded delivery: one more percent-decoding pass.
	if decoded, err := url.QueryUnescape(raw); err == nil {
		if err := json.Unmarshal([]byte(decoded), &cfg); err == nil {
			return cfg
		}
	}
	return model.WidgetConfiguration{}
}
