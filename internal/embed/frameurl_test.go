package embed

import (
	"net/url"
	"strings"
	"testing"

	"github.com/favloyalty/widgetbridge/model"
)

func TestBuildFrameURLRoundTrip(t *testing.T) {
	cfg := model.WidgetConfiguration{
		WidgetURL:   "https://widget.example.com/",
		APIURL:      "https://api.example.com",
		StoreHash:   "abc123",
		ChannelID:   "5",
		CustomerID:  "42",
		StoreOrigin: "https://store.example.com",
		Position:    model.PlacementBottomLeft,
	}

	frameURL, err := BuildFrameURL(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(frameURL, "https://widget.example.com/embed?") {
		t.Fatalf("frame url = %q, want /embed path without doubled slash", frameURL)
	}

	got := ParseFrameURL(frameURL)
	want := cfg
	want.WidgetURL = "https://widget.example.com/"
	if got.StoreHash != want.StoreHash || got.ChannelID != want.ChannelID ||
		got.CustomerID != want.CustomerID || got.Position != want.Position {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestBuildFrameURLStripsCustomerJWT(t *testing.T) {
	cfg := model.WidgetConfiguration{
		WidgetURL:          "https://widget.example.com",
		ChannelID:          "5",
		CurrentCustomerJWT: "eyJ.secret.token",
	}

	frameURL, err := BuildFrameURL(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(frameURL, "secret") {
		t.Fatalf("frame url leaks the customer jwt: %q", frameURL)
	}
	if got := ParseFrameURL(frameURL); got.CurrentCustomerJWT != "" {
		t.Fatalf("parsed jwt = %q, want empty", got.CurrentCustomerJWT)
	}
}

func TestBuildFrameURLRequiresWidgetURL(t *testing.T) {
	if _, err := BuildFrameURL(model.WidgetConfiguration{}); err != model.ErrMissingWidgetURL {
		t.Fatalf("err = %v, want ErrMissingWidgetURL", err)
	}
}

func TestParseConfigParamDoubleEncoded(t *testing.T) {
	raw := `{"widgetUrl":"https://widget.example.com","storeHash":"abc123","channelId":"5"}`
	once := url.QueryEscape(raw)

	// A double-encoded value survives one query decode still percent-escaped.
	got := ParseConfigParam(once)
	if got.StoreHash != "abc123" || got.ChannelID != "5" {
		t.Fatalf("double-encoded parse = %+v", got)
	}

	// Plain JSON still parses directly.
	if got := ParseConfigParam(raw); got.StoreHash != "abc123" {
		t.Fatalf("single-encoded parse = %+v", got)
	}
}

func TestParseConfigParamGarbageYieldsZeroConfig(t *testing.T) {
	for _, raw := range []string{"", "not-json", "%zz", "{\"widgetUrl\":"} {
		if got := ParseConfigParam(raw); got != (model.WidgetConfiguration{}) {
			t.Fatalf("ParseConfigParam(%q) = %+v, want zero config", raw, got)
		}
	}
}

func TestParseFrameURLUnparseable(t *testing.T) {
	if got := ParseFrameURL("://not a url"); got != (model.WidgetConfiguration{}) {
		t.Fatalf("got %+v, want zero config", got)
	}
}
