package model

import (
	"strings"
	"testing"
)

func TestNormalizeDisplayMode(t *testing.T) {
	cases := map[string]DisplayMode{
		"IconOnly":     DisplayIconOnly,
		"LabelOnly":    DisplayLabelOnly,
		"IconAndLabel": DisplayIconAndLabel,
		"Icon&Label":   DisplayIconAndLabel,
		"":             DisplayIconOnly,
		"banner":       DisplayIconOnly,
	}
	for in, want := range cases {
		if got := NormalizeDisplayMode(in); got != want {
			t.Errorf("NormalizeDisplayMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePlacement(t *testing.T) {
	cases := map[string]Placement{
		"bottom-right": PlacementBottomRight,
		"Bottom-Left":  PlacementBottomLeft,
		"top right":    PlacementTopRight,
		" TOP-LEFT ":   PlacementTopLeft,
		"":             DefaultPlacement,
		"center":       DefaultPlacement,
	}
	for in, want := range cases {
		if got := NormalizePlacement(in); got != want {
			t.Errorf("NormalizePlacement(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestThemeNormalizeFillsDefaults(t *testing.T) {
	got := LauncherTheme{DisplayMode: "Icon&Label", Placement: "Top Left"}.Normalize()

	if got.BackgroundColor != DefaultLauncherBackground {
		t.Fatalf("background = %q, want default", got.BackgroundColor)
	}
	if got.IconColor != DefaultLauncherIconColor {
		t.Fatalf("icon color = %q, want default", got.IconColor)
	}
	if got.DisplayMode != DisplayIconAndLabel {
		t.Fatalf("display mode = %q", got.DisplayMode)
	}
	if got.Placement != PlacementTopLeft {
		t.Fatalf("placement = %q", got.Placement)
	}
	if got.Label != DefaultLauncherLabel {
		t.Fatalf("label = %q, want default", got.Label)
	}
}

func TestSafeLabelEscapesMarkup(t *testing.T) {
	theme := LauncherTheme{Label: `<script>alert("x")</script>`}

	got := theme.SafeLabel()
	if strings.Contains(got, "<script>") {
		t.Fatalf("SafeLabel() = %q, markup not escaped", got)
	}
	if !strings.Contains(got, "&lt;script&gt;") {
		t.Fatalf("SafeLabel() = %q, want escaped entities", got)
	}
}

func TestSafeLabelEmptyFallsBack(t *testing.T) {
	if got := (LauncherTheme{}).SafeLabel(); got != DefaultLauncherLabel {
		t.Fatalf("SafeLabel() = %q, want %q", got, DefaultLauncherLabel)
	}
}

func TestIsDefault(t *testing.T) {
	if !DefaultLauncherTheme().IsDefault() {
		t.Fatal("default theme must report IsDefault")
	}
	custom := DefaultLauncherTheme()
	custom.BackgroundColor = "#000000"
	if custom.IsDefault() {
		t.Fatal("customized theme must not report IsDefault")
	}
}
