package model

import "html"

// DisplayMode controls which of icon and label the launcher renders.
type DisplayMode string

const (
	DisplayIconOnly     DisplayMode = "IconOnly"
	DisplayLabelOnly    DisplayMode = "LabelOnly"
	DisplayIconAndLabel DisplayMode = "IconAndLabel"
)

// NormalizeDisplayMode maps arbitrary input to a valid DisplayMode,
// defaulting to DisplayIconOnly. "Icon&Label" is the backend's legacy
// spelling of DisplayIconAndLabel.
func NormalizeDisplayMode(v string) DisplayMode {
	switch DisplayMode(v) {
	case DisplayLabelOnly, DisplayIconAndLabel:
		return DisplayMode(v)
	}
	if v == "Icon&Label" {
		return DisplayIconAndLabel
	}
	return DisplayIconOnly
}

// Default launcher appearance, applied at boot and re-applied whenever the
// resolved identity becomes unauthenticated so a stale personalized theme
// never leaks to the next anonymous visitor.
const (
	DefaultLauncherBackground = "#62a63f"
	DefaultLauncherIconColor  = "#ffffff"
	DefaultLauncherLabel      = "Reward"
)

// LauncherTheme is the visual state of the host-page launcher control. The
// embedded application is the source of truth: it pushes the theme to the
// host whenever it loads or reloads channel settings.
type LauncherTheme struct {
	BackgroundColor string      `json:"backgroundColor"`
	IconColor       string      `json:"iconColor"`
	IconID          string      `json:"iconId,omitempty"` // empty means the fallback glyph
	DisplayMode     DisplayMode `json:"displayMode"`
	Label           string      `json:"label"`
	Placement       Placement   `json:"placement"`
}

// DefaultLauncherTheme returns the hardcoded default variant.
func DefaultLauncherTheme() LauncherTheme {
	return LauncherTheme{
		BackgroundColor: DefaultLauncherBackground,
		IconColor:       DefaultLauncherIconColor,
		DisplayMode:     DisplayIconOnly,
		Label:           DefaultLauncherLabel,
		Placement:       DefaultPlacement,
	}
}

// IsDefault reports whether the theme equals the hardcoded default variant.
func (t LauncherTheme) IsDefault() bool {
	return t == DefaultLauncherTheme()
}

// SafeLabel returns the label HTML-escaped and trimmed for insertion into the
// host page. Labels originate from user-configurable backend data and must
// never be rendered verbatim. Empty labels fall back to the default.
func (t LauncherTheme) SafeLabel() string {
	label := t.Label
	if label == "" {
		label = DefaultLauncherLabel
	}
	return html.EscapeString(label)
}

// Normalize returns a copy with enum fields coerced to valid values and the
// default colors filled in where missing.
func (t LauncherTheme) Normalize() LauncherTheme {
	out := t
	if out.BackgroundColor == "" {
		out.BackgroundColor = DefaultLauncherBackground
	}
	if out.IconColor == "" {
		out.IconColor = DefaultLauncherIconColor
	}
	out.DisplayMode = NormalizeDisplayMode(string(out.DisplayMode))
	out.Placement = NormalizePlacement(string(out.Placement))
	if out.Label == "" {
		out.Label = DefaultLauncherLabel
	}
	return out
}
