// Package loader implements the host side of the widget bridge: boot-time
// configuration resolution, the launcher, the frame lifecycle, identity
// delivery, and the sign-out watcher. It never touches a live page directly;
// the embedding environment implements Surface.
package loader

import "github.com/favloyalty/widgetbridge/model"

// Launcher and frame geometry. The open frame's anchored edge is offset from
// the corner by the launcher size plus a margin so the two never overlap.
const (
	// LauncherSize is the launcher control's diameter in pixels.
	LauncherSize = 60
	// FrameMargin is the gap between the launcher and the open frame.
	FrameMargin = 40
	// CornerInset is the resting distance from the screen corner.
	CornerInset = 20

	// MaxFrameHeight clamps heights announced by the frame.
	MaxFrameHeight = 800
)

// OpenFrameOffset is the open frame's offset from its anchored corner edge.
func OpenFrameOffset() int {
	return LauncherSize + FrameMargin
}

// FrameOffsetFor returns the frame's edge offset for a placement and
// open/closed state. Closed frames rest at the corner inset, under the
// launcher's footprint, since they are hidden anyway.
func FrameOffsetFor(p model.Placement, open bool) int {
	if open {
		return OpenFrameOffset()
	}
	return CornerInset
}

// ClampFrameHeight bounds a frame-announced height. Non-positive values fall
// back to the preferred height.
func ClampFrameHeight(px, preferred int) int {
	if px <= 0 {
		return preferred
	}
	if px > MaxFrameHeight {
		return MaxFrameHeight
	}
	return px
}
