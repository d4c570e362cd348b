package loader

import (
	"context"

	"github.com/favloyalty/widgetbridge/internal/bus"
	"github.com/favloyalty/widgetbridge/model"
)

// Surface is what the embedding environment provides: launcher and frame
// presentation plus frame creation. The controller drives it; it never calls
// back into the controller. A configuration or identity failure must never
// leave the launcher hidden or broken, so every Surface call is
// presentational and infallible except CreateFrame.
type Surface interface {
	// ShowLauncher reveals the launcher control. Called once the boot theme
	// fetch settles so the visitor never sees a restyle jump.
	ShowLauncher()

	// ApplyTheme restyles the launcher. Label text arrives pre-escaped via
	// LauncherTheme.SafeLabel.
	ApplyTheme(theme model.LauncherTheme)

	// ApplyPlacement anchors launcher and frame to a corner. frameOffset is
	// the frame's distance from the anchored edge in pixels; launcher and
	// frame move together, atomically.
	ApplyPlacement(p model.Placement, frameOffset int)

	// CreateFrame creates the embedded frame document navigated to frameURL
	// and returns the host side of its message channel. The controller calls
	// this exactly once per page.
	CreateFrame(ctx context.Context, frameURL string) (bus.Conn, error)

	// ShowFrame reveals the (already created) frame and its backdrop.
	ShowFrame()

	// HideFrame hides the frame and backdrop, preserving its document.
	HideFrame()

	// SetFrameHeight resizes the frame to the given pixel height.
	SetFrameHeight(px int)
}
