package loader

// FrameState is the host's view of the embedded frame's lifecycle.
// Uninitialized → Created → Open ⇄ Closed. Created is entered once, on first
// open; later opens only toggle visibility so in-frame application state
// survives across opens.
type FrameState int

const (
	FrameUninitialized FrameState = iota
	FrameCreated
	FrameOpen
	FrameClosed
)

func (s FrameState) String() string {
	switch s {
	case FrameUninitialized:
		return "uninitialized"
	case FrameCreated:
		return "created"
	case FrameOpen:
		return "open"
	case FrameClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Exists reports whether the frame document has been created.
func (s FrameState) Exists() bool { return s != FrameUninitialized }

// IsOpen reports whether the frame is currently visible.
func (s FrameState) IsOpen() bool { return s == FrameOpen }
