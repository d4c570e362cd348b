package harness

import (
	"context"
	"sync"

	"github.com/favloyalty/widgetbridge/internal/bus"
	"github.com/favloyalty/widgetbridge/model"
)

// FrameFactory creates the embedded frame for a frame URL and returns the
// host side of its message channel.
type FrameFactory func(ctx context.Context, frameURL string) (bus.Conn, error)

// RecordingSurface implements loader.Surface for the headless harness: every
// presentation call is recorded instead of touching a document, and frame
// creation is delegated to a factory that runs the embedded application
// in-process.
type RecordingSurface struct {
	createFrame FrameFactory

	mu            sync.Mutex
	launcherShown bool
	frameVisible  bool
	frameCreated  int
	frameURL      string
	theme         model.LauncherTheme
	placement     model.Placement
	frameOffset   int
	frameHeight   int
}

// NewRecordingSurface creates a surface whose frames are built by factory.
func NewRecordingSurface(factory FrameFactory) *RecordingSurface {
	return &RecordingSurface{
		createFrame: factory,
		theme:       model.DefaultLauncherTheme(),
		placement:   model.DefaultPlacement,
	}
}

func (s *RecordingSurface) ShowLauncher() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launcherShown = true
}

func (s *RecordingSurface) ApplyTheme(theme model.LauncherTheme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = theme
}

func (s *RecordingSurface) ApplyPlacement(p model.Placement, frameOffset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placement = p
	s.frameOffset = frameOffset
}

func (s *RecordingSurface) CreateFrame(ctx context.Context, frameURL string) (bus.Conn, error) {
	conn, err := s.createFrame(ctx, frameURL)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.frameCreated++
	s.frameURL = frameURL
	s.mu.Unlock()
	return conn, nil
}

func (s *RecordingSurface) ShowFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameVisible = true
}

func (s *RecordingSurface) HideFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameVisible = false
}

func (s *RecordingSurface) SetFrameHeight(px int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameHeight = px
}

// SurfaceState is a point-in-time read of the recorded presentation state.
type SurfaceState struct {
	LauncherShown  bool                `json:"launcherShown"`
	FrameVisible   bool                `json:"frameVisible"`
	FrameCreations int                 `json:"frameCreations"`
	FrameURL       string              `json:"frameUrl,omitempty"`
	Theme          model.LauncherTheme `json:"theme"`
	Placement      model.Placement     `json:"placement"`
	FrameOffset    int                 `json:"frameOffset"`
	FrameHeight    int                 `json:"frameHeight"`
}

// State snapshots the recorded presentation state.
func (s *RecordingSurface) State() SurfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SurfaceState{
		LauncherShown:  s.launcherShown,
		FrameVisible:   s.frameVisible,
		FrameCreations: s.frameCreated,
		FrameURL:       s.frameURL,
		Theme:          s.theme,
		Placement:      s.placement,
		FrameOffset:    s.frameOffset,
		FrameHeight:    s.frameHeight,
	}
}
