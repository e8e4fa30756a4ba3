// Package overlay draws the console and log windows over the host frame.
//
// The Runtime owns the UI context. It is created once per acquired render
// surface and shut down before that surface is released.
package overlay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("overlay")

var (
	ErrNotReady     = errors.New("overlay: not initialized")
	ErrAlreadyReady = errors.New("overlay: already initialized")
)

// Target is the render surface the UI draws into.
type Target struct {
	Window  uintptr
	Device  uintptr
	Context uintptr
	RTV     uintptr
	Width   uint32
	Height  uint32
}

// Frontend is the immediate-mode UI library plus its Win32 and D3D11
// backends. Widget calls are only valid between NewFrame and Render.
type Frontend interface {
	CreateContext() error
	DestroyContext()
	ApplyStyle()
	LoadFont(path string, size float32) error
	LoadDefaultFont()
	InitBackends(window, device, context uintptr) error
	ShutdownBackends()

	HandleInput(hwnd uintptr, msg uint32, wParam, lParam uintptr) bool

	NewFrame()
	Render(context, rtv uintptr)

	Begin(title string) bool
	End()
	Text(s string)
	Separator()
	SameLine()
	Button(label string) bool
	Checkbox(label string, v *bool) bool
	InputMultiline(label string, buf []byte) bool
	BeginChild(id string) bool
	EndChild()
	// ScrollState reports the current child's scroll offset and limit.
	ScrollState() (y, max float32)
	ScrollToBottom()
	// Hovered reports whether the pointer is over, or dragging, any
	// overlay window.
	Hovered() bool
	Reticle()
}

// Scripts is the scripting engine as seen by the console buttons.
type Scripts interface {
	EnqueueUpdateTask(src string, oneShot bool) (string, error)
	EnqueueInitTask(src string, runImmediately bool) (string, error)
	ClearRepeating() int
	Counts() (update, init int)
}

// LogSource backs the log window.
type LogSource interface {
	Snapshot() []string
	// Len is the number of lines Snapshot would return.
	Len() int
	Clear()
}

// Options configures the UI.
type Options struct {
	FontPath       string
	FontSize       float32
	EditorCapacity int
	// Status returns extra lines shown under the console buttons.
	Status func() []string
}

// Runtime is the overlay's UI context plus the console state that survives
// re-initialization.
type Runtime struct {
	fe      Frontend
	scripts Scripts
	logs    LogSource
	opts    Options

	mu      sync.Mutex
	target  Target
	console *console

	ready     atomic.Bool
	wantMouse atomic.Bool
	inits     atomic.Uint64
}

func New(fe Frontend, scripts Scripts, logs LogSource, opts Options) *Runtime {
	if opts.EditorCapacity <= 0 {
		opts.EditorCapacity = 16 * 1024
	}
	if opts.FontSize <= 0 {
		opts.FontSize = 16
	}
	return &Runtime{
		fe:      fe,
		scripts: scripts,
		logs:    logs,
		opts:    opts,
		console: newConsole(opts.EditorCapacity),
	}
}

// Init creates the UI context for t. On failure everything created so far
// is torn down and the runtime stays not ready.
func (r *Runtime) Init(t Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready.Load() {
		return ErrAlreadyReady
	}

	if err := r.fe.CreateContext(); err != nil {
		return fmt.Errorf("create UI context: %w", err)
	}
	r.fe.ApplyStyle()

	if r.opts.FontPath != "" {
		if err := r.fe.LoadFont(r.opts.FontPath, r.opts.FontSize); err != nil {
			log.Warn("font load failed, using default", "path", r.opts.FontPath, logging.KeyError, err.Error())
			r.fe.LoadDefaultFont()
		}
	} else {
		r.fe.LoadDefaultFont()
	}

	if err := r.fe.InitBackends(t.Window, t.Device, t.Context); err != nil {
		r.fe.DestroyContext()
		return fmt.Errorf("init UI backends: %w", err)
	}

	r.target = t
	r.ready.Store(true)
	n := r.inits.Add(1)
	log.Info("overlay initialized", logging.KeyWindow, fmt.Sprintf("0x%X", t.Window), "width", t.Width, "height", t.Height, "inits", n)
	return nil
}

// Ready reports whether Init succeeded and Shutdown has not run since.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Frame draws the overlay when visible. It does nothing when hidden or not
// initialized.
func (r *Runtime) Frame(visible, gameplay bool) {
	if !visible || !r.ready.Load() {
		r.wantMouse.Store(false)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fe.NewFrame()
	r.console.draw(r)
	r.drawLog()
	if gameplay {
		r.fe.Reticle()
	}
	r.wantMouse.Store(r.fe.Hovered())
	r.fe.Render(r.target.Context, r.target.RTV)
}

// Shutdown destroys backends and context. Safe to call when not ready.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready.Swap(false) {
		return
	}
	r.wantMouse.Store(false)
	r.fe.ShutdownBackends()
	r.fe.DestroyContext()
	r.target = Target{}
	log.Info("overlay shut down")
}

// HandleInput offers a window message to the UI backend.
func (r *Runtime) HandleInput(hwnd uintptr, msg uint32, wParam, lParam uintptr) bool {
	if !r.ready.Load() {
		return false
	}
	return r.fe.HandleInput(hwnd, msg, wParam, lParam)
}

// WantCaptureMouse reports whether the last drawn frame had the pointer over
// an overlay window.
func (r *Runtime) WantCaptureMouse() bool { return r.wantMouse.Load() }

// Inits counts successful Init calls.
func (r *Runtime) Inits() uint64 { return r.inits.Load() }

// Editor returns the current editor text.
func (r *Runtime) Editor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.console.text()
}

// SetEditor replaces the editor text, truncated to capacity.
func (r *Runtime) SetEditor(src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.console.setText(src)
}
