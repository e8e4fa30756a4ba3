// Package wndproc subclasses the host window so the overlay can take input
// while it is capturing and pass everything else through untouched.
package wndproc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("wndproc")

var (
	ErrNoWindow = errors.New("wndproc: no window")
	// ErrShimInstalled means the window already runs our shim but no original
	// was recorded for it, so there is nothing safe to restore.
	ErrShimInstalled = errors.New("wndproc: shim already installed without a recorded original")
	ErrNoShim        = errors.New("wndproc: shim callback not created")
)

// Window messages that always reach the host so it can track its own
// geometry and painting.
const (
	wmMove          = 0x0003
	wmSize          = 0x0005
	wmPaint         = 0x000F
	wmEraseBkgnd    = 0x0014
	wmNCCalcSize    = 0x0083
	wmNCPaint       = 0x0085
	wmEnterSizeMove = 0x0231
	wmExitSizeMove  = 0x0232
)

func passthrough(msg uint32) bool {
	switch msg {
	case wmSize, wmMove, wmEnterSizeMove, wmExitSizeMove,
		wmPaint, wmNCPaint, wmEraseBkgnd, wmNCCalcSize:
		return true
	}
	return false
}

// WindowAPI is the slice of user32 the interceptor needs.
type WindowAPI interface {
	WindowProc(hwnd uintptr) uintptr
	// SetWindowProc installs proc and returns the previous procedure.
	SetWindowProc(hwnd, proc uintptr) uintptr
	CallWindowProc(proc, hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr
	DefWindowProc(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr
	FindWindow(class string) uintptr
	IsWindow(hwnd uintptr) bool
}

// InputSink is the overlay side of input routing.
type InputSink interface {
	// HandleInput reports whether the UI consumed the message. Captured
	// messages are swallowed either way.
	HandleInput(hwnd uintptr, msg uint32, wParam, lParam uintptr) bool
	WantCaptureMouse() bool
	// Ready reports whether the UI exists. Nothing is captured until it does.
	Ready() bool
}

// Flags reports the overlay's visibility and whether the host is in
// gameplay. Both are read on the window thread.
type Flags interface {
	Visible() bool
	InGameplay() bool
}

// CaptureActive decides whether input belongs to the overlay. In gameplay
// the visible overlay takes everything; elsewhere only while the pointer
// is over it.
func CaptureActive(visible, gameplay, wantMouse bool) bool {
	if gameplay {
		return visible
	}
	return visible && wantMouse
}

type sinkBox struct{ sink InputSink }

// Interceptor owns the subclass of one window at a time.
type Interceptor struct {
	api   WindowAPI
	flags Flags
	shim  uintptr

	mu        sync.Mutex
	originals map[uintptr]uintptr

	// Read by Dispatch without the lock.
	window   atomic.Uintptr
	original atomic.Uintptr
	sink     atomic.Pointer[sinkBox]

	swallowed atomic.Uint64
	forwarded atomic.Uint64
}

func New(api WindowAPI, flags Flags) *Interceptor {
	return &Interceptor{
		api:       api,
		flags:     flags,
		originals: make(map[uintptr]uintptr),
	}
}

// SetShim records the address of the native callback that calls Dispatch.
func (i *Interceptor) SetShim(proc uintptr) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.shim = proc
}

func (i *Interceptor) Shim() uintptr {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.shim
}

// SetSink routes captured input to sink; nil stops routing.
func (i *Interceptor) SetSink(sink InputSink) {
	if sink == nil {
		i.sink.Store(nil)
		return
	}
	i.sink.Store(&sinkBox{sink: sink})
}

// Hook subclasses hwnd. Hooking the hooked window again is a no-op; hooking
// another window restores the first. The original procedure of a window is
// captured once and never while the shim is installed on it.
func (i *Interceptor) Hook(hwnd uintptr) error {
	if hwnd == 0 {
		return ErrNoWindow
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.shim == 0 {
		return ErrNoShim
	}
	cur := i.window.Load()
	if cur == hwnd {
		return nil
	}
	if cur != 0 {
		log.Info("window changed, restoring previous", logging.KeyWindow, hexID(cur))
		i.restoreLocked()
	}

	current := i.api.WindowProc(hwnd)
	if current == 0 {
		return fmt.Errorf("%w: 0x%X has no window procedure", ErrNoWindow, hwnd)
	}

	if current == i.shim {
		orig, ok := i.originals[hwnd]
		if !ok {
			return ErrShimInstalled
		}
		i.original.Store(orig)
		i.window.Store(hwnd)
		return nil
	}

	orig, seen := i.originals[hwnd]
	if !seen {
		orig = current
		i.originals[hwnd] = orig
	}
	// Publish the original before the shim can run.
	i.original.Store(orig)
	i.window.Store(hwnd)

	prev := i.api.SetWindowProc(hwnd, i.shim)
	if prev == 0 {
		i.window.Store(0)
		i.original.Store(0)
		if !seen {
			delete(i.originals, hwnd)
		}
		return fmt.Errorf("%w: SetWindowLongPtr failed on 0x%X", ErrNoWindow, hwnd)
	}

	log.Info("hooked", logging.KeyWindow, hexID(hwnd), "original", hexID(orig))
	return nil
}

// Restore writes the recorded original back. Safe when nothing is hooked.
func (i *Interceptor) Restore() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.restoreLocked()
}

func (i *Interceptor) restoreLocked() {
	hwnd := i.window.Load()
	if hwnd == 0 {
		return
	}
	orig := i.original.Load()

	if i.api.IsWindow(hwnd) {
		if cur := i.api.WindowProc(hwnd); cur != i.shim {
			log.Warn("window procedure was replaced over the shim", logging.KeyWindow, hexID(hwnd), "current", hexID(cur))
		}
		i.api.SetWindowProc(hwnd, orig)
		log.Info("restored", logging.KeyWindow, hexID(hwnd), "original", hexID(orig))
	}

	i.window.Store(0)
	i.original.Store(0)
}

// RestoreByClass restores the hooked window, then looks up class in case
// the recorded handle went stale and a live window still runs the shim.
func (i *Interceptor) RestoreByClass(class string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.restoreLocked()
	if class == "" {
		return nil
	}

	hwnd := i.api.FindWindow(class)
	if hwnd == 0 || i.api.WindowProc(hwnd) != i.shim {
		return nil
	}
	orig, ok := i.originals[hwnd]
	if !ok {
		return fmt.Errorf("%w: %s 0x%X", ErrShimInstalled, class, hwnd)
	}
	i.api.SetWindowProc(hwnd, orig)
	log.Info("restored by class", logging.KeyWindow, hexID(hwnd), "class", class)
	return nil
}

// Hooked returns the subclassed window, or 0.
func (i *Interceptor) Hooked() uintptr { return i.window.Load() }

// Original returns the procedure Restore will write back, or 0.
func (i *Interceptor) Original() uintptr { return i.original.Load() }

// Dispatch is the body of the shim. Captured input goes only to the overlay
// and is reported handled; everything else reaches the original procedure.
func (i *Interceptor) Dispatch(hwnd uintptr, msg uint32, wParam, lParam uintptr) (ret uintptr) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in window procedure", logging.KeyError, fmt.Sprint(r))
			ret = i.forward(hwnd, msg, wParam, lParam)
		}
	}()

	if !passthrough(msg) {
		if box := i.sink.Load(); box != nil && box.sink.Ready() {
			visible, gameplay := i.flags.Visible(), i.flags.InGameplay()
			if CaptureActive(visible, gameplay, box.sink.WantCaptureMouse()) {
				box.sink.HandleInput(hwnd, msg, wParam, lParam)
				i.swallowed.Add(1)
				return 1
			}
		}
	}
	return i.forward(hwnd, msg, wParam, lParam)
}

func (i *Interceptor) forward(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	i.forwarded.Add(1)
	if orig := i.original.Load(); orig != 0 {
		return i.api.CallWindowProc(orig, hwnd, msg, wParam, lParam)
	}
	return i.api.DefWindowProc(hwnd, msg, wParam, lParam)
}

// Stats reports how many messages were swallowed and forwarded.
func (i *Interceptor) Stats() (swallowed, forwarded uint64) {
	return i.swallowed.Load(), i.forwarded.Load()
}

func hexID(v uintptr) string { return fmt.Sprintf("0x%X", v) }
