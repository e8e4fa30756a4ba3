package session

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/luaconsole/overlay/internal/health"
	"github.com/luaconsole/overlay/internal/hook"
	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/logrelay"
	"github.com/luaconsole/overlay/internal/overlay"
)

// OnPresent is the body of the Present hook. The overlay frame never stops
// the host frame: whatever happens, the original Present runs once.
func (s *Session) OnPresent(swapChain, syncInterval, flags uintptr) uintptr {
	s.frames.Add(1)
	s.safely("present", func() { s.frame(swapChain) })
	return callOriginal(s.present, swapChain, syncInterval, flags)
}

func (s *Session) frame(swapChain uintptr) {
	if s.unloading.Load() {
		return
	}

	if _, entered := s.tracker.Poll(); entered {
		log.Info("gameplay entered, running init tasks")
		s.engine.NotifyInitialized()
	}
	s.engine.Tick()

	if !s.surface.Ready() {
		if !s.prepare(swapChain) {
			return
		}
	}
	s.ui.Frame(s.visible.Load(), s.tracker.InGameplay())
}

// prepare acquires the surface, subclasses its window and initializes the
// UI. A failure leaves nothing half-built; the next frame retries.
func (s *Session) prepare(swapChain uintptr) bool {
	if err := s.surface.Acquire(swapChain); err != nil {
		s.health.Update(health.Surface, health.Degraded, err.Error())
		return false
	}
	st := s.surface.State()
	s.health.Update(health.Surface, health.Healthy, "")

	if err := s.wnd.Hook(st.Window); err != nil {
		s.health.Update(health.Window, health.Degraded, err.Error())
	} else {
		s.health.Update(health.Window, health.Healthy, "")
	}

	err := s.ui.Init(overlay.Target{
		Window:  st.Window,
		Device:  st.Device,
		Context: st.Context,
		RTV:     st.RTV,
		Width:   st.Width,
		Height:  st.Height,
	})
	if err != nil {
		s.health.Update(health.Overlay, health.Unhealthy, err.Error())
		s.surface.Release()
		return false
	}
	s.health.Update(health.Overlay, health.Healthy, "")
	return true
}

// OnResize is the body of the ResizeBuffers hook. The UI and the render
// target view hold references to the old back buffer, so both go before the
// host resizes; the next Present rebuilds them. The window stays
// subclassed.
func (s *Session) OnResize(swapChain, bufferCount, width, height, format, flags uintptr) uintptr {
	s.resizes.Add(1)
	s.safely("resize", func() {
		s.ui.Shutdown()
		s.surface.Release()
	})
	return callOriginal(s.resize, swapChain, bufferCount, width, height, format, flags)
}

// OnLog is the body of the host log hook. Qualifying lines are copied into
// the ring; the host routine always runs exactly once.
func (s *Session) OnLog(console, msg, color, tag uintptr) uintptr {
	if console != 0 {
		s.console.Store(console)
	}
	s.safely("log", func() {
		if s.unloading.Load() {
			return
		}
		text, err := logrelay.ReadMessage(s.mem, msg, s.kind)
		if err != nil {
			log.Debug("unreadable host log message", logging.KeyError, err.Error())
			return
		}
		s.relay.Intercept(text, int(int32(tag)))
	})
	return callOriginal(s.logHook, console, msg, color, tag)
}

// forward writes one of our lines to the host log through the trampoline,
// tagged so the host treats it as script output.
func (s *Session) forward(line string) error {
	console := s.console.Load()
	if console == 0 {
		return errNoConsole
	}
	b := s.logHook
	if b == nil {
		return hook.ErrRemoved
	}
	tag := uintptr(uint32(int32(s.cfg.ScriptTag)))

	if s.kind == logrelay.KindCString {
		buf := logrelay.NewCString(line)
		_, err := b.Call(console, uintptr(unsafe.Pointer(&buf[0])), 0, tag)
		runtime.KeepAlive(buf)
		return err
	}
	str, backing := logrelay.NewStdString(line)
	_, err := b.Call(console, uintptr(unsafe.Pointer(str)), 0, tag)
	runtime.KeepAlive(str)
	runtime.KeepAlive(backing)
	return err
}

// safely runs fn on a host thread. A panic must not unwind into native
// code, so it is logged and swallowed.
func (s *Session) safely(where string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in hook", logging.KeyHook, where, logging.KeyError, fmt.Sprint(r))
		}
	}()
	fn()
}

// callOriginal runs the trampoline. After removal the hook body can still
// be on a host stack; it returns 0 instead of jumping into freed memory.
func callOriginal(b *hook.Binding, args ...uintptr) uintptr {
	if b == nil {
		return 0
	}
	ret, err := b.Call(args...)
	if errors.Is(err, hook.ErrRemoved) {
		return 0
	}
	return ret
}
