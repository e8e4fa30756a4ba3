package session

import (
	"errors"
	"fmt"

	"github.com/luaconsole/overlay/internal/audit"
	"github.com/luaconsole/overlay/internal/health"
	"github.com/luaconsole/overlay/internal/hook"
	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/unload"
)

// TeardownSteps returns the unload order. Frame work stops first so no new
// UI state is built, then the hooks go so no host thread can enter again,
// then the window procedure is restored, and only then are the UI and the
// surface released.
func (s *Session) TeardownSteps() []unload.Step {
	return []unload.Step{
		{Name: "stop frame work", Run: s.stopFrameWork},
		{Name: "remove present hook", Run: func() error { return s.removeHook("present", s.present) }},
		{Name: "remove resize hook", Run: func() error { return s.removeHook("resize_buffers", s.resize) }},
		{Name: "remove log hook", Run: func() error { return s.removeHook("log", s.logHook) }},
		{Name: "restore window procedure", Run: s.restoreWindow},
		{Name: "shut down overlay", Run: func() error { s.ui.Shutdown(); return nil }},
		{Name: "release surface", Run: func() error { s.surface.Release(); return nil }},
		{Name: "close script engine", Run: s.closeEngine},
		{Name: "close audit log", Run: s.closeAudit},
	}
}

func (s *Session) stopFrameWork() error {
	s.unloading.Store(true)
	s.relay.SetForwarder(nil)
	logging.ClearMirror()
	return nil
}

func (s *Session) removeHook(name string, b *hook.Binding) error {
	if b == nil {
		return nil
	}
	target := b.Target()
	err := s.hooks.Remove(target)
	if errors.Is(err, hook.ErrNotInstalled) {
		return nil
	}
	if err != nil {
		s.health.Update(health.Hooks, health.Unhealthy, fmt.Sprintf("%s: %v", name, err))
		return err
	}
	log.Info("hook removed", logging.KeyHook, name, logging.KeyTarget, hexAddr(target))
	s.audit.Log(audit.EventHookRemoved, "", map[string]any{"hook": name, "target": hexAddr(target)})
	return nil
}

func (s *Session) restoreWindow() error {
	s.wnd.SetSink(nil)
	return s.wnd.RestoreByClass(s.cfg.WindowClass)
}

func (s *Session) closeEngine() error {
	s.engine.Close()
	s.health.Update(health.Scripts, health.Unhealthy, "closed")
	return nil
}

func (s *Session) closeAudit() error {
	frames, resizes := s.Stats()
	s.audit.Log(audit.EventUnload, "", map[string]any{"frames": frames, "resizes": resizes})
	return s.audit.Close()
}
