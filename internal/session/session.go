// Package session owns every hook, the render surface, the window subclass,
// the overlay UI, the log relay and the script engine for one attach of the
// module. Hooked entry points call into it on host threads.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/luaconsole/overlay/internal/audit"
	"github.com/luaconsole/overlay/internal/config"
	"github.com/luaconsole/overlay/internal/d3d"
	"github.com/luaconsole/overlay/internal/health"
	"github.com/luaconsole/overlay/internal/hook"
	"github.com/luaconsole/overlay/internal/host"
	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/logrelay"
	"github.com/luaconsole/overlay/internal/overlay"
	"github.com/luaconsole/overlay/internal/rebase"
	"github.com/luaconsole/overlay/internal/script"
	"github.com/luaconsole/overlay/internal/surface"
	"github.com/luaconsole/overlay/internal/wndproc"
)

var log = logging.L("session")

var errNoConsole = errors.New("session: host log console not seen yet")

// Deps are the native seams. Tests substitute fakes for all of them.
type Deps struct {
	Config   *config.Config
	Memory   hook.Memory
	Caller   hook.Caller
	Native   surface.Native
	Window   wndproc.WindowAPI
	Frontend overlay.Frontend
	Audit    *audit.Logger
	// Base is the load address of the host module the offsets are
	// relative to.
	Base uintptr
}

// Callbacks are the native entry points that forward to OnPresent,
// OnResize and OnLog.
type Callbacks struct {
	Present       uintptr
	ResizeBuffers uintptr
	Log           uintptr
}

// Session is created once per attach and torn down by the unload
// coordinator.
type Session struct {
	cfg   *config.Config
	mem   hook.Memory
	audit *audit.Logger
	kind  logrelay.MessageKind

	hooks    *hook.Manager
	resolver *rebase.Resolver
	present  *hook.Binding
	resize   *hook.Binding
	logHook  *hook.Binding

	surface *surface.Controller
	wnd     *wndproc.Interceptor
	ui      *overlay.Runtime
	ring    *logrelay.Ring
	relay   *logrelay.Relay
	engine  *script.Engine
	tracker *host.Tracker
	health  *health.Monitor

	field     atomic.Pointer[host.Field]
	console   atomic.Uintptr
	visible   atomic.Bool
	unloading atomic.Bool

	frames  atomic.Uint64
	resizes atomic.Uint64
}

// New wires the components. Nothing is hooked until Start.
func New(d Deps) *Session {
	cfg := d.Config
	s := &Session{
		cfg:      cfg,
		mem:      d.Memory,
		audit:    d.Audit,
		kind:     logrelay.MessageKind(cfg.LogMessageKind),
		hooks:    hook.NewManager(d.Memory, d.Caller),
		resolver: rebase.New(d.Base, d.Memory),
		surface:  surface.NewController(d.Native),
		ring:     logrelay.NewRing(cfg.RingCapacity),
		health:   health.NewMonitor(),
	}
	s.visible.Store(true)

	s.relay = logrelay.New(logrelay.Config{
		ScriptTag: cfg.ScriptTag,
		Marker:    cfg.Marker,
		Prefix:    cfg.ScriptPrefix,
	}, s.ring)
	s.tracker = host.NewTracker(fieldReader{s}, cfg.PlayState)
	s.engine = script.New(script.Env{
		Publish:  s.relay.Publish,
		ClearLog: s.ring.Clear,
		Host:     s.tracker,
		Memory:   d.Memory,
		Base:     d.Base,
	}, time.Duration(cfg.ScriptBudgetMs)*time.Millisecond)
	s.ui = overlay.New(d.Frontend, auditedScripts{engine: s.engine, audit: d.Audit}, s.ring, overlay.Options{
		FontPath:       config.ResolvePath(cfg.FontPath),
		FontSize:       cfg.FontSize,
		EditorCapacity: cfg.EditorCapacity,
		Status:         s.health.Lines,
	})
	s.wnd = wndproc.New(d.Window, s)
	s.wnd.SetSink(s.ui)

	s.health.Update(health.Scripts, health.Healthy, "")
	return s
}

// fieldReader reads the game state once Start has resolved it.
type fieldReader struct{ s *Session }

func (r fieldReader) GameState() (int32, error) {
	f := r.s.field.Load()
	if f == nil {
		return 0, host.ErrUnresolved
	}
	return f.GameState()
}

type install struct {
	name        string
	target      uintptr
	replacement uintptr
	slot        **hook.Binding
}

// Start resolves the host state, installs the present, resize and log
// hooks and enables them. If any hook fails, every hook installed so far is
// removed and the host is left as it was.
func (s *Session) Start(ctx context.Context, vt d3d.VTable, cb Callbacks) error {
	s.resolveHostState(ctx)

	plan := []install{
		{"present", vt.Present, cb.Present, &s.present},
		{"resize_buffers", vt.ResizeBuffers, cb.ResizeBuffers, &s.resize},
		{"log", s.resolver.Addr(s.cfg.LogOffset), cb.Log, &s.logHook},
	}

	var done []install
	rollback := func(cause error) error {
		for i := len(done) - 1; i >= 0; i-- {
			if err := s.hooks.Remove(done[i].target); err != nil && !errors.Is(err, hook.ErrNotInstalled) {
				log.Error("rollback failed", logging.KeyHook, done[i].name, logging.KeyError, err.Error())
			}
			*done[i].slot = nil
		}
		s.health.Update(health.Hooks, health.Unhealthy, cause.Error())
		return cause
	}

	for _, p := range plan {
		b, err := s.hooks.Install(p.target, p.replacement)
		if err != nil {
			return rollback(fmt.Errorf("install %s hook: %w", p.name, err))
		}
		*p.slot = b
		done = append(done, p)
	}
	for _, p := range plan {
		if err := s.hooks.Enable(p.target); err != nil {
			return rollback(fmt.Errorf("enable %s hook: %w", p.name, err))
		}
		log.Info("hook enabled", logging.KeyHook, p.name, logging.KeyTarget, hexAddr(p.target))
		s.audit.Log(audit.EventHookInstalled, "", map[string]any{"hook": p.name, "target": hexAddr(p.target)})
	}

	s.relay.SetForwarder(s.forward)
	logging.SetMirror(s.ring, s.cfg.MirrorLevel)
	s.health.Update(health.Hooks, health.Healthy, "")
	s.audit.Log(audit.EventLoad, "", map[string]any{"base": hexAddr(s.resolver.Base())})
	log.Info("session started")
	return nil
}

// resolveHostState waits up to SingletonWaitMs for the Contraption
// singleton. Failure leaves gameplay detection off but is not fatal.
func (s *Session) resolveHostState(ctx context.Context) {
	if s.cfg.ContraptionOffset == 0 {
		log.Warn("contraption_offset not set, gameplay detection disabled")
		s.health.Update(health.Host, health.Unknown, "contraption_offset not set")
		return
	}
	wait := time.Duration(s.cfg.SingletonWaitMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	f, err := host.ResolveField(ctx, s.resolver, s.mem, s.cfg.ContraptionOffset, s.cfg.GameStateOffset, 10*time.Millisecond)
	if err != nil {
		log.Warn("game state unavailable, gameplay detection disabled", logging.KeyError, err.Error())
		s.health.Update(health.Host, health.Unknown, "game state not resolved")
		return
	}
	s.field.Store(f)
	s.health.Update(health.Host, health.Healthy, "")
}

// Visible implements wndproc.Flags.
func (s *Session) Visible() bool { return s.visible.Load() }

// InGameplay implements wndproc.Flags.
func (s *Session) InGameplay() bool { return s.tracker.InGameplay() }

// Toggle flips overlay visibility.
func (s *Session) Toggle() {
	v := !s.visible.Load()
	s.visible.Store(v)
	log.Debug("visibility toggled", "visible", v)
}

// Stats reports presented frames and resize calls seen by the hooks.
func (s *Session) Stats() (frames, resizes uint64) {
	return s.frames.Load(), s.resizes.Load()
}

func (s *Session) Health() *health.Monitor           { return s.health }
func (s *Session) Ring() *logrelay.Ring              { return s.ring }
func (s *Session) Engine() *script.Engine            { return s.engine }
func (s *Session) Interceptor() *wndproc.Interceptor { return s.wnd }
func (s *Session) Hooks() *hook.Manager              { return s.hooks }

// auditedScripts records console submissions in the audit trail.
type auditedScripts struct {
	engine *script.Engine
	audit  *audit.Logger
}

func (a auditedScripts) EnqueueUpdateTask(src string, oneShot bool) (string, error) {
	id, err := a.engine.EnqueueUpdateTask(src, oneShot)
	if err == nil {
		a.audit.Log(audit.EventScriptSubmitted, id, map[string]any{"kind": "update", "oneShot": oneShot, "bytes": len(src)})
	}
	return id, err
}

func (a auditedScripts) EnqueueInitTask(src string, runImmediately bool) (string, error) {
	id, err := a.engine.EnqueueInitTask(src, runImmediately)
	if err == nil {
		a.audit.Log(audit.EventScriptSubmitted, id, map[string]any{"kind": "init", "immediate": runImmediately, "bytes": len(src)})
	}
	return id, err
}

func (a auditedScripts) ClearRepeating() int {
	n := a.engine.ClearRepeating()
	if n > 0 {
		a.audit.Log(audit.EventScriptCleared, "", map[string]any{"count": n})
	}
	return n
}

func (a auditedScripts) Counts() (int, int) { return a.engine.Counts() }

func hexAddr(v uintptr) string { return fmt.Sprintf("0x%X", v) }
