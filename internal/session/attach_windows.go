//go:build windows

package session

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/luaconsole/overlay/internal/audit"
	"github.com/luaconsole/overlay/internal/config"
	"github.com/luaconsole/overlay/internal/d3d"
	"github.com/luaconsole/overlay/internal/hook"
	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/overlay/cimgui"
	"github.com/luaconsole/overlay/internal/rebase"
	"github.com/luaconsole/overlay/internal/wndproc"
)

// Attach builds a session inside the current process and starts it. The
// native callbacks it creates live for the life of the process.
func Attach(ctx context.Context, cfg *config.Config) (*Session, error) {
	name, err := CheckHost(cfg.HostExecutable)
	if err != nil {
		return nil, err
	}
	base, err := rebase.ModuleBase(cfg.ModuleName)
	if err != nil {
		return nil, fmt.Errorf("host module base: %w", err)
	}
	log.Info("attaching", "host", name, "base", hexAddr(base))

	vt, err := d3d.ProbeVTable()
	if err != nil {
		return nil, fmt.Errorf("probe swap chain: %w", err)
	}
	fe, err := cimgui.Load(config.ResolvePath(cfg.CimguiDLL))
	if err != nil {
		return nil, err
	}

	var trail *audit.Logger
	if cfg.AuditEnabled {
		trail, err = audit.NewLogger(config.DataDir(), cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
		if err != nil {
			log.Warn("audit disabled", logging.KeyError, err.Error())
			trail = nil
		}
	}

	s := New(Deps{
		Config:   cfg,
		Memory:   hook.NewProcessMemory(),
		Caller:   hook.NativeCall,
		Native:   d3d.API{},
		Window:   wndproc.User32{},
		Frontend: fe,
		Audit:    trail,
		Base:     base,
	})
	s.wnd.CreateShim()

	cb := Callbacks{
		Present: windows.NewCallback(func(sc, sync, flags uintptr) uintptr {
			return s.OnPresent(sc, sync, flags)
		}),
		ResizeBuffers: windows.NewCallback(func(sc, count, width, height, format, flags uintptr) uintptr {
			return s.OnResize(sc, count, width, height, format, flags)
		}),
		Log: windows.NewCallback(func(console, msg, color, tag uintptr) uintptr {
			return s.OnLog(console, msg, color, tag)
		}),
	}
	if err := s.Start(ctx, vt, cb); err != nil {
		fe.Close()
		trail.Close()
		return nil, err
	}
	return s, nil
}
