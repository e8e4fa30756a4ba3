//go:build windows

// Command luaconsole is built with -buildmode=c-shared and injected into the
// host. Loading the DLL attaches the overlay on a background goroutine; the
// unload key or `luaconsolectl unload` tears it down again.
package main

import "C"

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/luaconsole/overlay/internal/config"
	"github.com/luaconsole/overlay/internal/hotkey"
	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/session"
	"github.com/luaconsole/overlay/internal/unload"
)

var version = "0.1.0"

var log = logging.L("main")

// init runs under the loader lock, so everything happens on a goroutine.
func init() {
	go run()
}

func run() {
	cfg, loadErr := config.Load("")
	if loadErr != nil {
		cfg = config.Default()
	}
	res := cfg.ValidateTiered()

	logFile := initLogging(cfg)
	if loadErr != nil {
		log.Warn("config unreadable, using defaults", logging.KeyError, loadErr.Error())
	}
	for _, w := range res.Warnings {
		log.Warn("config warning", logging.KeyError, w.Error())
	}
	if res.HasFatals() {
		log.Error("config invalid, not attaching", logging.KeyError, res.Err().Error())
		closeLog(logFile)
		return
	}

	log.Info("luaconsole loading", "version", version, "pid", os.Getpid())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := session.Attach(ctx, cfg)
	if err != nil {
		log.Error("attach failed", logging.KeyError, err.Error())
		closeLog(logFile)
		return
	}

	var signal unload.Signal
	ev, err := unload.CreateEvent(unload.EventName(os.Getpid()))
	if err != nil {
		log.Warn("external unload unavailable", logging.KeyError, err.Error())
	} else {
		signal = ev
		defer ev.Close()
	}

	coord := unload.New(unload.Options{
		Keyboard:  hotkey.Async{},
		ToggleKey: cfg.ToggleKey,
		UnloadKey: cfg.UnloadKey,
		Interval:  time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		Toggle:    s.Toggle,
		Signal:    signal,
		Teardown:  s.TeardownSteps(),
		// The Go runtime cannot be unloaded from a live process, so the
		// module stays mapped with every hook gone and nothing running.
		Release: func() {
			log.Info("overlay unloaded, module dormant")
			closeLog(logFile)
		},
	})
	coord.Run(ctx)
}

// initLogging writes to a fresh per-pid log in the data directory, or to
// stderr when the file cannot be opened.
func initLogging(cfg *config.Config) io.Closer {
	path := config.ResolvePath(cfg.LogFile)
	if path == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
		return nil
	}
	w, err := logging.OpenSessionLog(path, os.Getpid(), cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
		log.Warn("log file unavailable, logging to stderr", "path", path, logging.KeyError, err.Error())
		return nil
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)
	log.Debug("session log opened", "path", w.Path())
	return w
}

func closeLog(c io.Closer) {
	if c == nil {
		return
	}
	logging.Init("text", "error", io.Discard)
	c.Close()
}

func main() {}
