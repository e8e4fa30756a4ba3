// Package unload runs the hotkey loop and tears the overlay down in a fixed
// order when unload is requested.
package unload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luaconsole/overlay/internal/hotkey"
	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("unload")

// DefaultInterval is the hotkey poll period.
const DefaultInterval = time.Millisecond

// Reason says what started teardown.
type Reason string

const (
	ReasonKey       Reason = "unload key"
	ReasonSignal    Reason = "external signal"
	ReasonCancelled Reason = "context cancelled"
	ReasonRequested Reason = "requested"
)

// Signal is an external unload trigger polled by the loop.
type Signal interface {
	Signaled() bool
}

// Step is one teardown action. Steps run in order; a failing step is logged
// and the next one still runs.
type Step struct {
	Name string
	Run  func() error
}

// Options wires the loop.
type Options struct {
	Keyboard  hotkey.Keyboard
	ToggleKey int
	UnloadKey int
	Interval  time.Duration

	// Toggle flips overlay visibility.
	Toggle func()
	Signal Signal

	Teardown []Step
	// Release is the final step, run after every teardown step.
	Release func()
}

// Result reports a finished teardown.
type Result struct {
	Reason Reason
	Failed []string
	Err    error
}

// Coordinator owns the only thread the overlay starts.
type Coordinator struct {
	opts   Options
	toggle *hotkey.Edge
	unload *hotkey.Level

	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
	result    Result
	toggles   atomic.Uint64
}

func New(opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	c := &Coordinator{opts: opts, done: make(chan struct{})}
	if opts.Keyboard != nil {
		c.toggle = hotkey.NewEdge(opts.Keyboard, opts.ToggleKey)
		c.unload = hotkey.NewLevel(opts.Keyboard, opts.UnloadKey)
	}
	return c
}

// Run polls until unload is triggered, then tears down and returns. It
// blocks; the DLL entry runs it on its own goroutine.
func (c *Coordinator) Run(ctx context.Context) Result {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	log.Info("watch loop started", "interval", c.opts.Interval, "toggleKey", fmt.Sprintf("0x%X", c.opts.ToggleKey), "unloadKey", fmt.Sprintf("0x%X", c.opts.UnloadKey))
	for {
		if reason, stop := c.poll(); stop {
			return c.Teardown(reason)
		}
		select {
		case <-ctx.Done():
			return c.Teardown(ReasonCancelled)
		case <-ticker.C:
		}
	}
}

// poll checks every trigger once.
func (c *Coordinator) poll() (Reason, bool) {
	if c.requested.Load() {
		return ReasonRequested, true
	}
	if c.unload != nil && c.unload.Held() {
		return ReasonKey, true
	}
	if c.opts.Signal != nil && c.opts.Signal.Signaled() {
		return ReasonSignal, true
	}
	if c.toggle != nil && c.toggle.Pressed() && c.opts.Toggle != nil {
		c.opts.Toggle()
		c.toggles.Add(1)
	}
	return "", false
}

// Request asks the loop to unload on its next poll.
func (c *Coordinator) Request() { c.requested.Store(true) }

// Teardown runs the steps and Release exactly once. Later calls wait for
// the first to finish and return its result.
func (c *Coordinator) Teardown(reason Reason) Result {
	c.once.Do(func() {
		defer close(c.done)
		log.Info("unloading", "reason", string(reason))

		res := Result{Reason: reason}
		var errs []error
		for _, step := range c.opts.Teardown {
			if err := runStep(step); err != nil {
				log.Warn("teardown step failed", "step", step.Name, logging.KeyError, err.Error())
				res.Failed = append(res.Failed, step.Name)
				errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
				continue
			}
			log.Debug("teardown step done", "step", step.Name)
		}
		res.Err = errors.Join(errs...)
		c.result = res

		log.Info("teardown complete", "failed", len(res.Failed))
		if c.opts.Release != nil {
			c.opts.Release()
		}
	})
	<-c.done
	return c.result
}

func runStep(step Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if step.Run == nil {
		return nil
	}
	return step.Run()
}

// Done is closed once teardown has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Toggles counts visibility flips.
func (c *Coordinator) Toggles() uint64 { return c.toggles.Load() }

// EventName is the named event an external tool sets to unload the overlay
// from process pid.
func EventName(pid int) string {
	return fmt.Sprintf(`Local\luaconsole-unload-%d`, pid)
}
