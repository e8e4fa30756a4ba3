// Package logrelay mirrors script output from the host's log routine into
// the console's log window.
package logrelay

import (
	"strings"
	"sync/atomic"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("logrelay")

// Config selects which host log lines belong in the console.
type Config struct {
	ScriptTag int
	Marker    string
	Prefix    string
}

// Forwarder writes a line into the host log through the original routine,
// bypassing the hook.
type Forwarder func(msg string) error

type forwarderBox struct{ fn Forwarder }

// Relay filters host log calls into a Ring.
type Relay struct {
	cfg     Config
	ring    *Ring
	forward atomic.Pointer[forwarderBox]

	relayed   atomic.Uint64
	skipped   atomic.Uint64
	published atomic.Uint64
}

func New(cfg Config, ring *Ring) *Relay {
	return &Relay{cfg: cfg, ring: ring}
}

func (r *Relay) Ring() *Ring { return r.ring }

// Qualifies reports whether a host log line is script output.
func (r *Relay) Qualifies(msg string, tag int) bool {
	if tag == r.cfg.ScriptTag {
		return true
	}
	return r.cfg.Marker != "" && strings.Contains(msg, r.cfg.Marker)
}

// Intercept buffers msg when it qualifies. It never blocks the host for
// longer than one ring append and never decides whether the host sees the
// line; the caller always forwards.
func (r *Relay) Intercept(msg string, tag int) bool {
	if !r.Qualifies(msg, tag) {
		r.skipped.Add(1)
		return false
	}
	r.ring.Append(r.cfg.Prefix + strings.TrimRight(msg, "\r\n"))
	r.relayed.Add(1)
	return true
}

// SetForwarder installs the host-log writer; nil detaches it.
func (r *Relay) SetForwarder(fn Forwarder) {
	if fn == nil {
		r.forward.Store(nil)
		return
	}
	r.forward.Store(&forwarderBox{fn: fn})
}

// Publish appends one of our own lines and, with a forwarder, also writes
// it to the host log tagged with the marker. Forwarding goes through the
// trampoline, so the line does not come back through Intercept.
func (r *Relay) Publish(msg string) {
	r.ring.Append(r.cfg.Prefix + msg)
	r.published.Add(1)

	box := r.forward.Load()
	if box == nil {
		return
	}
	line := msg
	if r.cfg.Marker != "" && !strings.Contains(msg, r.cfg.Marker) {
		line = r.cfg.Marker + " " + msg
	}
	if err := box.fn(line); err != nil {
		log.Debug("forward to host log failed", logging.KeyError, err.Error())
	}
}

// Stats reports relayed and skipped host lines and our own published lines.
func (r *Relay) Stats() (relayed, skipped, published uint64) {
	return r.relayed.Load(), r.skipped.Load(), r.published.Load()
}
