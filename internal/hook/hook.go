// Package hook patches x64 function entry points so that calls land in a
// replacement while the original stays callable through a trampoline.
package hook

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("hook")

var (
	ErrUnresolved          = errors.New("hook: target address is not resolved")
	ErrAlreadyHooked       = errors.New("hook: target is already hooked")
	ErrPatchConflict       = errors.New("hook: target is already patched")
	ErrUnsupportedPrologue = errors.New("hook: unsupported prologue")
	ErrNotInstalled        = errors.New("hook: target is not installed")
	ErrRemoved             = errors.New("hook: binding was removed")
)

// State of a Binding.
type State int

const (
	StateDisabled State = iota
	StateEnabled
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Memory is the process memory the manager patches.
type Memory interface {
	Read(addr uintptr, n int) ([]byte, error)
	// Write copies data over code, changing page protection as needed and
	// flushing the instruction cache.
	Write(addr uintptr, data []byte) error
	// StorePointer atomically replaces the 8-byte aligned word at addr.
	StorePointer(addr uintptr, value uintptr) error
	// AllocNear returns executable memory within rel32 reach of near.
	AllocNear(near uintptr, size int) (uintptr, error)
	Free(addr uintptr) error
}

// Caller invokes native code at fn.
type Caller func(fn uintptr, args ...uintptr) uintptr

// Binding is the capability returned by Install. Once removed it can no
// longer reach the trampoline.
type Binding struct {
	mgr    *Manager
	target uintptr
	stub   uintptr
	saved  []byte
	patch  []byte
	state  State

	// original is read on hooked call paths without the manager lock.
	original atomic.Uintptr
}

func (b *Binding) Target() uintptr { return b.target }

// Original is the trampoline address, or 0 after Remove.
func (b *Binding) Original() uintptr {
	return b.original.Load()
}

func (b *Binding) State() State {
	b.mgr.mu.Lock()
	defer b.mgr.mu.Unlock()
	return b.state
}

// Call runs the original function with args.
func (b *Binding) Call(args ...uintptr) (uintptr, error) {
	fn := b.Original()
	if fn == 0 {
		return 0, ErrRemoved
	}
	return b.mgr.call(fn, args...), nil
}

// Manager owns every binding it installed. Methods are safe for concurrent
// use but never run on a hooked call path.
type Manager struct {
	mu       sync.Mutex
	mem      Memory
	call     Caller
	bindings map[uintptr]*Binding
}

func NewManager(mem Memory, call Caller) *Manager {
	return &Manager{
		mem:      mem,
		call:     call,
		bindings: make(map[uintptr]*Binding),
	}
}

// Install prepares a hook on target. The target is not patched until Enable;
// on any error nothing is left allocated and the target is untouched.
func (m *Manager) Install(target, replacement uintptr) (*Binding, error) {
	if target == 0 || replacement == 0 {
		return nil, ErrUnresolved
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bindings[target]; ok {
		return nil, fmt.Errorf("%w: 0x%X", ErrAlreadyHooked, target)
	}

	code, err := m.mem.Read(target, prologueWindow)
	if err != nil {
		return nil, fmt.Errorf("read prologue at 0x%X: %w", target, err)
	}
	p, err := decodePrologue(code)
	if err != nil {
		return nil, err
	}

	stub, err := m.mem.AllocNear(target, stubSize)
	if err != nil {
		return nil, fmt.Errorf("allocate trampoline near 0x%X: %w", target, err)
	}

	cleanup := func(err error) (*Binding, error) {
		if ferr := m.mem.Free(stub); ferr != nil {
			log.Warn("free trampoline after failed install", logging.KeyTarget, hex(target), logging.KeyError, ferr.Error())
		}
		return nil, err
	}

	body, err := buildStub(p, code, target, stub, replacement)
	if err != nil {
		return cleanup(err)
	}
	patch, err := buildPatch(target, stub, p.stolen)
	if err != nil {
		return cleanup(err)
	}
	if err := m.mem.Write(stub, body); err != nil {
		return cleanup(fmt.Errorf("write trampoline: %w", err))
	}

	b := &Binding{
		mgr:    m,
		target: target,
		stub:   stub,
		saved:  append([]byte(nil), code[:p.stolen]...),
		patch:  patch,
		state:  StateDisabled,
	}
	b.original.Store(stub + relaySize)
	m.bindings[target] = b

	log.Debug("installed",
		logging.KeyTarget, hex(target),
		"trampoline", hex(stub+relaySize),
		"stolen", p.stolen,
	)
	return b, nil
}

// Enable patches the target. Enabling an enabled hook is a no-op.
func (m *Manager) Enable(target uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(target)
	if err != nil {
		return err
	}
	if b.state == StateEnabled {
		return nil
	}

	cur, err := m.mem.Read(target, len(b.saved))
	if err != nil {
		return fmt.Errorf("read target 0x%X: %w", target, err)
	}
	if !bytes.Equal(cur, b.saved) {
		return fmt.Errorf("%w: prologue at 0x%X changed since install", ErrPatchConflict, target)
	}
	if err := m.mem.Write(target, b.patch); err != nil {
		return fmt.Errorf("patch 0x%X: %w", target, err)
	}
	b.state = StateEnabled
	return nil
}

// Disable restores the original prologue. The trampoline stays valid.
func (m *Manager) Disable(target uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(target)
	if err != nil {
		return err
	}
	return m.disable(b)
}

func (m *Manager) disable(b *Binding) error {
	if b.state != StateEnabled {
		return nil
	}
	if err := m.mem.Write(b.target, b.saved); err != nil {
		return fmt.Errorf("restore 0x%X: %w", b.target, err)
	}
	b.state = StateDisabled
	return nil
}

// Remove disables the hook if needed and frees the trampoline. Afterwards
// the target may be installed again.
func (m *Manager) Remove(target uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(target)
	if err != nil {
		return err
	}
	if err := m.disable(b); err != nil {
		return err
	}

	delete(m.bindings, target)
	b.state = StateRemoved
	b.original.Store(0)
	if err := m.mem.Free(b.stub); err != nil {
		return fmt.Errorf("free trampoline for 0x%X: %w", target, err)
	}
	log.Debug("removed", logging.KeyTarget, hex(target))
	return nil
}

// Rebind points the hook at a new replacement without touching the target.
func (m *Manager) Rebind(target, replacement uintptr) error {
	if replacement == 0 {
		return ErrUnresolved
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.lookup(target)
	if err != nil {
		return err
	}
	return m.mem.StorePointer(b.stub+relaySlot, replacement)
}

// Bindings returns the live bindings.
func (m *Manager) Bindings() []*Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Binding, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, b)
	}
	return out
}

func (m *Manager) lookup(target uintptr) (*Binding, error) {
	if target == 0 {
		return nil, ErrNotInstalled
	}
	b, ok := m.bindings[target]
	if !ok {
		return nil, ErrNotInstalled
	}
	return b, nil
}

func hex(v uintptr) string {
	return fmt.Sprintf("0x%X", v)
}
