// Package host reads the game-state field of the host's Contraption
// singleton and tracks entries into gameplay.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/rebase"
)

var log = logging.L("host")

var ErrUnresolved = errors.New("host: game state address is not resolved")

// StateReader returns the current game-state value.
type StateReader interface {
	GameState() (int32, error)
}

// Field reads an int32 at a fixed address inside the singleton.
type Field struct {
	mem  rebase.Reader
	addr uintptr
}

// ResolveField waits for the singleton at singletonOffset and returns the
// field fieldOffset bytes into it.
func ResolveField(ctx context.Context, r *rebase.Resolver, mem rebase.Reader, singletonOffset, fieldOffset uint64, poll time.Duration) (*Field, error) {
	obj, err := r.Singleton(ctx, singletonOffset, poll)
	if err != nil {
		return nil, fmt.Errorf("resolve contraption singleton: %w", err)
	}
	addr := obj + uintptr(fieldOffset)
	log.Info("game state resolved", "singleton", fmt.Sprintf("0x%X", obj), "field", fmt.Sprintf("0x%X", addr))
	return &Field{mem: mem, addr: addr}, nil
}

func NewField(mem rebase.Reader, addr uintptr) *Field {
	return &Field{mem: mem, addr: addr}
}

func (f *Field) Addr() uintptr { return f.addr }

func (f *Field) GameState() (int32, error) {
	if f == nil || f.addr == 0 {
		return 0, ErrUnresolved
	}
	return rebase.ReadInt32(f.mem, f.addr)
}

// Tracker caches the last observed state for other threads and detects
// the transition into the play state.
type Tracker struct {
	reader StateReader
	play   int32

	state   atomic.Int32
	inPlay  atomic.Bool
	entries atomic.Uint64
	valid   atomic.Bool
}

func NewTracker(reader StateReader, playState int32) *Tracker {
	return &Tracker{reader: reader, play: playState}
}

// Poll reads the state once. entered is true only on the poll that first
// sees the play state after any other state. Called from the render thread.
func (t *Tracker) Poll() (state int32, entered bool) {
	if t.reader == nil {
		return 0, false
	}
	s, err := t.reader.GameState()
	if err != nil {
		t.valid.Store(false)
		t.inPlay.Store(false)
		return 0, false
	}
	t.state.Store(s)
	t.valid.Store(true)

	now := s == t.play
	was := t.inPlay.Swap(now)
	if now && !was {
		t.entries.Add(1)
		return s, true
	}
	return s, false
}

// InGameplay reports the last polled result.
func (t *Tracker) InGameplay() bool { return t.inPlay.Load() }

// State returns the last polled state and whether it was readable.
func (t *Tracker) State() (int32, bool) { return t.state.Load(), t.valid.Load() }

// Entries counts transitions into the play state.
func (t *Tracker) Entries() uint64 { return t.entries.Load() }
