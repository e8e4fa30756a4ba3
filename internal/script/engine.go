// Package script runs Lua typed into the console on the render thread.
//
// Two queues exist. Update tasks run on every frame until they finish
// (one-shot) or are cleared (repeating). Init tasks run each time the host
// enters gameplay, and optionally once right away.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("script")

const (
	// DefaultBudget bounds a single task run.
	DefaultBudget = 50 * time.Millisecond

	// MaxSourceSize matches the largest editor buffer the console allows.
	MaxSourceSize = 1 << 20
)

var (
	ErrClosed   = errors.New("script: engine is closed")
	ErrEmpty    = errors.New("script: source is empty")
	ErrTooLarge = errors.New("script: source too large")
	ErrSyntax   = errors.New("script: syntax error")
	ErrNotFound = errors.New("script: task not found")
)

// Kind says which queue a task lives in.
type Kind string

const (
	KindUpdate Kind = "update"
	KindInit   Kind = "init"
)

// TaskInfo is a read-only view of a queued task.
type TaskInfo struct {
	ID        string
	Kind      Kind
	Repeat    bool
	Runs      int
	LastError string
	QueuedAt  time.Time
	Preview   string
}

type task struct {
	id       string
	kind     Kind
	source   string
	proto    *lua.FunctionProto
	repeat   bool
	due      bool
	runs     int
	lastErr  string
	queuedAt time.Time
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:        t.id,
		Kind:      t.kind,
		Repeat:    t.repeat,
		Runs:      t.runs,
		LastError: t.lastErr,
		QueuedAt:  t.queuedAt,
		Preview:   preview(t.source),
	}
}

// Engine owns one sandboxed Lua state. Enqueue, ClearRepeating, Cancel and
// Tasks may be called from any thread; Tick runs on the render thread.
type Engine struct {
	env    Env
	budget time.Duration

	mu     sync.Mutex
	update []*task
	init   []*task
	nextID uint64
	closed bool

	// runMu serializes use of L between Tick and Close.
	runMu sync.Mutex
	L     *lua.LState
}

// New creates an engine. budget <= 0 uses DefaultBudget.
func New(env Env, budget time.Duration) *Engine {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Engine{
		env:    env,
		budget: budget,
		L:      newSandbox(env),
	}
}

// EnqueueUpdateTask compiles src and queues it for the next frame. A
// one-shot task runs once; otherwise it runs every frame until cleared or
// until it fails.
func (e *Engine) EnqueueUpdateTask(src string, oneShot bool) (string, error) {
	return e.enqueue(KindUpdate, src, !oneShot, false)
}

// EnqueueInitTask compiles src and queues it to run on every entry into
// gameplay. With runImmediately it also runs on the next frame, but only if
// the host is already in gameplay; otherwise it waits for NotifyInitialized.
func (e *Engine) EnqueueInitTask(src string, runImmediately bool) (string, error) {
	return e.enqueue(KindInit, src, true, runImmediately && e.hostInitialized())
}

func (e *Engine) hostInitialized() bool {
	return e.env.Host != nil && e.env.Host.InGameplay()
}

func (e *Engine) enqueue(kind Kind, src string, repeat, due bool) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", ErrEmpty
	}
	if len(src) > MaxSourceSize {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(src))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	e.nextID++
	id := fmt.Sprintf("%s-%d", kind, e.nextID)
	e.mu.Unlock()

	proto, err := compile(id, src)
	if err != nil {
		log.Warn("rejected script", logging.KeyTaskID, id, logging.KeyError, err.Error())
		return "", err
	}

	t := &task{
		id:       id,
		kind:     kind,
		source:   src,
		proto:    proto,
		repeat:   repeat,
		due:      due || kind == KindUpdate,
		queuedAt: time.Now(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", ErrClosed
	}
	if kind == KindInit {
		e.init = append(e.init, t)
	} else {
		e.update = append(e.update, t)
	}
	log.Info("queued script", logging.KeyTaskID, id, "kind", string(kind), "repeat", repeat, "due", t.due)
	return id, nil
}

// NotifyInitialized marks every init task due for the next Tick. The session
// calls it on the frame that sees the host enter gameplay.
func (e *Engine) NotifyInitialized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.init {
		t.due = true
	}
	if len(e.init) > 0 {
		log.Info("gameplay entered, init scripts due", "count", len(e.init))
	}
}

// Tick runs every due task once: init tasks first, then update tasks.
// Each run is bounded by the engine budget.
func (e *Engine) Tick() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.L == nil {
		return
	}

	for _, t := range e.takeDue() {
		err := e.run(t)
		e.finish(t, err)
	}
}

func (e *Engine) takeDue() []*task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	var due []*task
	for _, t := range e.init {
		if t.due {
			t.due = false
			due = append(due, t)
		}
	}
	return append(due, e.update...)
}

func (e *Engine) run(t *task) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.budget)
	defer cancel()

	L := e.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	L.Push(L.NewFunctionFromProto(t.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("exceeded %s budget", e.budget)
		}
		return err
	}
	return nil
}

// finish records the result. A failing task is dropped whatever its queue;
// a one-shot update task is dropped after its single run.
func (e *Engine) finish(t *task, err error) {
	e.mu.Lock()
	t.runs++
	drop := !t.repeat
	if err != nil {
		t.lastErr = err.Error()
		drop = true
	}
	if drop {
		e.removeLocked(t.id)
	}
	e.mu.Unlock()

	if err != nil {
		log.Warn("script failed", logging.KeyTaskID, t.id, "runs", t.runs, logging.KeyError, err.Error())
		if e.env.Publish != nil {
			e.env.Publish(fmt.Sprintf("error in %s: %v", t.id, err))
		}
	}
}

func (e *Engine) removeLocked(id string) bool {
	for i, t := range e.update {
		if t.id == id {
			e.update = append(e.update[:i], e.update[i+1:]...)
			return true
		}
	}
	for i, t := range e.init {
		if t.id == id {
			e.init = append(e.init[:i], e.init[i+1:]...)
			return true
		}
	}
	return false
}

// ClearRepeating drops every repeating update task and returns how many
// were removed. Init tasks are kept.
func (e *Engine) ClearRepeating() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.update[:0]
	removed := 0
	for _, t := range e.update {
		if t.repeat {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(e.update); i++ {
		e.update[i] = nil
	}
	e.update = kept
	if removed > 0 {
		log.Info("cleared repeating scripts", "count", removed)
	}
	return removed
}

// ClearInit drops every init task.
func (e *Engine) ClearInit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.init)
	e.init = nil
	return n
}

// Cancel removes one task by id.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removeLocked(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	log.Info("cancelled script", logging.KeyTaskID, id)
	return nil
}

// Tasks lists queued tasks, init first.
func (e *Engine) Tasks() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskInfo, 0, len(e.init)+len(e.update))
	for _, t := range e.init {
		out = append(out, t.info())
	}
	for _, t := range e.update {
		out = append(out, t.info())
	}
	return out
}

// Counts returns the number of update and init tasks.
func (e *Engine) Counts() (update, init int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.update), len(e.init)
}

// Close drops every task and closes the Lua state. It waits for a running
// Tick to finish and is safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	already := e.closed
	e.closed = true
	e.update = nil
	e.init = nil
	e.mu.Unlock()
	if already {
		return
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.L != nil {
		e.L.Close()
		e.L = nil
	}
	log.Info("script engine closed")
}

func preview(src string) string {
	line := strings.TrimSpace(src)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i]) + " ..."
	}
	if len(line) > 48 {
		line = line[:45] + "..."
	}
	return line
}
