package unload

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	vkInsert = 0x2D
	vkNext   = 0x22
)

type fakeKeyboard struct {
	mu   sync.Mutex
	down map[int]bool
}

func newKeyboard() *fakeKeyboard { return &fakeKeyboard{down: map[int]bool{}} }

func (k *fakeKeyboard) Down(vk int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.down[vk]
}

func (k *fakeKeyboard) set(vk int, down bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.down[vk] = down
}

type flagSignal struct{ set atomic.Bool }

func (s *flagSignal) Signaled() bool { return s.set.Load() }

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) step(name string, err error) Step {
	return Step{Name: name, Run: func() error {
		r.mu.Lock()
		r.steps = append(r.steps, name)
		r.mu.Unlock()
		return err
	}}
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.steps...)
}

func runAsync(c *Coordinator, ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() { ch <- c.Run(ctx) }()
	return ch
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not finish")
		return Result{}
	}
}

func TestUnloadKeyRunsTeardownInOrder(t *testing.T) {
	kb := newKeyboard()
	rec := &recorder{}
	released := false
	c := New(Options{
		Keyboard:  kb,
		ToggleKey: vkInsert,
		UnloadKey: vkNext,
		Teardown: []Step{
			rec.step("disable present", nil),
			rec.step("restore window proc", nil),
			rec.step("release surface", nil),
		},
		Release: func() {
			if len(rec.list()) != 3 {
				t.Error("release ran before teardown steps")
			}
			released = true
		},
	})

	ch := runAsync(c, context.Background())
	kb.set(vkNext, true)
	res := waitResult(t, ch)

	if res.Reason != ReasonKey {
		t.Fatalf("reason = %q", res.Reason)
	}
	if got := strings.Join(rec.list(), ","); got != "disable present,restore window proc,release surface" {
		t.Fatalf("steps = %s", got)
	}
	if !released {
		t.Fatal("Release not called")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestToggleIsEdgeTriggered(t *testing.T) {
	kb := newKeyboard()
	var flips atomic.Int32
	c := New(Options{
		Keyboard:  kb,
		ToggleKey: vkInsert,
		UnloadKey: vkNext,
		Toggle:    func() { flips.Add(1) },
	})

	kb.set(vkInsert, true)
	for i := 0; i < 5; i++ {
		if _, stop := c.poll(); stop {
			t.Fatal("toggle key should not unload")
		}
	}
	if flips.Load() != 1 {
		t.Fatalf("held key flipped %d times", flips.Load())
	}

	kb.set(vkInsert, false)
	c.poll()
	kb.set(vkInsert, true)
	c.poll()
	if flips.Load() != 2 || c.Toggles() != 2 {
		t.Fatalf("second press: flips=%d toggles=%d", flips.Load(), c.Toggles())
	}
}

func TestExternalSignalUnloads(t *testing.T) {
	sig := &flagSignal{}
	c := New(Options{Keyboard: newKeyboard(), ToggleKey: vkInsert, UnloadKey: vkNext, Signal: sig})
	ch := runAsync(c, context.Background())
	sig.set.Store(true)
	if res := waitResult(t, ch); res.Reason != ReasonSignal {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestContextCancelUnloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(Options{Keyboard: newKeyboard(), ToggleKey: vkInsert, UnloadKey: vkNext})
	ch := runAsync(c, ctx)
	cancel()
	if res := waitResult(t, ch); res.Reason != ReasonCancelled {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestRequestUnloads(t *testing.T) {
	c := New(Options{})
	ch := runAsync(c, context.Background())
	c.Request()
	if res := waitResult(t, ch); res.Reason != ReasonRequested {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestFailingStepDoesNotStopTeardown(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	c := New(Options{Teardown: []Step{
		rec.step("a", boom),
		{Name: "panics", Run: func() error { panic("bad handle") }},
		rec.step("c", nil),
	}})

	res := c.Teardown(ReasonRequested)
	if got := strings.Join(rec.list(), ","); got != "a,c" {
		t.Fatalf("steps = %s", got)
	}
	if len(res.Failed) != 2 || res.Failed[0] != "a" || res.Failed[1] != "panics" {
		t.Fatalf("failed = %v", res.Failed)
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("Err = %v", res.Err)
	}
}

func TestTeardownRunsOnce(t *testing.T) {
	var releases atomic.Int32
	rec := &recorder{}
	c := New(Options{
		Teardown: []Step{rec.step("only", nil)},
		Release:  func() { releases.Add(1) },
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Teardown(ReasonRequested)
		}()
	}
	wg.Wait()
	first := c.Teardown(ReasonKey)

	if len(rec.list()) != 1 || releases.Load() != 1 {
		t.Fatalf("steps=%v releases=%d", rec.list(), releases.Load())
	}
	if first.Reason != ReasonRequested {
		t.Fatalf("later call should report the first reason, got %q", first.Reason)
	}
}

func TestEventName(t *testing.T) {
	if got := EventName(4242); got != `Local\luaconsole-unload-4242` {
		t.Fatalf("EventName = %q", got)
	}
}
