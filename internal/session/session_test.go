package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/luaconsole/overlay/internal/config"
	"github.com/luaconsole/overlay/internal/d3d"
	"github.com/luaconsole/overlay/internal/health"
	"github.com/luaconsole/overlay/internal/hook"
	"github.com/luaconsole/overlay/internal/logging"
	"github.com/luaconsole/overlay/internal/script"
)

const (
	testBase      = uintptr(0x140000000)
	presentTarget = uintptr(0x7FF810001000)
	resizeTarget  = uintptr(0x7FF810002000)
	logOffset     = 0x1000
	singletonOff  = 0x2000
	fieldOff      = 0x10
	contraption   = uintptr(0x50000000)

	presentCB = uintptr(0xC0001000)
	resizeCB  = uintptr(0xC0002000)
	logCB     = uintptr(0xC0003000)

	swapChain = uintptr(0x5000)
	hostWnd   = uintptr(0xBEEF)
	hostProc  = uintptr(0xB000)
	shimProc  = uintptr(0xA000)
	console   = uintptr(0x9000)

	originalResult = uintptr(0x77)
)

// mov [rsp+8], rbx ; push rdi ; sub rsp, 0x20
var prologue = []byte{0x48, 0x89, 0x5C, 0x24, 0x08, 0x57, 0x48, 0x83, 0xEC, 0x20}

type fakeMemory struct {
	mu        sync.Mutex
	bytes     map[uintptr]byte
	allocs    map[uintptr]int
	allocFail uintptr
	next      map[uintptr]uintptr
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		bytes:  make(map[uintptr]byte),
		allocs: make(map[uintptr]int),
		next:   make(map[uintptr]uintptr),
	}
}

func (f *fakeMemory) load(addr uintptr, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range data {
		f.bytes[addr+uintptr(i)] = b
	}
}

func (f *fakeMemory) putPointer(addr, v uintptr) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	f.load(addr, buf[:])
}

func (f *fakeMemory) putInt32(addr uintptr, v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	f.load(addr, buf[:])
}

func (f *fakeMemory) Read(addr uintptr, n int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = f.bytes[addr+uintptr(i)]
	}
	return out, nil
}

func (f *fakeMemory) Write(addr uintptr, data []byte) error {
	f.load(addr, data)
	return nil
}

func (f *fakeMemory) StorePointer(addr, value uintptr) error {
	f.putPointer(addr, value)
	return nil
}

func (f *fakeMemory) AllocNear(near uintptr, size int) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if near == f.allocFail {
		return 0, errors.New("no free region")
	}
	f.next[near] += 0x1000
	p := near + 0x100000 + f.next[near]
	f.allocs[p] = size
	return p, nil
}

func (f *fakeMemory) Free(addr uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.allocs[addr]; !ok {
		return errors.New("double free")
	}
	delete(f.allocs, addr)
	return nil
}

type nativeCall struct {
	fn   uintptr
	args []uintptr
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []nativeCall
}

func (c *fakeCaller) call(fn uintptr, args ...uintptr) uintptr {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, nativeCall{fn: fn, args: append([]uintptr(nil), args...)})
	return originalResult
}

func (c *fakeCaller) to(fn uintptr) []nativeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []nativeCall
	for _, nc := range c.calls {
		if nc.fn == fn {
			out = append(out, nc)
		}
	}
	return out
}

type fakeNative struct {
	next   uintptr
	live   map[uintptr]string
	failAt string
}

func newFakeNative() *fakeNative {
	return &fakeNative{next: 0x1000, live: make(map[uintptr]string)}
}

func (f *fakeNative) create(kind string) (uintptr, error) {
	if f.failAt == kind {
		return 0, errors.New(kind + " failed")
	}
	f.next += 0x10
	f.live[f.next] = kind
	return f.next, nil
}

func (f *fakeNative) Device(uintptr) (uintptr, error)           { return f.create("device") }
func (f *fakeNative) ImmediateContext(uintptr) (uintptr, error) { return f.create("context") }
func (f *fakeNative) BackBuffer(uintptr) (uintptr, error)       { return f.create("backbuffer") }
func (f *fakeNative) CreateRenderTargetView(uintptr, uintptr) (uintptr, error) {
	return f.create("rtv")
}
func (f *fakeNative) Desc(uintptr) (d3d.SwapChainDesc, error) {
	return d3d.SwapChainDesc{Window: hostWnd, Width: 1920, Height: 1080, BufferCount: 2}, nil
}
func (f *fakeNative) Release(obj uintptr) { delete(f.live, obj) }

type fakeWindow struct {
	procs map[uintptr]uintptr
}

func (f *fakeWindow) WindowProc(hwnd uintptr) uintptr { return f.procs[hwnd] }
func (f *fakeWindow) SetWindowProc(hwnd, proc uintptr) uintptr {
	prev := f.procs[hwnd]
	f.procs[hwnd] = proc
	return prev
}
func (f *fakeWindow) CallWindowProc(uintptr, uintptr, uint32, uintptr, uintptr) uintptr { return 0 }
func (f *fakeWindow) DefWindowProc(uintptr, uint32, uintptr, uintptr) uintptr           { return 0 }
func (f *fakeWindow) FindWindow(class string) uintptr {
	if class == "CONTRAPTION_WINDOWS_CLASS" {
		return hostWnd
	}
	return 0
}
func (f *fakeWindow) IsWindow(hwnd uintptr) bool {
	_, ok := f.procs[hwnd]
	return ok
}

type fakeFrontend struct {
	calls   []string
	panicOn string
	initErr error
}

func (f *fakeFrontend) record(s string) {
	if s == f.panicOn {
		panic(s + " exploded")
	}
	f.calls = append(f.calls, s)
}

func (f *fakeFrontend) count(s string) int {
	n := 0
	for _, c := range f.calls {
		if c == s {
			n++
		}
	}
	return n
}

func (f *fakeFrontend) CreateContext() error                               { f.record("CreateContext"); return nil }
func (f *fakeFrontend) DestroyContext()                                    { f.record("DestroyContext") }
func (f *fakeFrontend) ApplyStyle()                                        {}
func (f *fakeFrontend) LoadFont(string, float32) error                     { return nil }
func (f *fakeFrontend) LoadDefaultFont()                                   {}
func (f *fakeFrontend) InitBackends(_, _, _ uintptr) error                 { f.record("InitBackends"); return f.initErr }
func (f *fakeFrontend) ShutdownBackends()                                  { f.record("ShutdownBackends") }
func (f *fakeFrontend) HandleInput(uintptr, uint32, uintptr, uintptr) bool { return true }
func (f *fakeFrontend) NewFrame()                                          { f.record("NewFrame") }
func (f *fakeFrontend) Render(uintptr, uintptr)                            { f.record("Render") }
func (f *fakeFrontend) Begin(string) bool                                  { return true }
func (f *fakeFrontend) End()                                               {}
func (f *fakeFrontend) Text(string)                                        {}
func (f *fakeFrontend) Separator()                                         {}
func (f *fakeFrontend) SameLine()                                          {}
func (f *fakeFrontend) Button(string) bool                                 { return false }
func (f *fakeFrontend) Checkbox(string, *bool) bool                        { return false }
func (f *fakeFrontend) InputMultiline(string, []byte) bool                 { return false }
func (f *fakeFrontend) BeginChild(string) bool                             { return true }
func (f *fakeFrontend) EndChild()                                          {}
func (f *fakeFrontend) ScrollState() (float32, float32)                    { return 0, 0 }
func (f *fakeFrontend) ScrollToBottom()                                    {}
func (f *fakeFrontend) Hovered() bool                                      { return false }
func (f *fakeFrontend) Reticle()                                           { f.record("Reticle") }

type harness struct {
	s      *Session
	cfg    *config.Config
	mem    *fakeMemory
	caller *fakeCaller
	native *fakeNative
	window *fakeWindow
	fe     *fakeFrontend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Cleanup(logging.ClearMirror)

	cfg := config.Default()
	cfg.LogOffset = logOffset
	cfg.ContraptionOffset = singletonOff
	cfg.GameStateOffset = fieldOff
	cfg.SingletonWaitMs = 20
	cfg.FontPath = ""

	h := &harness{
		cfg:    cfg,
		mem:    newFakeMemory(),
		caller: &fakeCaller{},
		native: newFakeNative(),
		window: &fakeWindow{procs: map[uintptr]uintptr{hostWnd: hostProc}},
		fe:     &fakeFrontend{},
	}
	for _, target := range []uintptr{presentTarget, resizeTarget, testBase + logOffset} {
		h.mem.load(target, prologue)
	}
	h.mem.putPointer(testBase+singletonOff, contraption)
	h.mem.putInt32(contraption+fieldOff, 1)

	h.s = New(Deps{
		Config:   cfg,
		Memory:   h.mem,
		Caller:   h.caller.call,
		Native:   h.native,
		Window:   h.window,
		Frontend: h.fe,
		Base:     testBase,
	})
	h.s.Interceptor().SetShim(shimProc)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	vt := d3d.VTable{Present: presentTarget, ResizeBuffers: resizeTarget}
	cb := Callbacks{Present: presentCB, ResizeBuffers: resizeCB, Log: logCB}
	if err := h.s.Start(context.Background(), vt, cb); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) patched(target uintptr) bool {
	b, _ := h.mem.Read(target, 1)
	return b[0] == 0xE9
}

func (h *harness) pristine(target uintptr) bool {
	b, _ := h.mem.Read(target, len(prologue))
	return bytes.Equal(b, prologue)
}

func TestStartEnablesAllHooks(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if n := len(h.s.Hooks().Bindings()); n != 3 {
		t.Fatalf("bindings = %d, want 3", n)
	}
	for _, target := range []uintptr{presentTarget, resizeTarget, testBase + logOffset} {
		if !h.patched(target) {
			t.Fatalf("target 0x%X not patched", target)
		}
	}
	if c, _ := h.s.Health().Get(health.Hooks); c.Status != health.Healthy {
		t.Fatalf("hooks health = %+v", c)
	}
	if c, _ := h.s.Health().Get(health.Host); c.Status != health.Healthy {
		t.Fatalf("host health = %+v", c)
	}
}

func TestStartWithoutSingletonKeepsGoing(t *testing.T) {
	h := newHarness(t)
	h.mem.putPointer(testBase+singletonOff, 0)
	h.start(t)

	if c, _ := h.s.Health().Get(health.Host); c.Status != health.Unknown {
		t.Fatalf("host health = %+v, want unknown", c)
	}
	h.s.OnPresent(swapChain, 1, 0)
	if h.s.InGameplay() {
		t.Fatal("gameplay reported without a resolved game state")
	}
}

func TestStartWithoutContraptionOffsetSkipsResolve(t *testing.T) {
	h := newHarness(t)
	h.cfg.ContraptionOffset = 0
	// A lookup at offset 0 would find this pointer at the module base.
	h.mem.putPointer(testBase, contraption)
	h.mem.putInt32(contraption+fieldOff, 3)
	h.start(t)

	if c, _ := h.s.Health().Get(health.Host); c.Status != health.Unknown {
		t.Fatalf("host health = %+v, want unknown", c)
	}
	h.s.OnPresent(swapChain, 1, 0)
	if h.s.InGameplay() {
		t.Fatal("game state read through the module base")
	}
	if n := len(h.s.Hooks().Bindings()); n != 3 {
		t.Fatalf("bindings = %d, want 3", n)
	}
}

func TestStartRollsBackOnInstallFailure(t *testing.T) {
	h := newHarness(t)
	h.mem.allocFail = testBase + logOffset

	vt := d3d.VTable{Present: presentTarget, ResizeBuffers: resizeTarget}
	err := h.s.Start(context.Background(), vt, Callbacks{Present: presentCB, ResizeBuffers: resizeCB, Log: logCB})
	if err == nil {
		t.Fatal("Start succeeded with an unallocatable log hook")
	}
	if n := len(h.s.Hooks().Bindings()); n != 0 {
		t.Fatalf("bindings after rollback = %d", n)
	}
	if len(h.mem.allocs) != 0 {
		t.Fatalf("trampolines leaked: %v", h.mem.allocs)
	}
	for _, target := range []uintptr{presentTarget, resizeTarget} {
		if !h.pristine(target) {
			t.Fatalf("target 0x%X modified after rollback", target)
		}
	}
	if c, _ := h.s.Health().Get(health.Hooks); c.Status != health.Unhealthy {
		t.Fatalf("hooks health = %+v", c)
	}
}

func TestStartRejectsMissingLogOffset(t *testing.T) {
	h := newHarness(t)
	h.cfg.LogOffset = 0

	vt := d3d.VTable{Present: presentTarget, ResizeBuffers: resizeTarget}
	err := h.s.Start(context.Background(), vt, Callbacks{Present: presentCB, ResizeBuffers: resizeCB, Log: logCB})
	if !errors.Is(err, hook.ErrUnresolved) {
		t.Fatalf("Start err = %v, want ErrUnresolved", err)
	}
	if !h.pristine(presentTarget) {
		t.Fatal("present target modified")
	}
}

func TestPresentBuildsOverlayAndCallsOriginalOnce(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if got := h.s.OnPresent(swapChain, 1, 0); got != originalResult {
		t.Fatalf("OnPresent = 0x%X, want original result", got)
	}
	tramp := h.s.present.Original()
	calls := h.caller.to(tramp)
	if len(calls) != 1 {
		t.Fatalf("original present called %d times", len(calls))
	}
	if a := calls[0].args; len(a) != 3 || a[0] != swapChain || a[1] != 1 || a[2] != 0 {
		t.Fatalf("original present args = %v", a)
	}
	if h.fe.count("InitBackends") != 1 || h.fe.count("Render") != 1 {
		t.Fatalf("frontend calls = %v", h.fe.calls)
	}
	if h.s.Interceptor().Hooked() != hostWnd || h.window.procs[hostWnd] != shimProc {
		t.Fatal("host window not subclassed")
	}

	h.s.OnPresent(swapChain, 1, 0)
	if h.fe.count("InitBackends") != 1 || h.fe.count("Render") != 2 {
		t.Fatalf("second frame should reuse the surface: %v", h.fe.calls)
	}
}

func TestPresentBackBufferFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.native.failAt = "backbuffer"

	if got := h.s.OnPresent(swapChain, 0, 0); got != originalResult {
		t.Fatalf("OnPresent = 0x%X", got)
	}
	if len(h.native.live) != 0 {
		t.Fatalf("handles leaked after failed acquire: %v", h.native.live)
	}
	if h.fe.count("NewFrame") != 0 {
		t.Fatal("frame drawn without a surface")
	}
	if c, _ := h.s.Health().Get(health.Surface); c.Status != health.Degraded {
		t.Fatalf("surface health = %+v", c)
	}

	h.native.failAt = ""
	h.s.OnPresent(swapChain, 0, 0)
	if h.fe.count("Render") != 1 {
		t.Fatal("overlay not built after recovery")
	}
	if c, _ := h.s.Health().Get(health.Surface); c.Status != health.Healthy {
		t.Fatalf("surface health = %+v", c)
	}
}

func TestFailedOverlayLeavesHostInputAlone(t *testing.T) {
	h := newHarness(t)
	h.fe.initErr = errors.New("no backend")
	h.mem.putInt32(contraption+fieldOff, 3)
	h.start(t)

	for i := 0; i < 3; i++ {
		h.s.OnPresent(swapChain, 0, 0)
	}
	if h.s.ui.Ready() || !h.s.InGameplay() || !h.s.Visible() {
		t.Fatalf("ready=%v gameplay=%v visible=%v", h.s.ui.Ready(), h.s.InGameplay(), h.s.Visible())
	}
	if len(h.native.live) != 0 {
		t.Fatalf("surface kept after overlay init failed: %v", h.native.live)
	}

	const wmKeyDown = 0x0100
	h.s.Interceptor().Dispatch(hostWnd, wmKeyDown, 'W', 0)
	if swallowed, forwarded := h.s.Interceptor().Stats(); swallowed != 0 || forwarded != 1 {
		t.Fatalf("stats = %d/%d, want host to get the key", swallowed, forwarded)
	}
	if n := len(h.caller.to(h.s.present.Original())); n != 3 {
		t.Fatalf("original present called %d times, want 3", n)
	}
}

func TestPresentSurvivesPanic(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.fe.panicOn = "NewFrame"

	if got := h.s.OnPresent(swapChain, 0, 0); got != originalResult {
		t.Fatalf("OnPresent = 0x%X after panic", got)
	}
	if n := len(h.caller.to(h.s.present.Original())); n != 1 {
		t.Fatalf("original present called %d times", n)
	}
}

func TestResizeReleasesThenRebuilds(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.s.OnPresent(swapChain, 0, 0)

	if got := h.s.OnResize(swapChain, 2, 800, 600, 28, 0); got != originalResult {
		t.Fatalf("OnResize = 0x%X", got)
	}
	if len(h.native.live) != 0 {
		t.Fatalf("surface held across resize: %v", h.native.live)
	}
	if h.fe.count("ShutdownBackends") != 1 {
		t.Fatal("UI not shut down before resize")
	}
	calls := h.caller.to(h.s.resize.Original())
	if len(calls) != 1 || len(calls[0].args) != 6 || calls[0].args[2] != 800 {
		t.Fatalf("original resize calls = %v", calls)
	}
	if h.s.Interceptor().Hooked() != hostWnd {
		t.Fatal("window unhooked by resize")
	}

	// resize with nothing acquired is harmless
	h.s.OnResize(swapChain, 2, 1024, 768, 28, 0)

	h.s.OnPresent(swapChain, 0, 0)
	if h.fe.count("InitBackends") != 2 {
		t.Fatalf("overlay not rebuilt after resize: %v", h.fe.calls)
	}
	if _, resizes := h.s.Stats(); resizes != 2 {
		t.Fatalf("resizes = %d", resizes)
	}
}

func putStdString(mem *fakeMemory, addr uintptr, s string) {
	var buf [32]byte
	copy(buf[:], s)
	binary.LittleEndian.PutUint64(buf[16:], uint64(len(s)))
	binary.LittleEndian.PutUint64(buf[24:], 15)
	mem.load(addr, buf[:])
}

func TestLogRelayCopiesScriptLines(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	tramp := h.s.logHook.Original()

	putStdString(h.mem, 0x60000000, "hello")
	if got := h.s.OnLog(console, 0x60000000, 1, 3); got != originalResult {
		t.Fatalf("OnLog = 0x%X", got)
	}
	putStdString(h.mem, 0x60001000, "engine spam")
	h.s.OnLog(console, 0x60001000, 1, 1)

	lines := h.s.Ring().Snapshot()
	if len(lines) != 1 || lines[0] != "[Script] hello" {
		t.Fatalf("ring = %q", lines)
	}
	calls := h.caller.to(tramp)
	if len(calls) != 2 {
		t.Fatalf("original log called %d times, want once per message", len(calls))
	}
	if calls[0].args[1] != 0x60000000 || calls[0].args[3] != 3 {
		t.Fatalf("original log args changed: %v", calls[0].args)
	}
}

func TestLogRelayCString(t *testing.T) {
	h := newHarness(t)
	h.cfg.LogMessageKind = "cstring"
	h.s = New(Deps{Config: h.cfg, Memory: h.mem, Caller: h.caller.call, Native: h.native, Window: h.window, Frontend: h.fe, Base: testBase})
	h.start(t)

	h.mem.load(0x61000000, []byte("tagged [SM-LuaConsole] line\x00"))
	h.s.OnLog(console, 0x61000000, 0, 1)

	lines := h.s.Ring().Snapshot()
	if len(lines) != 1 || !strings.Contains(lines[0], "tagged") {
		t.Fatalf("ring = %q", lines)
	}
}

func TestPublishForwardsThroughTrampoline(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	tramp := h.s.logHook.Original()

	h.s.relay.Publish("before console")
	if n := len(h.caller.to(tramp)); n != 0 {
		t.Fatalf("forwarded %d lines before the console was known", n)
	}

	putStdString(h.mem, 0x60000000, "x")
	h.s.OnLog(console, 0x60000000, 0, 1)
	h.s.relay.Publish("after console")

	calls := h.caller.to(tramp)
	if len(calls) != 2 {
		t.Fatalf("log trampoline calls = %d", len(calls))
	}
	fwd := calls[1].args
	if fwd[0] != console || fwd[3] != 3 {
		t.Fatalf("forward args = %v", fwd)
	}
	lines := h.s.Ring().Snapshot()
	if len(lines) != 2 || lines[1] != "[Script] after console" {
		t.Fatalf("ring = %q", lines)
	}
}

func TestInitTasksRunOnGameplayEntry(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if _, err := h.s.Engine().EnqueueInitTask(`print("init ran")`, false); err != nil {
		t.Fatal(err)
	}
	h.s.OnPresent(swapChain, 0, 0)
	if len(h.s.Ring().Snapshot()) != 0 {
		t.Fatal("init task ran outside gameplay")
	}
	if h.fe.count("Reticle") != 0 {
		t.Fatal("reticle drawn outside gameplay")
	}

	h.mem.putInt32(contraption+fieldOff, 3)
	h.s.OnPresent(swapChain, 0, 0)
	lines := h.s.Ring().Snapshot()
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "init ran") {
		t.Fatalf("ring = %q", lines)
	}
	if !h.s.InGameplay() || h.fe.count("Reticle") != 1 {
		t.Fatal("gameplay frame did not draw the reticle")
	}

	h.s.OnPresent(swapChain, 0, 0)
	if n := len(h.s.Ring().Snapshot()); n != 1 {
		t.Fatalf("init task ran again without a new entry: %d lines", n)
	}
}

func TestImmediateInitTaskWaitsForGameplay(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if _, err := h.s.Engine().EnqueueInitTask(`print("init ran")`, true); err != nil {
		t.Fatal(err)
	}
	h.s.OnPresent(swapChain, 0, 0)
	if lines := h.s.Ring().Snapshot(); len(lines) != 0 {
		t.Fatalf("immediate init task ran while loading: %q", lines)
	}

	h.mem.putInt32(contraption+fieldOff, 3)
	h.s.OnPresent(swapChain, 0, 0)
	if n := len(h.s.Ring().Snapshot()); n != 1 {
		t.Fatalf("init task should run once on gameplay entry, ran %d", n)
	}

	if _, err := h.s.Engine().EnqueueInitTask(`print("late")`, true); err != nil {
		t.Fatal(err)
	}
	h.s.OnPresent(swapChain, 0, 0)
	lines := h.s.Ring().Snapshot()
	if len(lines) != 2 || !strings.HasSuffix(lines[1], "late") {
		t.Fatalf("immediate task queued in gameplay should run next frame: %q", lines)
	}
}

func TestToggleHidesOverlay(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.s.Toggle()
	if h.s.Visible() {
		t.Fatal("still visible after toggle")
	}
	h.s.OnPresent(swapChain, 0, 0)
	if h.fe.count("NewFrame") != 0 {
		t.Fatal("hidden overlay drew a frame")
	}
	h.s.Toggle()
	h.s.OnPresent(swapChain, 0, 0)
	if h.fe.count("NewFrame") != 1 {
		t.Fatal("overlay not drawn after toggling back")
	}
}

func TestTeardownRestoresHost(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.s.OnPresent(swapChain, 0, 0)
	present := h.s.present

	for _, step := range h.s.TeardownSteps() {
		if err := step.Run(); err != nil {
			t.Fatalf("%s: %v", step.Name, err)
		}
	}

	for _, target := range []uintptr{presentTarget, resizeTarget, testBase + logOffset} {
		if !h.pristine(target) {
			t.Fatalf("target 0x%X not restored", target)
		}
	}
	if len(h.mem.allocs) != 0 {
		t.Fatalf("trampolines not freed: %v", h.mem.allocs)
	}
	if h.window.procs[hostWnd] != hostProc {
		t.Fatal("window procedure not restored")
	}
	if len(h.native.live) != 0 {
		t.Fatalf("surface not released: %v", h.native.live)
	}
	if h.fe.count("DestroyContext") != 1 {
		t.Fatal("UI context not destroyed")
	}
	if _, err := h.s.Engine().EnqueueUpdateTask(`print(1)`, true); !errors.Is(err, script.ErrClosed) {
		t.Fatalf("enqueue after teardown err = %v", err)
	}
	if present.Original() != 0 {
		t.Fatal("removed binding still reaches the trampoline")
	}

	// a host thread already inside the hook body
	before := len(h.caller.calls)
	if got := h.s.OnPresent(swapChain, 0, 0); got != 0 {
		t.Fatalf("OnPresent after teardown = 0x%X", got)
	}
	if len(h.caller.calls) != before {
		t.Fatal("removed hook called native code")
	}
}

func TestTeardownStepsTolerateRepeat(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	for i := 0; i < 2; i++ {
		for _, step := range h.s.TeardownSteps() {
			if err := step.Run(); err != nil {
				t.Fatalf("pass %d %s: %v", i, step.Name, err)
			}
		}
	}
}

func TestCheckHost(t *testing.T) {
	name, err := CheckHost("")
	if err != nil || name == "" {
		t.Fatalf("CheckHost(\"\") = %q, %v", name, err)
	}
	if _, err := CheckHost(strings.ToUpper(name)); err != nil {
		t.Fatalf("case-insensitive match failed: %v", err)
	}
	if _, err := CheckHost("definitely-not-the-host.exe"); !errors.Is(err, ErrWrongHost) {
		t.Fatalf("err = %v, want ErrWrongHost", err)
	}
}
