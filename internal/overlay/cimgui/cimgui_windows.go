//go:build windows

package cimgui

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/luaconsole/overlay/internal/d3d"
	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("cimgui")

var errNoContext = errors.New("cimgui: igCreateContext returned null")

// Frontend implements overlay.Frontend on top of cimgui.dll.
type Frontend struct {
	dll   *windows.LazyDLL
	procs map[string]*windows.LazyProc

	// Thunks that surface float returns.
	code       uintptr
	scrollY    uintptr
	scrollMaxY uintptr

	ctx uintptr

	mu      sync.Mutex
	strings map[string][]byte
}

var exports = []string{
	"igCreateContext", "igDestroyContext", "igGetIO", "igStyleColorsDark",
	"ImFontAtlas_AddFontFromFileTTF", "ImFontAtlas_AddFontDefault",
	"ImGui_ImplWin32_Init", "ImGui_ImplWin32_Shutdown", "ImGui_ImplWin32_NewFrame", "ImGui_ImplWin32_WndProcHandler",
	"ImGui_ImplDX11_Init", "ImGui_ImplDX11_Shutdown", "ImGui_ImplDX11_NewFrame", "ImGui_ImplDX11_RenderDrawData",
	"igNewFrame", "igRender", "igGetDrawData",
	"igBegin", "igEnd", "igTextUnformatted", "igSeparator", "igSameLine", "igButton", "igCheckbox",
	"igInputTextMultiline", "igBeginChild_Str", "igEndChild",
	"igGetScrollY", "igGetScrollMaxY", "igSetScrollHereY",
	"igIsWindowHovered", "igIsAnyItemActive",
	"igGetForegroundDrawList_Nil", "igGetMousePos", "ImDrawList_AddCircleFilled",
}

// Load opens cimgui.dll at path and resolves every export the overlay uses.
func Load(path string) (*Frontend, error) {
	dll := windows.NewLazyDLL(path)
	if err := dll.Load(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	f := &Frontend{
		dll:     dll,
		procs:   make(map[string]*windows.LazyProc, len(exports)),
		strings: make(map[string][]byte),
	}
	for _, name := range exports {
		p := dll.NewProc(name)
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		f.procs[name] = p
	}
	if err := f.buildThunks(); err != nil {
		return nil, err
	}
	log.Info("cimgui loaded", "path", path)
	return f, nil
}

func (f *Frontend) buildThunks() error {
	code, err := windows.VirtualAlloc(0, 2*floatThunkSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return fmt.Errorf("allocate float thunks: %w", err)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(code)), 2*floatThunkSize)
	copy(dst, buildFloatThunk(f.procs["igGetScrollY"].Addr()))
	copy(dst[floatThunkSize:], buildFloatThunk(f.procs["igGetScrollMaxY"].Addr()))

	var old uint32
	if err := windows.VirtualProtect(code, 2*floatThunkSize, windows.PAGE_EXECUTE_READ, &old); err != nil {
		windows.VirtualFree(code, 0, windows.MEM_RELEASE)
		return fmt.Errorf("protect float thunks: %w", err)
	}
	f.code = code
	f.scrollY = code
	f.scrollMaxY = code + floatThunkSize
	return nil
}

// Close frees the thunks. The DLL stays mapped.
func (f *Frontend) Close() {
	if f.code != 0 {
		windows.VirtualFree(f.code, 0, windows.MEM_RELEASE)
		f.code, f.scrollY, f.scrollMaxY = 0, 0, 0
	}
}

func (f *Frontend) call(name string, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(f.procs[name].Addr(), args...)
	return r
}

func (f *Frontend) callBool(name string, args ...uintptr) bool {
	return f.call(name, args...)&0xFF != 0
}

// cstr returns a stable NUL-terminated copy of s. Widget labels repeat
// every frame, so they are cached.
func (f *Frontend) cstr(s string) *byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.strings[s]
	if !ok {
		b = make([]byte, len(s)+1)
		copy(b, s)
		f.strings[s] = b
	}
	return &b[0]
}

func (f *Frontend) CreateContext() error {
	f.ctx = f.call("igCreateContext", 0)
	if f.ctx == 0 {
		return errNoContext
	}
	io := f.call("igGetIO")
	flags := (*int32)(unsafe.Pointer(io + ioConfigFlags))
	*flags |= configNavEnableKeyboard | configNavEnableGamepad | configDockingEnable | configNoMouseCursorChange
	// No imgui.ini in the host's working directory.
	*(*uintptr)(unsafe.Pointer(io + ioIniFilename)) = 0
	return nil
}

func (f *Frontend) DestroyContext() {
	if f.ctx == 0 {
		return
	}
	f.call("igDestroyContext", f.ctx)
	f.ctx = 0
}

func (f *Frontend) ApplyStyle() {
	f.call("igStyleColorsDark", 0)
}

func (f *Frontend) fonts() uintptr {
	io := f.call("igGetIO")
	return *(*uintptr)(unsafe.Pointer(io + ioFonts))
}

func (f *Frontend) LoadFont(path string, size float32) error {
	p := f.cstr(path)
	font := f.call("ImFontAtlas_AddFontFromFileTTF", f.fonts(), uintptr(unsafe.Pointer(p)), float(size), 0, 0)
	if font == 0 {
		return fmt.Errorf("font atlas rejected %s", path)
	}
	return nil
}

func (f *Frontend) LoadDefaultFont() {
	f.call("ImFontAtlas_AddFontDefault", f.fonts(), 0)
}

func (f *Frontend) InitBackends(window, device, context uintptr) error {
	if !f.callBool("ImGui_ImplWin32_Init", window) {
		return errors.New("ImGui_ImplWin32_Init failed")
	}
	if !f.callBool("ImGui_ImplDX11_Init", device, context) {
		f.call("ImGui_ImplWin32_Shutdown")
		return errors.New("ImGui_ImplDX11_Init failed")
	}
	return nil
}

func (f *Frontend) ShutdownBackends() {
	f.call("ImGui_ImplDX11_Shutdown")
	f.call("ImGui_ImplWin32_Shutdown")
}

func (f *Frontend) HandleInput(hwnd uintptr, msg uint32, wParam, lParam uintptr) bool {
	return f.call("ImGui_ImplWin32_WndProcHandler", hwnd, uintptr(msg), wParam, lParam) != 0
}

func (f *Frontend) NewFrame() {
	f.call("ImGui_ImplDX11_NewFrame")
	f.call("ImGui_ImplWin32_NewFrame")
	f.call("igNewFrame")
}

func (f *Frontend) Render(context, rtv uintptr) {
	f.call("igRender")
	d3d.SetRenderTarget(context, rtv)
	f.call("ImGui_ImplDX11_RenderDrawData", f.call("igGetDrawData"))
}

func (f *Frontend) Begin(title string) bool {
	return f.callBool("igBegin", uintptr(unsafe.Pointer(f.cstr(title))), 0, 0)
}

func (f *Frontend) End() { f.call("igEnd") }

func (f *Frontend) Text(s string) {
	if s == "" {
		return
	}
	b := []byte(s)
	begin := uintptr(unsafe.Pointer(&b[0]))
	f.call("igTextUnformatted", begin, begin+uintptr(len(b)))
	runtime.KeepAlive(b)
}

func (f *Frontend) Separator() { f.call("igSeparator") }

func (f *Frontend) SameLine() { f.call("igSameLine", float(0), float(-1)) }

func (f *Frontend) Button(label string) bool {
	return f.callBool("igButton", uintptr(unsafe.Pointer(f.cstr(label))), vec2(0, 0))
}

func (f *Frontend) Checkbox(label string, v *bool) bool {
	return f.callBool("igCheckbox", uintptr(unsafe.Pointer(f.cstr(label))), uintptr(unsafe.Pointer(v)))
}

func (f *Frontend) InputMultiline(label string, buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	changed := f.callBool("igInputTextMultiline",
		uintptr(unsafe.Pointer(f.cstr(label))),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		vec2(-1, 300),
		inputTextAllowTabInput,
		0, 0,
	)
	runtime.KeepAlive(buf)
	return changed
}

func (f *Frontend) BeginChild(id string) bool {
	return f.callBool("igBeginChild_Str", uintptr(unsafe.Pointer(f.cstr(id))), vec2(0, 0), 0, 0)
}

func (f *Frontend) EndChild() { f.call("igEndChild") }

func (f *Frontend) ScrollState() (y, max float32) {
	r, _, _ := syscall.SyscallN(f.scrollY)
	m, _, _ := syscall.SyscallN(f.scrollMaxY)
	return floatResult(r), floatResult(m)
}

func (f *Frontend) ScrollToBottom() { f.call("igSetScrollHereY", float(1)) }

func (f *Frontend) Hovered() bool {
	return f.callBool("igIsWindowHovered", hoveredAnyWindow) || f.callBool("igIsAnyItemActive")
}

func (f *Frontend) Reticle() {
	var pos [2]float32
	f.call("igGetMousePos", uintptr(unsafe.Pointer(&pos)))
	dl := f.call("igGetForegroundDrawList_Nil")
	f.call("ImDrawList_AddCircleFilled", dl, vec2(pos[0], pos[1]), float(reticleRadius), reticleColor, reticleSegments)
}
