//go:build windows

package d3d

import (
	"fmt"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("d3d")

var (
	d3d11DLL                          = windows.NewLazySystemDLL("d3d11.dll")
	user32DLL                         = windows.NewLazySystemDLL("user32.dll")
	procD3D11CreateDeviceAndSwapChain = d3d11DLL.NewProc("D3D11CreateDeviceAndSwapChain")
	procDefWindowProcW                = user32DLL.NewProc("DefWindowProcW")
)

const (
	d3dDriverTypeHardware = 1
	d3dDriverTypeWARP     = 5
	d3dFeatureLevel10_1   = 0xa100
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	dxgiFormatR8G8B8A8Unorm     = 28
	dxgiUsageRenderTargetOutput = 0x20
	dxgiSwapEffectDiscard       = 0
)

// ProbeVTable creates a throwaway window, device and swap chain to read the
// Present and ResizeBuffers addresses, then releases all of it.
func ProbeVTable() (VTable, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	className, _ := syscall.UTF16PtrFromString("LuaConsoleProbe")
	title, _ := syscall.UTF16PtrFromString("LuaConsole probe")

	if err := procDefWindowProcW.Find(); err != nil {
		return VTable{}, err
	}
	var wc win.WNDCLASSEX
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	wc.Style = win.CS_HREDRAW | win.CS_VREDRAW
	wc.LpfnWndProc = procDefWindowProcW.Addr()
	wc.HInstance = win.GetModuleHandle(nil)
	wc.LpszClassName = className

	atom := win.RegisterClassEx(&wc)
	if atom == 0 {
		return VTable{}, fmt.Errorf("register probe window class: %v", syscall.GetLastError())
	}
	defer func() {
		if !win.UnregisterClass(className) {
			log.Warn("unregister probe window class failed", logging.KeyError, syscall.GetLastError())
		}
	}()

	hwnd := win.CreateWindowEx(0, className, title, win.WS_OVERLAPPEDWINDOW,
		0, 0, 100, 100, 0, 0, wc.HInstance, nil)
	if hwnd == 0 {
		return VTable{}, fmt.Errorf("create probe window: %v", syscall.GetLastError())
	}
	defer win.DestroyWindow(hwnd)

	desc := dxgiSwapChainDesc{
		BufferDesc: dxgiModeDesc{
			Width:       100,
			Height:      100,
			RefreshRate: dxgiRational{Numerator: 60, Denominator: 1},
			Format:      dxgiFormatR8G8B8A8Unorm,
		},
		SampleCount:  1,
		BufferUsage:  dxgiUsageRenderTargetOutput,
		BufferCount:  1,
		OutputWindow: uintptr(hwnd),
		Windowed:     1,
		SwapEffect:   dxgiSwapEffectDiscard,
	}

	swapChain, device, context, err := createDeviceAndSwapChain(&desc, d3dDriverTypeHardware)
	if err != nil {
		log.Warn("hardware probe device failed, retrying with WARP", logging.KeyError, err.Error())
		swapChain, device, context, err = createDeviceAndSwapChain(&desc, d3dDriverTypeWARP)
		if err != nil {
			return VTable{}, err
		}
	}
	defer Release(device)
	defer Release(context)
	defer Release(swapChain)

	vt := VTable{
		Present:       vtbl(swapChain, SlotPresent),
		ResizeBuffers: vtbl(swapChain, SlotResizeBuffers),
	}
	log.Debug("probed swap chain vtable",
		"present", fmt.Sprintf("0x%X", vt.Present),
		"resizeBuffers", fmt.Sprintf("0x%X", vt.ResizeBuffers),
	)
	return vt, nil
}

func createDeviceAndSwapChain(desc *dxgiSwapChainDesc, driverType uintptr) (swapChain, device, context uintptr, err error) {
	levels := [2]uint32{d3dFeatureLevel10_1, d3dFeatureLevel11_0}
	var got uint32

	if err := procD3D11CreateDeviceAndSwapChain.Find(); err != nil {
		return 0, 0, 0, err
	}
	hr, _, _ := syscall.SyscallN(procD3D11CreateDeviceAndSwapChain.Addr(),
		0,
		driverType,
		0,
		0,
		uintptr(unsafe.Pointer(&levels[0])),
		uintptr(len(levels)),
		d3d11SDKVersion,
		uintptr(unsafe.Pointer(desc)),
		uintptr(unsafe.Pointer(&swapChain)),
		uintptr(unsafe.Pointer(&device)),
		uintptr(unsafe.Pointer(&got)),
		uintptr(unsafe.Pointer(&context)),
	)
	if err := hresult("D3D11CreateDeviceAndSwapChain", hr); err != nil {
		return 0, 0, 0, err
	}
	return swapChain, device, context, nil
}
