//go:build windows

package d3d

import (
	"fmt"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// vtbl returns the function pointer at idx in obj's vtable.
func vtbl(obj uintptr, idx int) uintptr {
	table := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(table + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

func hresult(method string, hr uintptr) error {
	if int32(hr) >= 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", method, ole.NewError(hr))
}

// Release calls IUnknown::Release on obj when it is non-nil.
func Release(obj uintptr) {
	if obj == 0 {
		return
	}
	(*ole.IUnknown)(unsafe.Pointer(obj)).Release()
}

// API implements the swap-chain queries against real COM objects.
type API struct{}

func (API) Device(swapChain uintptr) (uintptr, error) {
	var dev uintptr
	hr, _, _ := syscall.SyscallN(vtbl(swapChain, slotSwapGetDevice),
		swapChain,
		uintptr(unsafe.Pointer(IIDID3D11Device)),
		uintptr(unsafe.Pointer(&dev)),
	)
	if err := hresult("IDXGISwapChain::GetDevice", hr); err != nil {
		return 0, err
	}
	return dev, nil
}

func (API) ImmediateContext(device uintptr) (uintptr, error) {
	var ctx uintptr
	syscall.SyscallN(vtbl(device, slotDevGetImmediateContext), device, uintptr(unsafe.Pointer(&ctx)))
	if ctx == 0 {
		return 0, ErrNilContext
	}
	return ctx, nil
}

func (API) Desc(swapChain uintptr) (SwapChainDesc, error) {
	var desc dxgiSwapChainDesc
	hr, _, _ := syscall.SyscallN(vtbl(swapChain, slotSwapGetDesc), swapChain, uintptr(unsafe.Pointer(&desc)))
	if err := hresult("IDXGISwapChain::GetDesc", hr); err != nil {
		return SwapChainDesc{}, err
	}
	return desc.public(), nil
}

func (API) BackBuffer(swapChain uintptr) (uintptr, error) {
	var tex uintptr
	hr, _, _ := syscall.SyscallN(vtbl(swapChain, slotSwapGetBuffer),
		swapChain,
		0,
		uintptr(unsafe.Pointer(IIDID3D11Texture2D)),
		uintptr(unsafe.Pointer(&tex)),
	)
	if err := hresult("IDXGISwapChain::GetBuffer", hr); err != nil {
		return 0, err
	}
	if tex == 0 {
		return 0, ErrNilBackBuffer
	}
	return tex, nil
}

func (API) CreateRenderTargetView(device, resource uintptr) (uintptr, error) {
	var rtv uintptr
	hr, _, _ := syscall.SyscallN(vtbl(device, slotDevCreateRenderTargetView),
		device,
		resource,
		0,
		uintptr(unsafe.Pointer(&rtv)),
	)
	if err := hresult("ID3D11Device::CreateRenderTargetView", hr); err != nil {
		return 0, err
	}
	return rtv, nil
}

func (API) Release(obj uintptr) { Release(obj) }

// SetRenderTarget binds rtv as the only render target with no depth view.
func SetRenderTarget(context, rtv uintptr) {
	if context == 0 || rtv == 0 {
		return
	}
	views := [1]uintptr{rtv}
	syscall.SyscallN(vtbl(context, slotCtxOMSetRenderTargets), context, 1, uintptr(unsafe.Pointer(&views[0])), 0)
}
