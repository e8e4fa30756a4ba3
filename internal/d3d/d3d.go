// Package d3d makes the handful of DXGI and D3D11 calls the overlay needs,
// through raw COM vtables.
package d3d

import (
	"errors"

	ole "github.com/go-ole/go-ole"
)

// IDXGISwapChain vtable slots. 0-2 IUnknown, 3-6 IDXGIObject,
// 7 IDXGIDeviceSubObject.
const (
	SlotPresent       = 8
	SlotResizeBuffers = 13

	slotSwapGetDevice = 7
	slotSwapGetBuffer = 9
	slotSwapGetDesc   = 12
)

// ID3D11Device vtable slots.
const (
	slotDevCreateRenderTargetView = 9
	slotDevGetImmediateContext    = 40
)

// ID3D11DeviceContext vtable slots. 3-6 ID3D11DeviceChild.
const slotCtxOMSetRenderTargets = 33

var (
	IIDID3D11Device    = ole.NewGUID("{DB6F6DDB-AC77-4E88-8253-819DF9BBF140}")
	IIDID3D11Texture2D = ole.NewGUID("{6F15AAF2-D208-4E89-9AB4-489535D34F9C}")
)

var (
	ErrNilBackBuffer = errors.New("d3d: swap chain returned a nil back buffer")
	ErrNilContext    = errors.New("d3d: device returned a nil immediate context")
)

// SwapChainDesc is the subset of DXGI_SWAP_CHAIN_DESC the overlay uses.
type SwapChainDesc struct {
	Window      uintptr
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      uint32
}

// VTable holds the swap-chain entry points shared by every swap chain the
// runtime creates.
type VTable struct {
	Present       uintptr
	ResizeBuffers uintptr
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

// dxgiModeDesc matches DXGI_MODE_DESC.
type dxgiModeDesc struct {
	Width            uint32
	Height           uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
}

// dxgiSwapChainDesc matches DXGI_SWAP_CHAIN_DESC (72 bytes on amd64).
type dxgiSwapChainDesc struct {
	BufferDesc    dxgiModeDesc
	SampleCount   uint32
	SampleQuality uint32
	BufferUsage   uint32
	BufferCount   uint32
	OutputWindow  uintptr
	Windowed      int32
	SwapEffect    uint32
	Flags         uint32
}

func (d *dxgiSwapChainDesc) public() SwapChainDesc {
	return SwapChainDesc{
		Window:      d.OutputWindow,
		Width:       d.BufferDesc.Width,
		Height:      d.BufferDesc.Height,
		BufferCount: d.BufferCount,
		Format:      d.BufferDesc.Format,
	}
}
