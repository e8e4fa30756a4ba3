// Package surface owns the D3D11 device, immediate context and render
// target view borrowed from the host's swap chain.
package surface

import (
	"errors"
	"fmt"

	"github.com/luaconsole/overlay/internal/d3d"
	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("surface")

var ErrNoSwapChain = errors.New("surface: nil swap chain")

// Native is the COM surface of a swap chain. d3d.API implements it.
type Native interface {
	Device(swapChain uintptr) (uintptr, error)
	ImmediateContext(device uintptr) (uintptr, error)
	Desc(swapChain uintptr) (d3d.SwapChainDesc, error)
	BackBuffer(swapChain uintptr) (uintptr, error)
	CreateRenderTargetView(device, resource uintptr) (uintptr, error)
	Release(obj uintptr)
}

// State is all valid when Ready and all zero otherwise.
type State struct {
	Device  uintptr
	Context uintptr
	RTV     uintptr
	Window  uintptr
	Width   uint32
	Height  uint32
	Ready   bool
}

// Controller acquires and releases the surface. It is driven from the render
// thread; teardown calls Release only after the present and resize hooks
// are gone.
type Controller struct {
	native Native
	state  State

	acquired int
	failed   int
}

func NewController(native Native) *Controller {
	return &Controller{native: native}
}

// acquisition releases everything it holds unless committed.
type acquisition struct {
	native    Native
	held      []uintptr
	committed bool
}

func (a *acquisition) hold(h uintptr) uintptr {
	a.held = append(a.held, h)
	return h
}

func (a *acquisition) rollback() {
	if a.committed {
		return
	}
	for i := len(a.held) - 1; i >= 0; i-- {
		a.native.Release(a.held[i])
	}
	a.held = nil
}

// Acquire builds the surface from swapChain. On any failure nothing stays
// held and the controller remains not ready. Acquiring while ready is a
// no-op.
func (c *Controller) Acquire(swapChain uintptr) error {
	if c.state.Ready {
		return nil
	}
	if swapChain == 0 {
		return ErrNoSwapChain
	}

	a := &acquisition{native: c.native}
	defer a.rollback()

	fail := func(step string, err error) error {
		c.failed++
		return fmt.Errorf("acquire surface: %s: %w", step, err)
	}

	device, err := c.native.Device(swapChain)
	if err != nil {
		return fail("device", err)
	}
	a.hold(device)

	context, err := c.native.ImmediateContext(device)
	if err != nil {
		return fail("immediate context", err)
	}
	a.hold(context)

	desc, err := c.native.Desc(swapChain)
	if err != nil {
		return fail("swap chain desc", err)
	}

	backBuffer, err := c.native.BackBuffer(swapChain)
	if err != nil {
		return fail("back buffer", err)
	}
	if backBuffer == 0 {
		return fail("back buffer", d3d.ErrNilBackBuffer)
	}
	rtv, err := c.native.CreateRenderTargetView(device, backBuffer)
	c.native.Release(backBuffer)
	if err != nil {
		return fail("render target view", err)
	}
	a.hold(rtv)

	a.committed = true
	c.state = State{
		Device:  device,
		Context: context,
		RTV:     rtv,
		Window:  desc.Window,
		Width:   desc.Width,
		Height:  desc.Height,
		Ready:   true,
	}
	c.acquired++

	log.Debug("acquired",
		logging.KeyWindow, fmt.Sprintf("0x%X", desc.Window),
		"width", desc.Width,
		"height", desc.Height,
	)
	return nil
}

// Release drops the RTV, then the context, then the device. Safe when not
// ready.
func (c *Controller) Release() {
	if c.state.RTV != 0 {
		c.native.Release(c.state.RTV)
		c.state.RTV = 0
	}
	if c.state.Context != 0 {
		c.native.Release(c.state.Context)
		c.state.Context = 0
	}
	if c.state.Device != 0 {
		c.native.Release(c.state.Device)
		c.state.Device = 0
	}
	if c.state.Ready {
		log.Debug("released")
	}
	c.state = State{}
}

func (c *Controller) Ready() bool  { return c.state.Ready }
func (c *Controller) State() State { return c.state }

// Stats reports how many acquisitions succeeded and failed.
func (c *Controller) Stats() (acquired, failed int) {
	return c.acquired, c.failed
}
