//go:build !windows

package d3d

import "errors"

var errUnsupportedPlatform = errors.New("d3d: requires windows")

func Release(uintptr) {}

func SetRenderTarget(uintptr, uintptr) {}

// API is a no-op off Windows.
type API struct{}

func (API) Device(uintptr) (uintptr, error)           { return 0, errUnsupportedPlatform }
func (API) ImmediateContext(uintptr) (uintptr, error) { return 0, errUnsupportedPlatform }
func (API) Desc(uintptr) (SwapChainDesc, error)       { return SwapChainDesc{}, errUnsupportedPlatform }
func (API) BackBuffer(uintptr) (uintptr, error)       { return 0, errUnsupportedPlatform }
func (API) CreateRenderTargetView(uintptr, uintptr) (uintptr, error) {
	return 0, errUnsupportedPlatform
}
func (API) Release(uintptr) {}

func ProbeVTable() (VTable, error) { return VTable{}, errUnsupportedPlatform }
