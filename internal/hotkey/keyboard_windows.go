//go:build windows

package hotkey

import "github.com/lxn/win"

// Async reads the global key state with GetAsyncKeyState.
type Async struct{}

func (Async) Down(vk int) bool {
	return uint16(win.GetAsyncKeyState(int32(vk)))&0x8000 != 0
}
