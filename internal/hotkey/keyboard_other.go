//go:build !windows

package hotkey

// Async never reports a key off Windows.
type Async struct{}

func (Async) Down(int) bool { return false }
