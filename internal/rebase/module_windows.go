//go:build windows

package rebase

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// ModuleBase returns the load address of name, or of the host executable
// when name is empty.
func ModuleBase(name string) (uintptr, error) {
	var h windows.Handle
	var err error
	if name == "" {
		err = windows.GetModuleHandleEx(0, nil, &h)
	} else {
		p, perr := windows.UTF16PtrFromString(name)
		if perr != nil {
			return 0, perr
		}
		err = windows.GetModuleHandleEx(0, p, &h)
	}
	if err != nil {
		return 0, fmt.Errorf("GetModuleHandleEx(%q): %w", name, err)
	}
	return uintptr(h), nil
}
