//go:build windows

package wndproc

import (
	"syscall"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

// User32 implements WindowAPI.
type User32 struct{}

func (User32) WindowProc(hwnd uintptr) uintptr {
	return win.GetWindowLongPtr(win.HWND(hwnd), win.GWLP_WNDPROC)
}

func (User32) SetWindowProc(hwnd, proc uintptr) uintptr {
	return win.SetWindowLongPtr(win.HWND(hwnd), win.GWLP_WNDPROC, proc)
}

func (User32) CallWindowProc(proc, hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	return win.CallWindowProc(proc, win.HWND(hwnd), msg, wParam, lParam)
}

func (User32) DefWindowProc(hwnd uintptr, msg uint32, wParam, lParam uintptr) uintptr {
	return win.DefWindowProc(win.HWND(hwnd), msg, wParam, lParam)
}

func (User32) FindWindow(class string) uintptr {
	p, err := syscall.UTF16PtrFromString(class)
	if err != nil {
		return 0
	}
	return uintptr(win.FindWindow(p, nil))
}

func (User32) IsWindow(hwnd uintptr) bool {
	return win.IsWindow(win.HWND(hwnd))
}

// CreateShim allocates the native callback that enters Dispatch. Go
// callbacks are never freed, so this is called once per interceptor.
func (i *Interceptor) CreateShim() uintptr {
	proc := windows.NewCallback(func(hwnd, msg, wParam, lParam uintptr) uintptr {
		return i.Dispatch(hwnd, uint32(msg), wParam, lParam)
	})
	i.SetShim(proc)
	return proc
}
