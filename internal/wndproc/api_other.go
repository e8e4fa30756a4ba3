//go:build !windows

package wndproc

// User32 is inert off Windows.
type User32 struct{}

func (User32) WindowProc(uintptr) uintptr                                        { return 0 }
func (User32) SetWindowProc(uintptr, uintptr) uintptr                            { return 0 }
func (User32) CallWindowProc(uintptr, uintptr, uint32, uintptr, uintptr) uintptr { return 0 }
func (User32) DefWindowProc(uintptr, uint32, uintptr, uintptr) uintptr           { return 0 }
func (User32) FindWindow(string) uintptr                                         { return 0 }
func (User32) IsWindow(uintptr) bool                                             { return false }

func (i *Interceptor) CreateShim() uintptr { return 0 }
