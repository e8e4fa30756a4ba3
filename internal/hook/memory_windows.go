//go:build windows

package hook

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

const (
	memFree         = 0x10000
	allocGranule    = 0x10000
	maxRel32Reach   = 0x7FFF0000
	lowestUserSpace = 0x10000
)

// ProcessMemory patches code in the current process.
type ProcessMemory struct{}

func NewProcessMemory() *ProcessMemory { return &ProcessMemory{} }

func (ProcessMemory) Read(addr uintptr, n int) (out []byte, err error) {
	if !readable(addr, n) {
		return nil, fmt.Errorf("read 0x%X: %d bytes not committed readable memory", addr, n)
	}
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("read 0x%X: %v", addr, r)
		}
	}()
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	out = make([]byte, n)
	copy(out, src)
	return out, nil
}

const readableProtect = windows.PAGE_READONLY | windows.PAGE_READWRITE | windows.PAGE_WRITECOPY |
	windows.PAGE_EXECUTE_READ | windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

// readable reports whether [addr, addr+n) lies in committed, readable,
// non-guard pages.
func readable(addr uintptr, n int) bool {
	if addr == 0 {
		return false
	}
	end := addr + uintptr(n)
	for p := addr; p < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return false
		}
		if mbi.State != windows.MEM_COMMIT || mbi.Protect&readableProtect == 0 || mbi.Protect&windows.PAGE_GUARD != 0 {
			return false
		}
		p = mbi.BaseAddress + mbi.RegionSize
	}
	return true
}

func (ProcessMemory) Write(addr uintptr, data []byte) error {
	size := uintptr(len(data))
	var old uint32
	if err := windows.VirtualProtect(addr, size, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data)), data)

	var ignored uint32
	if err := windows.VirtualProtect(addr, size, old, &ignored); err != nil {
		return fmt.Errorf("VirtualProtect restore: %w", err)
	}
	r, _, callErr := procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, size)
	if r == 0 {
		return fmt.Errorf("FlushInstructionCache: %w", callErr)
	}
	return nil
}

func (ProcessMemory) StorePointer(addr uintptr, value uintptr) error {
	if addr%8 != 0 {
		return fmt.Errorf("slot 0x%X is not 8-byte aligned", addr)
	}
	atomic.StoreUintptr((*uintptr)(unsafe.Pointer(addr)), value)
	return nil
}

// AllocNear walks free regions below and then above near, trying each
// allocation granule until VirtualAlloc succeeds within rel32 reach.
func (ProcessMemory) AllocNear(near uintptr, size int) (uintptr, error) {
	lo := uintptr(lowestUserSpace)
	if near > maxRel32Reach+lowestUserSpace {
		lo = near - maxRel32Reach
	}
	hi := near + maxRel32Reach

	for addr := alignDown(near, allocGranule); addr >= lo; {
		p, next, ok := tryAlloc(addr, size)
		if ok {
			return p, nil
		}
		if next != 0 && next < addr {
			addr = next
			continue
		}
		if addr < lo+allocGranule {
			break
		}
		addr -= allocGranule
	}
	for addr := alignUp(near, allocGranule); addr < hi; {
		p, next, ok := tryAllocUp(addr, size)
		if ok {
			return p, nil
		}
		addr = next
	}
	return 0, fmt.Errorf("no free region within 2GB of 0x%X", near)
}

// tryAlloc attempts addr; on failure it returns the next lower candidate.
func tryAlloc(addr uintptr, size int) (uintptr, uintptr, bool) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return 0, 0, false
	}
	if mbi.State == memFree {
		if p, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE); err == nil {
			return p, 0, true
		}
		return 0, 0, false
	}
	if mbi.AllocationBase < allocGranule {
		return 0, 0, false
	}
	return 0, alignDown(mbi.AllocationBase-1, allocGranule), false
}

// tryAllocUp attempts addr; on failure it returns the next higher candidate.
func tryAllocUp(addr uintptr, size int) (uintptr, uintptr, bool) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return 0, addr + allocGranule, false
	}
	if mbi.State == memFree {
		if p, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE); err == nil {
			return p, 0, true
		}
	}
	next := alignUp(mbi.BaseAddress+mbi.RegionSize, allocGranule)
	if next <= addr {
		next = addr + allocGranule
	}
	return 0, next, false
}

func (ProcessMemory) Free(addr uintptr) error {
	if addr == 0 {
		return nil
	}
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// NativeCall is the Caller used for real trampolines.
func NativeCall(fn uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn, args...)
	return r
}

func alignDown(v, a uintptr) uintptr { return v &^ (a - 1) }
func alignUp(v, a uintptr) uintptr   { return (v + a - 1) &^ (a - 1) }
