//go:build !windows

package hook

import "errors"

var errUnsupportedPlatform = errors.New("hook: code patching requires windows")

// ProcessMemory is unavailable off Windows; use a test Memory instead.
type ProcessMemory struct{}

func NewProcessMemory() *ProcessMemory { return &ProcessMemory{} }

func (ProcessMemory) Read(uintptr, int) ([]byte, error)       { return nil, errUnsupportedPlatform }
func (ProcessMemory) Write(uintptr, []byte) error             { return errUnsupportedPlatform }
func (ProcessMemory) StorePointer(uintptr, uintptr) error     { return errUnsupportedPlatform }
func (ProcessMemory) AllocNear(uintptr, int) (uintptr, error) { return 0, errUnsupportedPlatform }
func (ProcessMemory) Free(uintptr) error                      { return errUnsupportedPlatform }

func NativeCall(uintptr, ...uintptr) uintptr { return 0 }
