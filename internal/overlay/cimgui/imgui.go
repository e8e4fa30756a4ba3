// Package cimgui binds the overlay frontend to cimgui.dll, the C export of
// Dear ImGui built with the Win32 and DX11 backends. The DLL is loaded at
// run time; nothing here needs cgo.
package cimgui

import (
	"encoding/binary"
	"math"
)

// ImGuiIO field offsets, Dear ImGui 1.90 x64 layout.
const (
	ioConfigFlags = 0x00
	ioIniFilename = 0x18
	ioFonts       = 0x30
)

const (
	configNavEnableKeyboard   = 1 << 0
	configNavEnableGamepad    = 1 << 1
	configNoMouseCursorChange = 1 << 5
	configDockingEnable       = 1 << 6

	inputTextAllowTabInput = 1 << 10
	hoveredAnyWindow       = 1 << 2
)

const (
	reticleRadius   = 5
	reticleSegments = 12
)

var reticleColor = col32(245, 245, 245, 128)

// vec2 packs an ImVec2 for passing by value. On x64 an 8-byte struct
// travels in a general-purpose register.
func vec2(x, y float32) uintptr {
	return uintptr(math.Float32bits(x)) | uintptr(math.Float32bits(y))<<32
}

// float packs a float argument. The Windows syscall path mirrors the first
// four integer registers into XMM0-3, so the low 32 bits reach the callee.
func float(f float32) uintptr {
	return uintptr(math.Float32bits(f))
}

// col32 is IM_COL32: ABGR packed little endian.
func col32(r, g, b, a uint8) uintptr {
	return uintptr(a)<<24 | uintptr(b)<<16 | uintptr(g)<<8 | uintptr(r)
}

// floatThunkSize is the size of the code emitted by buildFloatThunk.
const floatThunkSize = 32

// buildFloatThunk returns x64 code that calls fn with the incoming
// arguments and moves its float result from XMM0 into EAX, where a syscall
// return can see it.
//
//	sub  rsp, 0x28
//	call [rip+0x0E]
//	movd eax, xmm0
//	add  rsp, 0x28
//	ret
//	int3 x5
//	dq   fn
func buildFloatThunk(fn uintptr) []byte {
	code := []byte{
		0x48, 0x83, 0xEC, 0x28,
		0xFF, 0x15, 0x0E, 0x00, 0x00, 0x00,
		0x66, 0x0F, 0x7E, 0xC0,
		0x48, 0x83, 0xC4, 0x28,
		0xC3,
		0xCC, 0xCC, 0xCC, 0xCC, 0xCC,
	}
	out := make([]byte, floatThunkSize)
	copy(out, code)
	binary.LittleEndian.PutUint64(out[len(code):], uint64(fn))
	return out
}

// floatResult decodes a thunk's return value.
func floatResult(r uintptr) float32 {
	return math.Float32frombits(uint32(r))
}
