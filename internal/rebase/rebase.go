// Package rebase turns static offsets from the host binary into addresses in
// the running process.
package rebase

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var ErrNullSingleton = errors.New("rebase: singleton pointer is still null")

// Reader reads process memory. hook.ProcessMemory satisfies it.
type Reader interface {
	Read(addr uintptr, n int) ([]byte, error)
}

// Resolver adds offsets to a module base captured once at startup.
type Resolver struct {
	base uintptr
	mem  Reader
}

func New(base uintptr, mem Reader) *Resolver {
	return &Resolver{base: base, mem: mem}
}

func (r *Resolver) Base() uintptr { return r.base }

// Addr returns base+offset, or 0 when offset is unset.
func (r *Resolver) Addr(offset uint64) uintptr {
	if offset == 0 || r.base == 0 {
		return 0
	}
	return r.base + uintptr(offset)
}

// Singleton reads the static pointer at base+offset, polling every interval
// until it is non-null or ctx ends. The host fills these in lazily during
// its own startup.
func (r *Resolver) Singleton(ctx context.Context, offset uint64, interval time.Duration) (uintptr, error) {
	slot := r.Addr(offset)
	if slot == 0 {
		return 0, fmt.Errorf("singleton offset 0x%X does not resolve", offset)
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := ReadPointer(r.mem, slot)
		if err != nil {
			return 0, err
		}
		if p != 0 {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w at 0x%X: %w", ErrNullSingleton, slot, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Current reads the singleton once without waiting.
func (r *Resolver) Current(offset uint64) (uintptr, error) {
	slot := r.Addr(offset)
	if slot == 0 {
		return 0, fmt.Errorf("singleton offset 0x%X does not resolve", offset)
	}
	return ReadPointer(r.mem, slot)
}

func ReadPointer(mem Reader, addr uintptr) (uintptr, error) {
	b, err := mem.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return uintptr(binary.LittleEndian.Uint64(b)), nil
}

func ReadInt32(mem Reader, addr uintptr) (int32, error) {
	b, err := mem.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}
