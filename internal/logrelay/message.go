package logrelay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

// MessageKind is how the host passes the message argument.
type MessageKind string

const (
	// KindStdString is a pointer to an MSVC x64 std::string.
	KindStdString MessageKind = "std_string"
	// KindCString is a pointer to a NUL-terminated string.
	KindCString MessageKind = "cstring"
)

const (
	maxMessage   = 64 * 1024
	ssoCapacity  = 15
	stdStringLen = 32
	pageSize     = 4096
)

var ErrBadString = errors.New("logrelay: malformed host string")

// Reader reads process memory.
type Reader interface {
	Read(addr uintptr, n int) ([]byte, error)
}

// ReadMessage decodes the message argument of the host log routine.
func ReadMessage(mem Reader, ptr uintptr, kind MessageKind) (string, error) {
	if ptr == 0 {
		return "", fmt.Errorf("%w: nil pointer", ErrBadString)
	}
	switch kind {
	case KindCString:
		return readCString(mem, ptr)
	case KindStdString, "":
		return readStdString(mem, ptr)
	default:
		return "", fmt.Errorf("unknown message kind %q", kind)
	}
}

// readStdString follows the MSVC layout: 16 bytes of inline buffer or heap
// pointer, then size and capacity. Capacity above 15 means heap storage.
func readStdString(mem Reader, ptr uintptr) (string, error) {
	hdr, err := mem.Read(ptr, stdStringLen)
	if err != nil {
		return "", err
	}
	size := binary.LittleEndian.Uint64(hdr[16:])
	capacity := binary.LittleEndian.Uint64(hdr[24:])
	if size > capacity || size > maxMessage {
		return "", fmt.Errorf("%w: size %d capacity %d", ErrBadString, size, capacity)
	}
	if capacity <= ssoCapacity {
		return string(hdr[:size]), nil
	}
	data := uintptr(binary.LittleEndian.Uint64(hdr[:8]))
	if data == 0 {
		return "", fmt.Errorf("%w: nil heap buffer", ErrBadString)
	}
	if size == 0 {
		return "", nil
	}
	b, err := mem.Read(data, int(size))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readCString(mem Reader, ptr uintptr) (string, error) {
	var out []byte
	for len(out) < maxMessage {
		addr := ptr + uintptr(len(out))
		n := pageSize - int(addr%pageSize)
		if n > 256 {
			n = 256
		}
		chunk, err := mem.Read(addr, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk...)
	}
	return "", fmt.Errorf("%w: no terminator within %d bytes", ErrBadString, maxMessage)
}

// StdString is an MSVC x64 std::string built in Go memory so our own lines
// can be passed to the host log routine. Keep it and its backing slice
// alive until the call returns.
type StdString struct {
	buf      [16]byte
	size     uint64
	capacity uint64
}

func NewStdString(s string) (*StdString, []byte) {
	str := &StdString{size: uint64(len(s))}
	if len(s) <= ssoCapacity {
		copy(str.buf[:], s)
		str.capacity = ssoCapacity
		return str, nil
	}
	backing := make([]byte, len(s)+1)
	copy(backing, s)
	binary.LittleEndian.PutUint64(str.buf[:], uint64(uintptr(unsafe.Pointer(&backing[0]))))
	str.capacity = uint64(len(s))
	return str, backing
}

// NewCString returns s NUL-terminated.
func NewCString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}
