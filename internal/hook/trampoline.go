package hook

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"
)

const (
	jmpRel32Len = 5  // E9 rel32
	absJmpLen   = 14 // FF 25 00000000 abs64
	relaySize   = 16 // FF 25 02000000, CC CC, abs64 slot at +8
	relaySlot   = 8

	// prologueWindow is how many bytes are read from the target before
	// decoding. The longest x86 instruction is 15 bytes so the stolen
	// region never exceeds jmpRel32Len-1+15.
	prologueWindow = 32
	stubSize       = 64
)

// prologue is the decoded head of a target function.
type prologue struct {
	insts  []x86asm.Inst
	offs   []int
	stolen int
}

// decodePrologue decodes whole instructions from code until at least
// jmpRel32Len bytes are covered.
func decodePrologue(code []byte) (*prologue, error) {
	if len(code) >= 2 {
		switch {
		case code[0] == 0xE9, code[0] == 0xEB:
			return nil, fmt.Errorf("%w: target starts with jmp", ErrPatchConflict)
		case code[0] == 0xFF && code[1] == 0x25:
			return nil, fmt.Errorf("%w: target starts with indirect jmp", ErrPatchConflict)
		}
	}

	p := &prologue{}
	for p.stolen < jmpRel32Len {
		if p.stolen >= len(code) {
			return nil, fmt.Errorf("%w: ran out of bytes at +%d", ErrUnsupportedPrologue, p.stolen)
		}
		if code[p.stolen] == 0xCC {
			return nil, fmt.Errorf("%w: int3 at +%d", ErrUnsupportedPrologue, p.stolen)
		}
		inst, err := x86asm.Decode(code[p.stolen:], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: decode at +%d: %v", ErrUnsupportedPrologue, p.stolen, err)
		}
		switch inst.Op {
		case x86asm.RET, x86asm.LRET, x86asm.INT:
			return nil, fmt.Errorf("%w: %s at +%d", ErrUnsupportedPrologue, inst.Op, p.stolen)
		}
		if inst.PCRel != 0 && inst.PCRel != 4 {
			return nil, fmt.Errorf("%w: %d-byte relative operand in %s at +%d", ErrUnsupportedPrologue, inst.PCRel, inst.Op, p.stolen)
		}
		p.insts = append(p.insts, inst)
		p.offs = append(p.offs, p.stolen)
		p.stolen += inst.Len
	}
	return p, nil
}

// relocate copies the stolen instructions so they can run from dst,
// rewriting every rel32 operand to keep its absolute destination.
func (p *prologue) relocate(code []byte, src, dst uintptr) ([]byte, error) {
	out := make([]byte, p.stolen)
	copy(out, code[:p.stolen])

	for i, inst := range p.insts {
		if inst.PCRel != 4 {
			continue
		}
		off := p.offs[i]
		field := off + inst.PCRelOff
		disp := int64(int32(binary.LittleEndian.Uint32(out[field:])))

		end := int64(src) + int64(off+inst.Len)
		abs := end + disp
		newEnd := int64(dst) + int64(off+inst.Len)
		newDisp := abs - newEnd
		if newDisp < math.MinInt32 || newDisp > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %s at +%d cannot reach 0x%X from 0x%X", ErrUnsupportedPrologue, inst.Op, off, abs, dst)
		}
		binary.LittleEndian.PutUint32(out[field:], uint32(int32(newDisp)))
	}
	return out, nil
}

// buildStub lays out one allocation: the relay at [0,16) jumps through the
// qword at +8 to the replacement, the trampoline at +16 runs the relocated
// prologue and jumps back to target+stolen.
func buildStub(p *prologue, code []byte, target, stub, replacement uintptr) ([]byte, error) {
	buf := make([]byte, stubSize)
	for i := range buf {
		buf[i] = 0xCC
	}

	copy(buf, []byte{0xFF, 0x25, 0x02, 0x00, 0x00, 0x00})
	binary.LittleEndian.PutUint64(buf[relaySlot:], uint64(replacement))

	tramp := stub + relaySize
	moved, err := p.relocate(code, target, tramp)
	if err != nil {
		return nil, err
	}
	n := copy(buf[relaySize:], moved)
	writeAbsJmp(buf[relaySize+n:], target+uintptr(p.stolen))
	return buf, nil
}

func writeAbsJmp(dst []byte, to uintptr) {
	copy(dst, []byte{0xFF, 0x25, 0x00, 0x00, 0x00, 0x00})
	binary.LittleEndian.PutUint64(dst[6:], uint64(to))
}

// buildPatch is the jmp rel32 from target to relay, padded with nops over
// the rest of the stolen bytes.
func buildPatch(target, relay uintptr, stolen int) ([]byte, error) {
	rel := int64(relay) - (int64(target) + jmpRel32Len)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return nil, fmt.Errorf("%w: relay 0x%X out of rel32 range of 0x%X", ErrUnsupportedPrologue, relay, target)
	}
	patch := make([]byte, stolen)
	patch[0] = 0xE9
	binary.LittleEndian.PutUint32(patch[1:], uint32(int32(rel)))
	for i := jmpRel32Len; i < stolen; i++ {
		patch[i] = 0x90
	}
	return patch, nil
}
