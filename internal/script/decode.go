package script

import (
	"encoding/binary"
	"math"
)

func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func le64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func f32(b []byte) float32 { return math.Float32frombits(le32(b)) }
