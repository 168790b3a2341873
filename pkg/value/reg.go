// Package value implements the register value moved through the engine.
//
// A Reg is a 128-bit pattern. It carries no type tag of its own: every
// interpretation (signed, unsigned, half/single/double float, predicate,
// packed lanes) is an explicit accessor, and writing through one accessor
// then reading through another is a deliberate bit reinterpretation.
//
//	r := value.FromF32(1.5)
//	bits := r.U32() // 0x3FC00000
package value

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Predicate flag bits. The zero flag is inverted: a clear bit means true.
const (
	PredZero     = 0x1
	PredSign     = 0x2
	PredCarry    = 0x4
	PredOverflow = 0x8
)

// Reg is a 128-bit register value.
type Reg struct {
	Lo uint64
	Hi uint64
}

// FromU64 returns a value holding v in the low 64 bits.
func FromU64(v uint64) Reg { return Reg{Lo: v} }

// FromS64 returns a value holding v in the low 64 bits.
func FromS64(v int64) Reg { return Reg{Lo: uint64(v)} }

// FromF32 returns a value holding the IEEE single bits of f.
func FromF32(f float32) Reg { return Reg{Lo: uint64(math.Float32bits(f))} }

// FromF64 returns a value holding the IEEE double bits of f.
func FromF64(f float64) Reg { return Reg{Lo: math.Float64bits(f)} }

// FromF16 returns a value holding the IEEE half bits of h.
func FromF16(h float16.Float16) Reg { return Reg{Lo: uint64(h.Bits())} }

// FromCond returns a predicate in the inverted convention: 0 when cond
// holds, 1 otherwise.
func FromCond(cond bool) Reg {
	if cond {
		return Reg{}
	}
	return Reg{Lo: PredZero}
}

// FromLanes packs four 32-bit lanes into a 128-bit value.
func FromLanes(l0, l1, l2, l3 uint32) Reg {
	return Reg{Lo: uint64(l0) | uint64(l1)<<32, Hi: uint64(l2) | uint64(l3)<<32}
}

// FromHalves packs two 32-bit halves into a 64-bit aggregate.
func FromHalves(ls, ms uint32) Reg {
	return Reg{Lo: uint64(ls) | uint64(ms)<<32}
}

func (r Reg) U8() uint8   { return uint8(r.Lo) }
func (r Reg) U16() uint16 { return uint16(r.Lo) }
func (r Reg) U32() uint32 { return uint32(r.Lo) }
func (r Reg) U64() uint64 { return r.Lo }
func (r Reg) S8() int8    { return int8(r.Lo) }
func (r Reg) S16() int16  { return int16(r.Lo) }
func (r Reg) S32() int32  { return int32(r.Lo) }
func (r Reg) S64() int64  { return int64(r.Lo) }

// F16 returns the low 16 bits as a half.
func (r Reg) F16() float16.Float16 { return float16.Frombits(uint16(r.Lo)) }

// F32 returns the low 32 bits as a single.
func (r Reg) F32() float32 { return math.Float32frombits(uint32(r.Lo)) }

// F64 returns the low 64 bits as a double.
func (r Reg) F64() float64 { return math.Float64frombits(r.Lo) }

// Pred returns the predicate flag nibble.
func (r Reg) Pred() uint8 { return uint8(r.Lo & 0xF) }

// True reports whether the predicate holds under the inverted convention.
func (r Reg) True() bool { return r.Lo&PredZero == 0 }

// Lane returns 32-bit lane i (0..3) of the 128-bit aggregate.
func (r Reg) Lane(i int) uint32 {
	switch i {
	case 0:
		return uint32(r.Lo)
	case 1:
		return uint32(r.Lo >> 32)
	case 2:
		return uint32(r.Hi)
	case 3:
		return uint32(r.Hi >> 32)
	}
	panic(fmt.Sprintf("value: lane %d out of range", i))
}

// WithLane returns r with lane i replaced by v.
func (r Reg) WithLane(i int, v uint32) Reg {
	switch i {
	case 0:
		r.Lo = r.Lo&^0xFFFFFFFF | uint64(v)
	case 1:
		r.Lo = r.Lo&0xFFFFFFFF | uint64(v)<<32
	case 2:
		r.Hi = r.Hi&^0xFFFFFFFF | uint64(v)
	case 3:
		r.Hi = r.Hi&0xFFFFFFFF | uint64(v)<<32
	default:
		panic(fmt.Sprintf("value: lane %d out of range", i))
	}
	return r
}

// Bits returns the low width bits. Width must be 8, 16, 32 or 64.
func (r Reg) Bits(width int) uint64 {
	return r.Lo & Mask(width)
}

// Signed returns the low width bits sign-extended to 64.
func (r Reg) Signed(width int) int64 {
	return SignExtend(r.Lo, width)
}

// Mask returns the all-ones mask for a width of 8, 16, 32 or 64 bits.
func Mask(width int) uint64 {
	switch width {
	case 8, 16, 32:
		return 1<<uint(width) - 1
	case 64:
		return math.MaxUint64
	}
	panic(fmt.Sprintf("value: unsupported width %d", width))
}

// SignExtend sign-extends the low width bits of v.
func SignExtend(v uint64, width int) int64 {
	if width >= 64 {
		return int64(v)
	}
	shift := uint(64 - width)
	return int64(v<<shift) >> shift
}

func (r Reg) String() string {
	if r.Hi != 0 {
		return fmt.Sprintf("0x%016X%016X", r.Hi, r.Lo)
	}
	return fmt.Sprintf("0x%X", r.Lo)
}
