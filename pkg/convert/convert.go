// Package convert implements the cvt conversion table and the rounding and
// saturation rules shared with the arithmetic instructions.
//
// Conversions dispatch through an 11x11 matrix of functions indexed by
// source and destination format:
//
//	s8 s16 s32 s64 u8 u16 u32 u64 f16 f32 f64
//
// Bit types share the unsigned row of their width. A nil entry converts a
// format to itself and leaves the bits untouched.
package convert

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

var (
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	ErrIntegerRounding       = errors.New("rounding requested on integer type")
	ErrIntegerSaturation     = errors.New("saturation requested on integer type")
)

// Canonical quiet NaN patterns.
const (
	NaN16 = 0x7FFF
	NaN32 = 0x7FFFFFFF
	NaN64 = 0xFFF8000000000000
)

type convFn func(x value.Reg, from, to isa.Type, r isa.Rounding, sat bool) value.Reg

var table = [11][11]convFn{
	{nil, sext, sext, sext, nil, sext, sext, sext, s2f, s2f, s2f},
	{chop, nil, sext, sext, chop, nil, sext, sext, s2f, s2f, s2f},
	{chop, sexd, nil, sext, chop, chop, nil, sext, s2f, s2f, s2f},
	{chop, chop, chop, nil, chop, chop, chop, nil, s2f, s2f, s2f},
	{nil, zext, zext, zext, nil, zext, zext, zext, u2f, u2f, u2f},
	{chop, nil, zext, zext, chop, nil, zext, zext, u2f, u2f, u2f},
	{chop, chop, nil, zext, chop, chop, nil, zext, u2f, u2f, u2f},
	{chop, chop, chop, nil, chop, chop, chop, nil, u2f, u2f, u2f},
	{f2x, f2x, f2x, f2x, f2x, f2x, f2x, f2x, h2h, f2f, f2x},
	{f2x, f2x, f2x, f2x, f2x, f2x, f2x, f2x, f2x, f2f, f2x},
	{d2x, d2x, d2x, d2x, d2x, d2x, d2x, d2x, d2x, d2x, d2d},
}

func format(t isa.Type) (int, bool) {
	switch t {
	case isa.S8:
		return 0, true
	case isa.S16:
		return 1, true
	case isa.S32:
		return 2, true
	case isa.S64:
		return 3, true
	case isa.U8, isa.B8:
		return 4, true
	case isa.U16, isa.B16:
		return 5, true
	case isa.U32, isa.B32:
		return 6, true
	case isa.U64, isa.B64:
		return 7, true
	case isa.F16:
		return 8, true
	case isa.F32:
		return 9, true
	case isa.F64, isa.FF64:
		return 10, true
	}
	return 0, false
}

// Convert converts x from one format to another.
func Convert(x value.Reg, from, to isa.Type, r isa.Rounding, sat bool) (value.Reg, error) {
	src, ok1 := format(from)
	dst, ok2 := format(to)
	if !ok1 || !ok2 {
		return value.Reg{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, from, to)
	}
	if sat && isInt(from) && isInt(to) {
		x = clampInt(x, from, to)
	}
	fn := table[src][dst]
	if fn == nil {
		return x, nil
	}
	return fn(x, from, to, r, sat), nil
}

func isInt(t isa.Type) bool {
	return t.IsSigned() || t.IsUnsigned() || t.IsBits()
}

func chop(x value.Reg, _, to isa.Type, _ isa.Rounding, _ bool) value.Reg {
	return value.FromU64(x.Bits(to.Bits()))
}

func sext(x value.Reg, from, _ isa.Type, _ isa.Rounding, _ bool) value.Reg {
	return value.FromS64(x.Signed(from.Bits()))
}

// sexd truncates to the source width but takes the sign from the
// destination width.
func sexd(x value.Reg, from, to isa.Type, _ isa.Rounding, _ bool) value.Reg {
	v := x.Bits(from.Bits())
	return value.FromS64(value.SignExtend(v, to.Bits()) | int64(v&^value.Mask(to.Bits())))
}

func zext(x value.Reg, from, _ isa.Type, _ isa.Rounding, _ bool) value.Reg {
	return value.FromU64(x.Bits(from.Bits()))
}

func s2f(x value.Reg, from, to isa.Type, r isa.Rounding, _ bool) value.Reg {
	return intToFloat(newIntValue(x.Signed(from.Bits())), to, r)
}

func u2f(x value.Reg, from, to isa.Type, r isa.Rounding, _ bool) value.Reg {
	return intToFloat(newUintValue(x.Bits(from.Bits())), to, r)
}

// f2x converts a half or single to an integer or a different float width.
func f2x(x value.Reg, from, to isa.Type, r isa.Rounding, sat bool) value.Reg {
	var f float32
	var denorm bool
	if from == isa.F16 {
		h := x.F16()
		f = h.Float32()
		denorm = h.Bits()&0x7C00 == 0
	} else {
		f = x.F32()
		denorm = x.U32()&0x7F800000 == 0
	}

	switch {
	case isInt(to):
		if denorm {
			return value.Reg{}
		}
		return floatToInt(roundIntegral(float64(f), r, isa.RZI), to)
	case to == isa.F16:
		return saturateBits(value.FromF16(narrowF16(f, r)), isa.F16, sat)
	case to == isa.F32:
		return saturateBits(value.FromF32(f), isa.F32, sat)
	default:
		return saturateBits(value.FromF64(float64(f)), isa.F64, sat)
	}
}

// d2x converts a double to an integer or a narrower float.
func d2x(x value.Reg, _, to isa.Type, r isa.Rounding, sat bool) value.Reg {
	f := x.F64()
	switch {
	case isInt(to):
		return floatToInt(roundIntegral(f, r, isa.RZI), to)
	case to == isa.F32:
		return saturateBits(value.FromF32(narrowF32(f, r)), isa.F32, sat)
	default:
		return saturateBits(value.FromF16(narrowF16(narrowF32(f, r), r)), isa.F16, sat)
	}
}

// f2f converts half to single, or single to single with an integral
// rounding mode. Denormal inputs flush to signed zero unless truncating or
// rounding to nearest.
func f2f(x value.Reg, from, _ isa.Type, r isa.Rounding, sat bool) value.Reg {
	if from == isa.F16 {
		return saturateBits(value.FromF32(x.F16().Float32()), isa.F32, sat)
	}
	f := x.F32()
	var y value.Reg
	switch r {
	case isa.RZI:
		y = value.FromF32(float32(math.Trunc(float64(f))))
	case isa.RNI:
		y = value.FromF32(float32(math.RoundToEven(float64(f))))
	default:
		if x.U32()&0x7F800000 == 0 {
			y = value.FromU64(uint64(x.U32() & 0x80000000))
		} else if r == isa.RMI {
			y = value.FromF32(float32(math.Floor(float64(f))))
		} else if r == isa.RPI {
			y = value.FromF32(float32(math.Ceil(float64(f))))
		} else {
			y = x
		}
	}
	return saturateBits(y, isa.F32, sat)
}

func d2d(x value.Reg, _, _ isa.Type, r isa.Rounding, sat bool) value.Reg {
	return saturateBits(value.FromF64(roundIntegral(x.F64(), r, isa.RoundNone)), isa.F64, sat)
}

// h2h applies integral rounding and saturation to a half.
func h2h(x value.Reg, _, _ isa.Type, r isa.Rounding, sat bool) value.Reg {
	f := float64(x.F16().Float32())
	y := value.FromF16(float16.Fromfloat32(float32(roundIntegral(f, r, isa.RoundNone))))
	if r == isa.RoundNone && !sat {
		y = x
	}
	return saturateBits(y, isa.F16, sat)
}

// roundIntegral applies an integral rounding mode; def is used when r is
// not one of rni, rzi, rmi, rpi.
func roundIntegral(f float64, r, def isa.Rounding) float64 {
	switch r {
	case isa.RZI, isa.RNI, isa.RMI, isa.RPI:
	default:
		r = def
	}
	switch r {
	case isa.RZI:
		return math.Trunc(f)
	case isa.RNI:
		return math.RoundToEven(f)
	case isa.RMI:
		return math.Floor(f)
	case isa.RPI:
		return math.Ceil(f)
	}
	return f
}

// floatToInt clamps an already integral float into the destination range.
func floatToInt(f float64, to isa.Type) value.Reg {
	w := to.Bits()
	if math.IsNaN(f) {
		return value.Reg{}
	}
	if to.IsSigned() {
		lo := -math.Ldexp(1, w-1)
		hi := math.Ldexp(1, w-1)
		var v int64
		switch {
		case f < lo:
			v = int64(math.MinInt64) >> uint(64-w)
		case f >= hi:
			v = int64(math.MaxInt64) >> uint(64-w)
		default:
			v = int64(f)
		}
		return value.FromU64(uint64(v) & value.Mask(w))
	}
	var v uint64
	switch {
	case f <= 0:
		v = 0
	case f >= math.Ldexp(1, w):
		v = value.Mask(w)
	default:
		v = uint64(f)
	}
	return value.FromU64(v)
}

func clampInt(x value.Reg, from, to isa.Type) value.Reg {
	tw := to.Bits()
	minS := int64(math.MinInt64) >> uint(64-tw)
	maxS := int64(math.MaxInt64) >> uint(64-tw)
	if from.IsSigned() {
		v := x.Signed(from.Bits())
		if to.IsSigned() {
			return value.FromS64(clamp(v, minS, maxS))
		}
		if v < 0 {
			return value.Reg{}
		}
		return value.FromU64(clamp(uint64(v), 0, value.Mask(tw)))
	}
	u := x.Bits(from.Bits())
	if to.IsSigned() {
		return value.FromU64(clamp(u, 0, uint64(maxS)))
	}
	return value.FromU64(clamp(u, 0, value.Mask(tw)))
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// narrowF32 rounds a double to single precision in the given direction.
func narrowF32(f float64, r isa.Rounding) float32 {
	y := float32(f)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return y
	}
	switch r {
	case isa.RZ, isa.RZI:
		if math.Abs(float64(y)) > math.Abs(f) {
			y = math.Nextafter32(y, 0)
		}
	case isa.RM, isa.RMI:
		if float64(y) > f {
			y = math.Nextafter32(y, float32(math.Inf(-1)))
		}
	case isa.RP, isa.RPI:
		if float64(y) < f {
			y = math.Nextafter32(y, float32(math.Inf(1)))
		}
	}
	return y
}

// narrowF16 rounds a single to half precision in the given direction.
func narrowF16(f float32, r isa.Rounding) float16.Float16 {
	h := float16.Fromfloat32(f)
	if h.IsNaN() || h.IsInf(0) || isNaN32(f) {
		return h
	}
	got := h.Float32()
	switch r {
	case isa.RZ, isa.RZI:
		if abs32(got) > abs32(f) {
			h = stepF16(h, got > 0, false)
		}
	case isa.RM, isa.RMI:
		if got > f {
			h = stepF16(h, false, true)
		}
	case isa.RP, isa.RPI:
		if got < f {
			h = stepF16(h, true, true)
		}
	}
	return h
}

// stepF16 moves h one ulp. With signed set, up means toward +inf;
// otherwise the step is toward zero and up gives the current sign.
func stepF16(h float16.Float16, up, signed bool) float16.Float16 {
	bits := h.Bits()
	neg := bits&0x8000 != 0
	mag := bits & 0x7FFF
	if !signed {
		// toward zero
		if mag == 0 {
			return h
		}
		return float16.Frombits(bits - 1)
	}
	if mag == 0 {
		if up {
			return float16.Frombits(0x0001)
		}
		return float16.Frombits(0x8001)
	}
	if up != neg {
		return float16.Frombits(bits + 1)
	}
	return float16.Frombits(bits - 1)
}

func isNaN32(f float32) bool { return f != f }

func abs32(f float32) float32 {
	return math.Float32frombits(math.Float32bits(f) &^ 0x80000000)
}
