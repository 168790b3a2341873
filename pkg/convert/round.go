package convert

import (
	"fmt"
	"math"
	"math/big"

	"github.com/x448/float16"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// Round applies an integral rounding modifier (rni, rzi, rmi, rpi) to a
// float value in place of the instruction's result. Other modes leave the
// value untouched apart from NaN canonicalisation.
func Round(x value.Reg, t isa.Type, r isa.Rounding) (value.Reg, error) {
	switch {
	case t.IsSigned() || t.IsUnsigned():
		if r == isa.RoundNone || r == isa.RN {
			return x, nil
		}
		return x, fmt.Errorf("%w: %s.%s", ErrIntegerRounding, r, t)
	case t == isa.F16:
		f := roundIntegral(float64(x.F16().Float32()), r, isa.RoundNone)
		if r == isa.RZI || r == isa.RNI || r == isa.RMI || r == isa.RPI {
			x = value.FromF16(float16.Fromfloat32(float32(f)))
		}
		return canonicalNaN(x, t), nil
	case t == isa.F32:
		if r == isa.RZI || r == isa.RNI || r == isa.RMI || r == isa.RPI {
			x = value.FromF32(float32(roundIntegral(float64(x.F32()), r, isa.RoundNone)))
		}
		return canonicalNaN(x, t), nil
	case t == isa.F64 || t == isa.FF64:
		x = value.FromF64(roundIntegral(x.F64(), r, isa.RoundNone))
		return canonicalNaN(x, t), nil
	}
	return x, fmt.Errorf("%w: round %s", ErrUnsupportedConversion, t)
}

// Saturate clamps a float value to [0, 1]. NaN becomes the canonical quiet
// NaN of the type rather than a finite value.
func Saturate(x value.Reg, t isa.Type) (value.Reg, error) {
	if t.IsSigned() || t.IsUnsigned() {
		return x, fmt.Errorf("%w: %s", ErrIntegerSaturation, t)
	}
	if !t.IsFloat() {
		return x, fmt.Errorf("%w: saturate %s", ErrUnsupportedConversion, t)
	}
	return saturateBits(x, t, true), nil
}

func canonicalNaN(x value.Reg, t isa.Type) value.Reg {
	switch t {
	case isa.F16:
		if x.F16().IsNaN() {
			return value.FromU64(NaN16)
		}
	case isa.F32:
		if math.IsNaN(float64(x.F32())) {
			return value.FromU64(NaN32)
		}
	case isa.F64, isa.FF64:
		if math.IsNaN(x.F64()) {
			return value.FromU64(NaN64)
		}
	}
	return x
}

func saturateBits(x value.Reg, t isa.Type, sat bool) value.Reg {
	x = canonicalNaN(x, t)
	if !sat {
		return x
	}
	switch t {
	case isa.F16:
		if x.F16().IsNaN() {
			return x
		}
		f := clamp(x.F16().Float32(), 0, 1)
		return value.FromF16(float16.Fromfloat32(f))
	case isa.F32:
		f := x.F32()
		if f != f {
			return x
		}
		return value.FromF32(clamp(f, 0, 1))
	default:
		f := x.F64()
		if math.IsNaN(f) {
			return x
		}
		return value.FromF64(clamp(f, 0, 1))
	}
}

func newIntValue(v int64) *big.Float {
	return new(big.Float).SetInt64(v)
}

func newUintValue(v uint64) *big.Float {
	return new(big.Float).SetUint64(v)
}

func bigMode(r isa.Rounding) big.RoundingMode {
	switch r {
	case isa.RZ, isa.RZI:
		return big.ToZero
	case isa.RM, isa.RMI:
		return big.ToNegativeInf
	case isa.RP, isa.RPI:
		return big.ToPositiveInf
	}
	return big.ToNearestEven
}

func precision(t isa.Type) uint {
	switch t {
	case isa.F16:
		return 11
	case isa.F32:
		return 24
	}
	return 53
}

// intToFloat rounds an exact integer to the destination float format.
func intToFloat(v *big.Float, to isa.Type, r isa.Rounding) value.Reg {
	z := new(big.Float).SetPrec(precision(to)).SetMode(bigMode(r)).Set(v)
	switch to {
	case isa.F16:
		f, _ := z.Float32()
		return value.FromF16(float16.Fromfloat32(f))
	case isa.F32:
		f, _ := z.Float32()
		return value.FromF32(f)
	}
	f, _ := z.Float64()
	return value.FromF64(f)
}

// ArithOp is a binary float operation that honours a rounding modifier.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

// Arith32 computes a op b rounded once to single precision in mode r.
func Arith32(op ArithOp, a, b float32, r isa.Rounding) float32 {
	if directed(r) && finite(float64(a), float64(b)) {
		if z, ok := bigArith(op, float64(a), float64(b), 24, r); ok {
			f, _ := z.Float32()
			return f
		}
	}
	switch op {
	case ArithAdd:
		return a + b
	case ArithSub:
		return a - b
	case ArithMul:
		return a * b
	}
	return a / b
}

// Arith64 computes a op b rounded once to double precision in mode r.
func Arith64(op ArithOp, a, b float64, r isa.Rounding) float64 {
	if directed(r) && finite(a, b) {
		if z, ok := bigArith(op, a, b, 53, r); ok {
			f, _ := z.Float64()
			return f
		}
	}
	switch op {
	case ArithAdd:
		return a + b
	case ArithSub:
		return a - b
	case ArithMul:
		return a * b
	}
	return a / b
}

// Fma32 computes a*b+c with a single rounding to single precision.
func Fma32(a, b, c float32, r isa.Rounding) float32 {
	if finite(float64(a), float64(b), float64(c)) {
		if z, ok := bigFma(float64(a), float64(b), float64(c), 24, r); ok {
			f, _ := z.Float32()
			return f
		}
	}
	return float32(math.FMA(float64(a), float64(b), float64(c)))
}

// Fma64 computes a*b+c with a single rounding to double precision.
func Fma64(a, b, c float64, r isa.Rounding) float64 {
	if directed(r) && finite(a, b, c) {
		if z, ok := bigFma(a, b, c, 53, r); ok {
			f, _ := z.Float64()
			return f
		}
	}
	return math.FMA(a, b, c)
}

func directed(r isa.Rounding) bool {
	return r == isa.RZ || r == isa.RM || r == isa.RP
}

func finite(fs ...float64) bool {
	for _, f := range fs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// bigArith returns false when the exact result is zero, leaving signed
// zero to native arithmetic.
func bigArith(op ArithOp, a, b float64, prec uint, r isa.Rounding) (*big.Float, bool) {
	x, y := big.NewFloat(a), big.NewFloat(b)
	z := new(big.Float).SetPrec(prec).SetMode(bigMode(r))
	switch op {
	case ArithAdd:
		z.Add(x, y)
	case ArithSub:
		z.Sub(x, y)
	case ArithMul:
		z.Mul(x, y)
	case ArithDiv:
		if b == 0 {
			return nil, false
		}
		z.Quo(x, y)
	}
	return z, z.Sign() != 0
}

func bigFma(a, b, c float64, prec uint, r isa.Rounding) (*big.Float, bool) {
	prod := new(big.Float).SetPrec(106).Mul(big.NewFloat(a), big.NewFloat(b))
	z := new(big.Float).SetPrec(prec).SetMode(bigMode(r)).Add(prod, big.NewFloat(c))
	return z, z.Sign() != 0
}
