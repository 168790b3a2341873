package vm

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/x448/float16"

	"github.com/akhildatla/warpsim/pkg/convert"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// srcs reads the first n source operands at type typ.
func (e *Engine) srcs(t *Thread, inst *isa.Instruction, typ isa.Type, n int) ([3]value.Reg, error) {
	var v [3]value.Reg
	for i := 0; i < n; i++ {
		r, err := e.read(t, inst.Src(i+1), inst.Dst(), typ, true)
		if err != nil {
			return v, err
		}
		v[i] = r
	}
	return v, nil
}

func isInteger(typ isa.Type) bool {
	return typ.IsSigned() || typ.IsUnsigned() || typ.IsBits()
}

// arithRounding rejects integral rounding modes on arithmetic.
func arithRounding(inst *isa.Instruction) (isa.Rounding, error) {
	switch inst.Rounding {
	case isa.RNI, isa.RZI, isa.RMI, isa.RPI:
		return 0, fmt.Errorf("%w: %s.%s", ErrBadRounding, inst.Op, inst.Rounding)
	}
	return inst.Rounding, nil
}

// addInt adds at width w and reports carry out and signed overflow.
func addInt(a, b, cin uint64, w int) (sum uint64, carry, overflow bool) {
	m := value.Mask(w)
	if w == 64 {
		var c uint64
		sum, c = bits.Add64(a, b, cin)
		carry = c != 0
	} else {
		s := a&m + b&m + cin
		carry = s>>uint(w)&1 != 0
		sum = s & m
	}
	sign := uint64(1) << uint(w-1)
	overflow = a&sign == b&sign && a&sign != sum&sign
	return sum, carry, overflow
}

// subInt subtracts at width w. carry is set when no borrow occurred.
func subInt(a, b uint64, w int) (diff uint64, carry, overflow bool) {
	m := value.Mask(w)
	diff = (a - b) & m
	carry = a&m >= b&m
	sign := uint64(1) << uint(w-1)
	overflow = a&sign != b&sign && a&sign != diff&sign
	return diff, carry, overflow
}

func saturateS32(v int64) int64 {
	return max(min(v, math.MaxInt32), math.MinInt32)
}

// floatArith computes a op b at float type typ.
func floatArith(op convert.ArithOp, a, b value.Reg, typ isa.Type, r isa.Rounding, sat bool) (value.Reg, error) {
	var v value.Reg
	switch typ {
	case isa.F16:
		f := convert.Arith32(op, a.F16().Float32(), b.F16().Float32(), r)
		v = value.FromF16(float16.Fromfloat32(f))
	case isa.F32:
		v = value.FromF32(convert.Arith32(op, a.F32(), b.F32(), r))
	case isa.F64, isa.FF64:
		v = value.FromF64(convert.Arith64(op, a.F64(), b.F64(), r))
	default:
		return v, fmt.Errorf("%w: float arithmetic on %s", ErrUnsupportedType, typ)
	}
	if sat {
		return convert.Saturate(v, typ)
	}
	return v, nil
}

func (e *Engine) add(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	switch {
	case isInteger(typ):
		sum, carry, ovf := addInt(s[0].U64(), s[1].U64(), 0, typ.Bits())
		if inst.Sat && typ == isa.S32 {
			sum = uint64(saturateS32(s[0].Signed(32)+s[1].Signed(32))) & value.Mask(32)
		}
		return e.writeFlags(t, inst.Dst(), value.FromU64(sum), typ, carry, ovf && typ.IsSigned())
	case typ.IsFloat():
		r, err := arithRounding(inst)
		if err != nil {
			return err
		}
		v, err := floatArith(convert.ArithAdd, s[0], s[1], typ, r, inst.Sat)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), v, typ)
	}
	return unsupported(inst, typ)
}

// addp adds with the carry flag of the third operand's predicate.
func (e *Engine) addp(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if !isInteger(typ) {
		return e.add(t, inst)
	}
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	p, err := e.read(t, inst.Src(3), inst.Dst(), isa.Pred, false)
	if err != nil {
		return err
	}
	cin := p.U64() >> 2 & 1
	sum, carry, ovf := addInt(s[0].U64(), s[1].U64(), cin, typ.Bits())
	return e.writeFlags(t, inst.Dst(), value.FromU64(sum), typ, carry, ovf && typ.IsSigned())
}

func (e *Engine) sub(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	switch {
	case isInteger(typ):
		diff, carry, ovf := subInt(s[0].U64(), s[1].U64(), typ.Bits())
		if inst.Sat && typ == isa.S32 {
			diff = uint64(saturateS32(s[0].Signed(32)-s[1].Signed(32))) & value.Mask(32)
		}
		return e.writeFlags(t, inst.Dst(), value.FromU64(diff), typ, carry, ovf && typ.IsSigned())
	case typ.IsFloat():
		r, err := arithRounding(inst)
		if err != nil {
			return err
		}
		v, err := floatArith(convert.ArithSub, s[0], s[1], typ, r, inst.Sat)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), v, typ)
	}
	return unsupported(inst, typ)
}

// mulInt returns the double-width product of a and b at width w as
// (hi, lo) halves of w bits each.
func mulInt(a, b uint64, w int, signed bool) (hi, lo uint64) {
	m := value.Mask(w)
	if w == 64 {
		h, l := bits.Mul64(a, b)
		if signed {
			// Correct the unsigned high word for negative operands.
			if int64(a) < 0 {
				h -= b
			}
			if int64(b) < 0 {
				h -= a
			}
		}
		return h, l
	}
	var p uint64
	if signed {
		p = uint64(value.SignExtend(a, w) * value.SignExtend(b, w))
	} else {
		p = (a & m) * (b & m)
	}
	return p >> uint(w) & m, p & m
}

// wide joins the halves of a double-width product.
func wide(hi, lo uint64, w int) uint64 {
	return hi<<uint(w) | lo
}

func (e *Engine) mul(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	switch {
	case isInteger(typ):
		w := typ.Bits()
		hi, lo := mulInt(s[0].U64(), s[1].U64(), w, typ.IsSigned())
		var d uint64
		switch inst.Mul {
		case isa.MulHi:
			d = hi
		case isa.MulWide:
			if w == 64 {
				return fmt.Errorf("%w: mul.wide.%s", ErrUnsupportedType, typ)
			}
			d = wide(hi, lo, w)
		default:
			d = lo
		}
		if inst.Mul == isa.MulWide {
			return e.write(t, inst.Dst(), value.FromU64(d), wideType(typ))
		}
		return e.write(t, inst.Dst(), value.FromU64(d), typ)
	case typ.IsFloat():
		r, err := arithRounding(inst)
		if err != nil {
			return err
		}
		v, err := floatArith(convert.ArithMul, s[0], s[1], typ, r, inst.Sat)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), v, typ)
	}
	return unsupported(inst, typ)
}

// wideType returns the integer type of twice the width of typ.
func wideType(typ isa.Type) isa.Type {
	switch typ {
	case isa.S8:
		return isa.S16
	case isa.S16:
		return isa.S32
	case isa.S32:
		return isa.S64
	case isa.U8, isa.B8:
		return isa.U16
	case isa.U16, isa.B16:
		return isa.U32
	case isa.U32, isa.B32:
		return isa.U64
	}
	return typ
}

// mul24 multiplies the low 24 bits of each operand. .hi keeps bits 16..47
// of the 48-bit product.
func mul24(a, b uint64, signed, hi bool) uint64 {
	x, y := a&0xFFFFFF, b&0xFFFFFF
	var p uint64
	if signed {
		p = uint64(value.SignExtend(x, 24) * value.SignExtend(y, 24))
	} else {
		p = x * y
	}
	if hi {
		return p >> 16 & 0xFFFFFFFF
	}
	return p & 0xFFFFFFFF
}

func (e *Engine) mul24(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if typ != isa.S32 && typ != isa.U32 {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	d := mul24(s[0].U64(), s[1].U64(), typ == isa.S32, inst.Mul == isa.MulHi)
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

func (e *Engine) mad24(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if typ != isa.S32 && typ != isa.U32 {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 3)
	if err != nil {
		return err
	}
	p := mul24(s[0].U64(), s[1].U64(), typ == isa.S32, inst.Mul == isa.MulHi)
	var d uint64
	if typ == isa.S32 {
		sum := int64(int32(p)) + s[2].Signed(32)
		if inst.Sat && inst.Mul == isa.MulHi {
			sum = saturateS32(sum)
		}
		d = uint64(sum) & value.Mask(32)
	} else {
		d = (p + s[2].U64()) & value.Mask(32)
	}
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

// mad computes a*b+c. madp and madc add the carry flag of the fourth source
// and report the carry out of the low half.
func (e *Engine) mad(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	useCarry := inst.Op == isa.OpMadp || inst.Op == isa.OpMadc
	s, err := e.srcs(t, inst, typ, 3)
	if err != nil {
		return err
	}

	if typ.IsFloat() {
		if useCarry {
			return unsupported(inst, typ)
		}
		r, err := arithRounding(inst)
		if err != nil {
			return err
		}
		var v value.Reg
		switch typ {
		case isa.F16:
			f := convert.Fma32(s[0].F16().Float32(), s[1].F16().Float32(), s[2].F16().Float32(), r)
			v = value.FromF16(float16.Fromfloat32(f))
		case isa.F32:
			p := convert.Arith32(convert.ArithMul, s[0].F32(), s[1].F32(), r)
			v = value.FromF32(convert.Arith32(convert.ArithAdd, p, s[2].F32(), r))
		default:
			p := convert.Arith64(convert.ArithMul, s[0].F64(), s[1].F64(), r)
			v = value.FromF64(convert.Arith64(convert.ArithAdd, p, s[2].F64(), r))
		}
		if inst.Sat {
			if v, err = convert.Saturate(v, typ); err != nil {
				return err
			}
		}
		return e.write(t, inst.Dst(), v, typ)
	}
	if !isInteger(typ) {
		return unsupported(inst, typ)
	}

	var cin uint64
	if useCarry {
		p, err := e.read(t, inst.Operand(4), inst.Dst(), isa.Pred, false)
		if err != nil {
			return err
		}
		cin = p.U64() >> 2 & 1
	}

	w := typ.Bits()
	hi, lo := mulInt(s[0].U64(), s[1].U64(), w, typ.IsSigned())
	var (
		d     uint64
		carry bool
		dtyp  = typ
	)
	switch inst.Mul {
	case isa.MulHi:
		d, carry, _ = addInt(hi, s[2].U64(), cin, w)
	case isa.MulWide:
		if w == 64 {
			return fmt.Errorf("%w: mad.wide.%s", ErrUnsupportedType, typ)
		}
		dtyp = wideType(typ)
		c, err := e.read(t, inst.Src(3), inst.Dst(), dtyp, true)
		if err != nil {
			return err
		}
		d, carry, _ = addInt(wide(hi, lo, w), c.U64(), cin, 2*w)
	default:
		d, carry, _ = addInt(lo, s[2].U64(), cin, w)
	}
	if inst.Sat && typ == isa.S32 && inst.Mul == isa.MulHi {
		d = uint64(saturateS32(value.SignExtend(hi, 32)+s[2].Signed(32)+int64(cin))) & value.Mask(32)
	}
	return e.writeFlags(t, inst.Dst(), value.FromU64(d), dtyp, carry, false)
}

func (e *Engine) fma(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 3)
	if err != nil {
		return err
	}
	r, err := arithRounding(inst)
	if err != nil {
		return err
	}
	var v value.Reg
	switch typ {
	case isa.F16:
		f := convert.Fma32(s[0].F16().Float32(), s[1].F16().Float32(), s[2].F16().Float32(), r)
		v = value.FromF16(float16.Fromfloat32(f))
	case isa.F32:
		v = value.FromF32(convert.Fma32(s[0].F32(), s[1].F32(), s[2].F32(), r))
	case isa.F64, isa.FF64:
		v = value.FromF64(convert.Fma64(s[0].F64(), s[1].F64(), s[2].F64(), r))
	default:
		return unsupported(inst, typ)
	}
	if inst.Sat {
		if v, err = convert.Saturate(v, typ); err != nil {
			return err
		}
	}
	return e.write(t, inst.Dst(), v, typ)
}

func (e *Engine) div(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	switch {
	case isInteger(typ):
		w := typ.Bits()
		b := s[1].Bits(w)
		if b == 0 {
			return ErrDivideByZero
		}
		var d uint64
		if typ.IsSigned() {
			x, y := s[0].Signed(w), s[1].Signed(w)
			if y == -1 {
				d = uint64(-x) // wraps for the minimum value
			} else {
				d = uint64(x / y)
			}
		} else {
			d = s[0].Bits(w) / b
		}
		return e.write(t, inst.Dst(), value.FromU64(d&value.Mask(w)), typ)
	case typ.IsFloat():
		r, err := arithRounding(inst)
		if err != nil {
			return err
		}
		if inst.Approx {
			r = isa.RoundNone
		}
		v, err := floatArith(convert.ArithDiv, s[0], s[1], typ, r, inst.Sat)
		if err != nil {
			return err
		}
		return e.write(t, inst.Dst(), v, typ)
	}
	return unsupported(inst, typ)
}

func (e *Engine) rem(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if !isInteger(typ) {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	w := typ.Bits()
	if s[1].Bits(w) == 0 {
		return ErrDivideByZero
	}
	var d uint64
	if typ.IsSigned() {
		x, y := s[0].Signed(w), s[1].Signed(w)
		if y == -1 {
			d = 0
		} else {
			d = uint64(x % y)
		}
	} else {
		d = s[0].Bits(w) % s[1].Bits(w)
	}
	return e.write(t, inst.Dst(), value.FromU64(d&value.Mask(w)), typ)
}

func (e *Engine) abs(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	a := s[0]
	var d value.Reg
	switch {
	case typ.IsSigned():
		w := typ.Bits()
		x := a.Signed(w)
		if x < 0 {
			x = -x
		}
		d = value.FromU64(uint64(x) & value.Mask(w))
	case typ.IsUnsigned():
		d = value.FromU64(a.Bits(typ.Bits()))
	case typ == isa.F16:
		d = value.FromU64(a.U64() & 0x7FFF)
	case typ == isa.F32:
		d = value.FromF32(float32(math.Abs(float64(a.F32()))))
	case typ == isa.F64 || typ == isa.FF64:
		d = value.FromF64(math.Abs(a.F64()))
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), d, typ)
}

func (e *Engine) neg(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	a := s[0]
	var d value.Reg
	switch {
	case typ.IsSigned():
		w := typ.Bits()
		d = value.FromU64(-a.U64() & value.Mask(w))
	case typ == isa.F16:
		d = value.FromF16(float16.Fromfloat32(0 - a.F16().Float32()))
	case typ == isa.F32:
		d = value.FromF32(0 - a.F32())
	case typ == isa.F64 || typ == isa.FF64:
		d = value.FromF64(0 - a.F64())
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), d, typ)
}

// minmax selects the larger (max) or smaller of two sources. A NaN float
// operand yields the other operand.
func (e *Engine) minmax(t *Thread, inst *isa.Instruction, isMax bool) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	a, b := s[0], s[1]
	var d value.Reg
	switch {
	case typ.IsSigned():
		w := typ.Bits()
		x, y := a.Signed(w), b.Signed(w)
		d = value.FromU64(uint64(pick(x, y, isMax)) & value.Mask(w))
	case typ.IsUnsigned():
		w := typ.Bits()
		d = value.FromU64(pick(a.Bits(w), b.Bits(w), isMax))
	case typ == isa.F32:
		d = value.FromF32(float32(pickFloat(float64(a.F32()), float64(b.F32()), isMax)))
	case typ == isa.F64 || typ == isa.FF64:
		d = value.FromF64(pickFloat(a.F64(), b.F64(), isMax))
	case typ == isa.F16:
		f := pickFloat(float64(a.F16().Float32()), float64(b.F16().Float32()), isMax)
		d = value.FromF16(float16.Fromfloat32(float32(f)))
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), d, typ)
}

func pick[T int64 | uint64](a, b T, isMax bool) T {
	if isMax == (a > b) {
		return a
	}
	return b
}

func pickFloat(a, b float64, isMax bool) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case isMax && a > b, !isMax && a < b:
		return a
	}
	return b
}

// sad computes c + |a - b|.
func (e *Engine) sad(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 3)
	if err != nil {
		return err
	}
	a, b, c := s[0], s[1], s[2]
	var d value.Reg
	switch {
	case typ.IsSigned():
		w := typ.Bits()
		x, y := a.Signed(w), b.Signed(w)
		diff := x - y
		if x < y {
			diff = y - x
		}
		d = value.FromU64(uint64(c.Signed(w)+diff) & value.Mask(w))
	case typ.IsUnsigned():
		w := typ.Bits()
		x, y := a.Bits(w), b.Bits(w)
		diff := x - y
		if x < y {
			diff = y - x
		}
		d = value.FromU64((c.Bits(w) + diff) & value.Mask(w))
	case typ == isa.F32:
		d = value.FromF32(c.F32() + float32(math.Abs(float64(a.F32()-b.F32()))))
	case typ == isa.F64 || typ == isa.FF64:
		d = value.FromF64(c.F64() + math.Abs(a.F64()-b.F64()))
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), d, typ)
}

// copysign writes the magnitude of the second source with the sign of the
// first.
func (e *Engine) copysign(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if typ == isa.TypeNone {
		typ = isa.F32
	}
	var a, b value.Reg
	var err error
	if inst.NumOperands() == 2 {
		// copysignf d, a: d takes its own magnitude and the sign of a.
		if b, err = e.read(t, inst.Dst(), inst.Dst(), typ, true); err != nil {
			return err
		}
		if a, err = e.read(t, inst.Src(1), inst.Dst(), typ, true); err != nil {
			return err
		}
	} else {
		s, err := e.srcs(t, inst, typ, 2)
		if err != nil {
			return err
		}
		a, b = s[0], s[1]
	}
	switch typ {
	case isa.F32:
		return e.write(t, inst.Dst(), value.FromF32(float32(math.Copysign(float64(b.F32()), float64(a.F32())))), typ)
	case isa.F64, isa.FF64:
		return e.write(t, inst.Dst(), value.FromF64(math.Copysign(b.F64(), a.F64())), typ)
	}
	return unsupported(inst, typ)
}

// unaryFloat implements rcp, sqrt, rsqrt, sin, cos, lg2 and ex2.
func (e *Engine) unaryFloat(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	a := s[0]
	var f func(float64) float64
	switch inst.Op {
	case isa.OpRcp:
		f = func(x float64) float64 { return 1 / x }
	case isa.OpSqrt:
		f = func(x float64) float64 {
			if x < 0 {
				return math.NaN()
			}
			return math.Sqrt(x)
		}
	case isa.OpRsqrt:
		f = func(x float64) float64 {
			switch {
			case x < 0:
				return math.NaN()
			case x == 0:
				return math.Inf(1)
			}
			return 1 / math.Sqrt(x)
		}
	case isa.OpSin:
		f = math.Sin
	case isa.OpCos:
		f = math.Cos
	case isa.OpLg2:
		f = math.Log2
	case isa.OpEx2:
		f = math.Exp2
	}

	var d value.Reg
	switch typ {
	case isa.F32:
		d = value.FromF32(float32(f(float64(a.F32()))))
		if inst.FTZ && isSubnormal32(d.F32()) {
			d = value.FromF32(float32(math.Copysign(0, float64(d.F32()))))
		}
	case isa.F64, isa.FF64:
		switch inst.Op {
		case isa.OpSin, isa.OpCos, isa.OpLg2, isa.OpEx2:
			return unsupported(inst, typ)
		}
		d = value.FromF64(f(a.F64()))
	case isa.F16:
		d = value.FromF16(float16.Fromfloat32(float32(f(float64(a.F16().Float32())))))
	default:
		return unsupported(inst, typ)
	}
	if inst.Sat {
		if d, err = convert.Saturate(d, typ); err != nil {
			return err
		}
	}
	return e.write(t, inst.Dst(), d, typ)
}

func isSubnormal32(f float32) bool {
	b := math.Float32bits(f)
	return b&0x7F800000 == 0 && b&0x007FFFFF != 0
}
