package vm

import (
	"fmt"
	"math"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// compare evaluates a cmp b at type typ. Ordered float comparisons are false
// when either side is NaN; the unordered forms are true.
func compare(typ isa.Type, cmp isa.CmpOp, a, b value.Reg) (bool, error) {
	switch {
	case typ.IsBits() || typ == isa.Pred:
		w := 64
		if typ.IsBits() {
			w = typ.Bits()
		}
		switch cmp {
		case isa.CmpEQ:
			return a.Bits(w) == b.Bits(w), nil
		case isa.CmpNE:
			return a.Bits(w) != b.Bits(w), nil
		}
	case typ.IsSigned():
		w := typ.Bits()
		x, y := a.Signed(w), b.Signed(w)
		switch cmp {
		case isa.CmpEQ:
			return x == y, nil
		case isa.CmpNE:
			return x != y, nil
		case isa.CmpLT:
			return x < y, nil
		case isa.CmpLE:
			return x <= y, nil
		case isa.CmpGT:
			return x > y, nil
		case isa.CmpGE:
			return x >= y, nil
		}
		return compareUnsigned(cmp, a.Bits(w), b.Bits(w))
	case typ.IsUnsigned():
		w := typ.Bits()
		return compareUnsigned(cmp, a.Bits(w), b.Bits(w))
	case typ == isa.F16:
		return compareFloat(cmp, float64(a.F16().Float32()), float64(b.F16().Float32()))
	case typ == isa.F32:
		return compareFloat(cmp, float64(a.F32()), float64(b.F32()))
	case typ == isa.F64 || typ == isa.FF64:
		return compareFloat(cmp, a.F64(), b.F64())
	}
	return false, fmt.Errorf("%w: %s.%s", ErrMalformedCompare, cmp, typ)
}

func compareUnsigned(cmp isa.CmpOp, x, y uint64) (bool, error) {
	switch cmp {
	case isa.CmpEQ:
		return x == y, nil
	case isa.CmpNE:
		return x != y, nil
	case isa.CmpLT, isa.CmpLO:
		return x < y, nil
	case isa.CmpLE, isa.CmpLS:
		return x <= y, nil
	case isa.CmpGT, isa.CmpHI:
		return x > y, nil
	case isa.CmpGE, isa.CmpHS:
		return x >= y, nil
	}
	return false, fmt.Errorf("%w: %s on integers", ErrMalformedCompare, cmp)
}

func compareFloat(cmp isa.CmpOp, x, y float64) (bool, error) {
	nan := math.IsNaN(x) || math.IsNaN(y)
	switch cmp {
	case isa.CmpEQ:
		return !nan && x == y, nil
	case isa.CmpNE:
		return !nan && x != y, nil
	case isa.CmpLT:
		return !nan && x < y, nil
	case isa.CmpLE:
		return !nan && x <= y, nil
	case isa.CmpGT:
		return !nan && x > y, nil
	case isa.CmpGE:
		return !nan && x >= y, nil
	case isa.CmpEQU:
		return nan || x == y, nil
	case isa.CmpNEU:
		return nan || x != y, nil
	case isa.CmpLTU:
		return nan || x < y, nil
	case isa.CmpLEU:
		return nan || x <= y, nil
	case isa.CmpGTU:
		return nan || x > y, nil
	case isa.CmpGEU:
		return nan || x >= y, nil
	case isa.CmpNUM:
		return !nan, nil
	case isa.CmpNAN:
		return nan, nil
	}
	return false, fmt.Errorf("%w: %s on floats", ErrMalformedCompare, cmp)
}

// combine applies the optional boolean operator of setp and set to the
// comparison result and the predicate in operand 3.
func (e *Engine) combine(t *Thread, inst *isa.Instruction, cond bool) (bool, error) {
	if inst.BoolOp == isa.BoolNone {
		return cond, nil
	}
	p, err := e.read(t, inst.Src(3), inst.Dst(), isa.Pred, false)
	if err != nil {
		return false, err
	}
	c := p.True() != inst.Src(3).Neg
	switch inst.BoolOp {
	case isa.BoolAnd:
		return cond && c, nil
	case isa.BoolOr:
		return cond || c, nil
	case isa.BoolXor:
		return cond != c, nil
	}
	return false, fmt.Errorf("%w: boolean operator %s", ErrMalformedCompare, inst.BoolOp)
}

func (e *Engine) setp(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	cond, err := compare(typ, inst.Cmp, s[0], s[1])
	if err != nil {
		return err
	}
	if cond, err = e.combine(t, inst, cond); err != nil {
		return err
	}
	return e.write(t, inst.Dst(), value.FromCond(cond), isa.Pred)
}

// set compares at the source type and writes 1.0 or 0.0 for float
// destinations, all ones or zero otherwise.
func (e *Engine) set(t *Thread, inst *isa.Instruction) error {
	src := inst.SrcType
	if src == isa.TypeNone {
		src = inst.Type
	}
	s, err := e.srcs(t, inst, src, 2)
	if err != nil {
		return err
	}
	cond, err := compare(src, inst.Cmp, s[0], s[1])
	if err != nil {
		return err
	}
	if cond, err = e.combine(t, inst, cond); err != nil {
		return err
	}
	var d value.Reg
	switch {
	case inst.Type.IsFloat() && cond:
		d = value.FromF32(1)
	case inst.Type.IsFloat():
		d = value.FromF32(0)
	case cond:
		d = value.FromU64(0xFFFFFFFF)
	}
	return e.write(t, inst.Dst(), d, inst.Type)
}

// selp writes a when the predicate in operand 3 holds, b otherwise.
func (e *Engine) selp(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	p, err := e.read(t, inst.Src(3), inst.Dst(), isa.Pred, false)
	if err != nil {
		return err
	}
	d := s[1]
	if p.True() {
		d = s[0]
	}
	return e.write(t, inst.Dst(), d, typ)
}

// slct writes a when the s32 or f32 operand 3 is non-negative, b otherwise.
func (e *Engine) slct(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	c, err := e.read(t, inst.Src(3), inst.Dst(), inst.SrcType, true)
	if err != nil {
		return err
	}
	var take bool
	switch inst.SrcType {
	case isa.S32:
		take = c.S32() >= 0
	case isa.F32:
		take = c.F32() >= 0
	default:
		return unsupported(inst, inst.SrcType)
	}
	d := s[1]
	if take {
		d = s[0]
	}
	if w := typ.Bits(); w == 8 || w == 16 || w == 32 {
		d = value.FromU64(d.Bits(w))
	}
	return e.write(t, inst.Dst(), d, typ)
}
