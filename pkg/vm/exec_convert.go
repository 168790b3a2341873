package vm

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/convert"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// cvt converts the source from SrcType to Type. A negated source is
// negated at the source width before conversion.
func (e *Engine) cvt(t *Thread, inst *isa.Instruction) error {
	from := inst.SrcType
	if from == isa.TypeNone {
		from = inst.Type
	}
	v, err := e.read(t, inst.Src(1), inst.Dst(), from, true)
	if err != nil {
		return err
	}
	d, err := convert.Convert(v, from, inst.Type, inst.Rounding, inst.Sat)
	if err != nil {
		return fmt.Errorf("cvt%s: %w", suffix(inst), err)
	}
	return e.write(t, inst.Dst(), d, inst.Type)
}

func suffix(inst *isa.Instruction) string {
	s := ""
	if inst.Rounding != isa.RoundNone {
		s += "." + inst.Rounding.String()
	}
	return s + "." + inst.Type.String() + "." + inst.SrcType.String()
}

// cvta converts an address between the generic window and shared, local
// or global space.
func (e *Engine) cvta(t *Thread, inst *isa.Instruction) error {
	src, err := e.read(t, inst.Src(1), inst.Dst(), inst.Type, true)
	if err != nil {
		return err
	}
	var addr uint64
	if inst.ToSpace {
		addr, err = e.resolver.FromGeneric(inst.Space, src.U64(), t.target())
	} else {
		addr, err = e.resolver.ToGeneric(inst.Space, src.U64(), t.target())
	}
	if err != nil {
		return err
	}
	return e.write(t, inst.Dst(), value.FromU64(addr), inst.Type)
}

// isspacep sets the predicate when a generic address falls in the thread's
// window of the instruction's space.
func (e *Engine) isspacep(t *Thread, inst *isa.Instruction) error {
	a, err := e.read(t, inst.Src(1), inst.Dst(), isa.U64, true)
	if err != nil {
		return err
	}
	in, err := e.resolver.InSpace(inst.Space, a.U64(), t.target())
	if err != nil {
		return err
	}
	return e.write(t, inst.Dst(), value.FromCond(in), isa.Pred)
}

func (e *Engine) mov(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	src, dst := inst.Src(1), inst.Dst()
	aggregate := typ == isa.BB64 || typ == isa.BB128 || typ == isa.FF64

	switch {
	case (src.IsVector() || dst.IsVector()) && !aggregate:
		return e.pack(t, inst)
	case typ == isa.Pred && src.Kind == isa.OperandLiteral:
		// A literal predicate is 1 for true; the register form stores 0 for true.
		return e.write(t, dst, value.FromCond(src.Bits != 0), typ)
	}
	v, err := e.read(t, src, dst, typ, true)
	if err != nil {
		return err
	}
	return e.write(t, dst, v, typ)
}

// pack moves between a scalar and a vector. The scalar's width is split
// evenly over the vector lanes, lane 0 holding the least significant bits.
func (e *Engine) pack(t *Thread, inst *isa.Instruction) error {
	var width int
	switch inst.Type {
	case isa.B16:
		width = 16
	case isa.B32, isa.U32, isa.F32:
		width = 32
	case isa.B64:
		width = 64
	default:
		return fmt.Errorf("%w: mov pack/unpack of %s", ErrUnsupportedType, inst.Type)
	}
	src, dst := inst.Src(1), inst.Dst()

	var bits uint64
	if src.IsVector() {
		n := len(src.Vec)
		per, err := laneWidth(width, n)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			v, err := e.lane(t, src.VecSym(i))
			if err != nil {
				return err
			}
			bits |= v.Bits(per) << (per * i)
		}
	} else {
		v, err := e.read(t, src, dst, inst.Type, true)
		if err != nil {
			return err
		}
		bits = v.Bits(width)
	}

	if !dst.IsVector() {
		return e.write(t, dst, value.FromU64(bits), inst.Type)
	}
	n := len(dst.Vec)
	per, err := laneWidth(width, n)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		t.SetReg(dst.VecSym(i), value.FromU64(bits>>(per*i)&value.Mask(per)))
	}
	return nil
}

func laneWidth(width, lanes int) (int, error) {
	if lanes == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrUnsupportedOperand)
	}
	switch per := width / lanes; per {
	case 8, 16, 32:
		if per*lanes == width {
			return per, nil
		}
	}
	return 0, fmt.Errorf("%w: %d-bit value over %d lanes", ErrUnsupportedOperand, width, lanes)
}
