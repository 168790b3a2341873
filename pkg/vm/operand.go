package vm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// reg reads a register of the current frame. A register read before it is
// written yields zero.
func (e *Engine) reg(t *Thread, sym *isa.Symbol) (value.Reg, error) {
	if sym == nil {
		return value.Reg{}, fmt.Errorf("%w: missing register", ErrUnsupportedOperand)
	}
	if sym.IsDiscard() {
		return value.Reg{}, ErrDiscardRead
	}
	v, ok := t.Reg(sym)
	if !ok {
		e.undefined(t, sym)
		t.SetReg(sym, value.Reg{})
	}
	return v, nil
}

// lane reads one register of a vector operand. Discard lanes read as zero.
func (e *Engine) lane(t *Thread, sym *isa.Symbol) (value.Reg, error) {
	if sym.IsDiscard() {
		return value.Reg{}, nil
	}
	return e.reg(t, sym)
}

func (e *Engine) undefined(t *Thread, sym *isa.Symbol) {
	if !e.cfg.WarnUndefinedRegisters {
		return
	}
	e.mu.Lock()
	warned := e.warnedUndef
	e.warnedUndef = true
	e.mu.Unlock()
	if !warned {
		e.log.WithFields(logrus.Fields{
			"register": sym.Name,
			"tid":      t.Tid.String(),
			"pc":       t.PC,
		}).Warn("register read before written, using zero (reported once)")
	}
}

// read evaluates op as a source of type typ. dst is the destination of the
// instruction and selects the width loads are sign-extended to. With deref,
// memory operands are loaded and negation is applied.
func (e *Engine) read(t *Thread, op, dst *isa.Operand, typ isa.Type, deref bool) (value.Reg, error) {
	var (
		v   value.Reg
		err error
	)
	aggregate := typ == isa.BB128 || typ == isa.BB64 || typ == isa.FF64
	switch {
	case op.Double == isa.DoubleNone && (!aggregate || op.Space != isa.SpaceUndefined || !op.IsVector()):
		v, err = e.scalar(t, op)
		if err != nil {
			return v, err
		}
		v = lohi(v, op.LoHi)
	case op.Double == isa.DoubleNone && typ == isa.BB128:
		for i := 0; i < 4; i++ {
			r, err := e.lane(t, op.VecSym(i))
			if err != nil {
				return v, err
			}
			v = v.WithLane(i, r.U32())
		}
	case op.Double == isa.DoubleNone:
		ls, err := e.lane(t, op.VecSym(0))
		if err != nil {
			return v, err
		}
		ms, err := e.lane(t, op.VecSym(1))
		if err != nil {
			return v, err
		}
		v = value.FromHalves(ls.U32(), ms.U32())
	case op.Double == isa.DoubleAdd:
		a, err := e.reg(t, op.VecSym(0))
		if err != nil {
			return v, err
		}
		b, err := e.reg(t, op.VecSym(1))
		if err != nil {
			return v, err
		}
		v = value.FromU64(a.U64() + lohi(b, op.LoHi).U64())
	case op.Double == isa.DoublePostInc:
		if v, err = e.reg(t, op.VecSym(0)); err != nil {
			return v, err
		}
		inc, err := e.reg(t, op.VecSym(1))
		if err != nil {
			return v, err
		}
		t.SetReg(op.VecSym(0), value.FromU64(v.U64()+inc.U64()))
	case op.Double == isa.DoublePostImm:
		if v, err = e.reg(t, op.Sym); err != nil {
			return v, err
		}
		t.SetReg(op.Sym, value.FromU64(v.U64()+uint64(op.Offset)))
	default:
		return v, fmt.Errorf("%w: double operand type %d as source", ErrUnsupportedOperand, op.Double)
	}

	if deref && isDataSpace(op.Space) {
		if v, err = e.derefLoad(t, op, dst, typ, v.U64()); err != nil {
			return v, err
		}
	}
	if op.Neg && deref {
		return negate(v, typ)
	}
	return v, nil
}

// scalar evaluates a non-paired operand without dereferencing it.
func (e *Engine) scalar(t *Thread, op *isa.Operand) (value.Reg, error) {
	switch op.Kind {
	case isa.OperandReg:
		return e.reg(t, op.Sym)
	case isa.OperandBuiltin:
		return value.FromU64(e.builtin(t, op.Builtin, op.Dim)), nil
	case isa.OperandImmAddress:
		return value.FromU64(uint64(op.Offset)), nil
	case isa.OperandMemory:
		return e.memoryAddress(t, op)
	case isa.OperandLiteral:
		return value.Reg{Lo: op.Bits, Hi: op.BitsHi}, nil
	case isa.OperandSymbol:
		if op.Sym == nil {
			return value.Reg{}, fmt.Errorf("%w: symbol operand without symbol", ErrUnsupportedOperand)
		}
		switch op.Sym.Kind {
		case isa.SymLabel, isa.SymFunc:
			return value.FromU64(uint64(op.Sym.PC)), nil
		case isa.SymReg:
			return e.reg(t, op.Sym)
		}
		return value.FromU64(op.Sym.Address), nil
	case isa.OperandFunction:
		if op.Func == nil {
			return value.Reg{}, fmt.Errorf("%w: function operand without callee", ErrUnsupportedOperand)
		}
		return value.FromU64(uint64(op.Func.Start)), nil
	}
	return value.Reg{}, fmt.Errorf("%w: %s operand as scalar source", ErrUnsupportedOperand, op.Kind)
}

// memoryAddress computes the address named by a [base+offset] operand.
func (e *Engine) memoryAddress(t *Thread, op *isa.Operand) (value.Reg, error) {
	if op.Sym == nil {
		return value.FromU64(uint64(op.Offset)), nil
	}
	if op.Sym.Kind == isa.SymReg {
		base, err := e.reg(t, op.Sym)
		if err != nil {
			return base, err
		}
		return value.FromU64(base.U64() + uint64(op.Offset)), nil
	}
	switch op.Sym.Kind {
	case isa.SymParamKernel, isa.SymParamLocal, isa.SymLocal, isa.SymConst, isa.SymGlobal,
		isa.SymShared, isa.SymSStarr, isa.SymTex, isa.SymSurf:
		return value.FromU64(op.Sym.Address + uint64(op.Offset)), nil
	}
	return value.Reg{}, fmt.Errorf("%w: memory operand on %s symbol '%s'", ErrUnsupportedOperand, op.Sym.Kind, op.Sym.Name)
}

func isDataSpace(s isa.Space) bool {
	switch s {
	case isa.SpaceGlobal, isa.SpaceShared, isa.SpaceConst, isa.SpaceLocal:
		return true
	}
	return false
}

// derefLoad reads an explicit-space memory operand.
func (e *Engine) derefLoad(t *Thread, op, dst *isa.Operand, typ isa.Type, addr uint64) (value.Reg, error) {
	store, err := t.Bank.For(op.Space)
	if err != nil {
		return value.Reg{}, err
	}
	size := typ.Bytes()
	v, err := store.Read(addr, size)
	if err != nil {
		return v, err
	}
	t.LastAccess = Access{Valid: true, Space: op.Space, Addr: addr, Size: size}
	return extendLoad(v, typ, dst), nil
}

// extendLoad sign-extends an s16 or s32 load to the width of a wider
// destination register.
func extendLoad(v value.Reg, typ isa.Type, dst *isa.Operand) value.Reg {
	if (typ != isa.S16 && typ != isa.S32) || dst == nil || !dst.IsReg() || dst.Sym == nil {
		return v
	}
	if w := dst.Sym.Type.Bits(); w > typ.Bits() && w <= 64 {
		return value.FromU64(uint64(v.Signed(typ.Bits())) & value.Mask(w))
	}
	return v
}

// negate applies source negation at the width of typ.
func negate(v value.Reg, typ isa.Type) (value.Reg, error) {
	switch typ {
	case isa.S8, isa.S16, isa.S32, isa.S64, isa.U8, isa.U16, isa.U32, isa.U64,
		isa.B8, isa.B16, isa.B32, isa.B64:
		w := typ.Bits()
		return value.FromU64(-v.U64() & value.Mask(w)), nil
	case isa.F16:
		return value.FromU64(v.U64() ^ 0x8000), nil
	case isa.F32:
		return value.FromF32(-v.F32()), nil
	case isa.F64, isa.FF64:
		return value.FromF64(-v.F64()), nil
	}
	return v, fmt.Errorf("%w: negation of %s operand", ErrUnsupportedType, typ)
}

func lohi(v value.Reg, sel int) value.Reg {
	switch sel {
	case 1:
		return value.FromU64(v.U64() & 0xFFFF)
	case 2:
		return value.FromU64(v.U64() >> 16 & 0xFFFF)
	}
	return v
}

// write stores v of type typ into dst.
func (e *Engine) write(t *Thread, dst *isa.Operand, v value.Reg, typ isa.Type) error {
	switch dst.Space {
	case isa.SpaceUndefined:
	case isa.SpaceGlobal, isa.SpaceShared, isa.SpaceLocal:
		addr, err := e.read(t, dst, dst, typ, false)
		if err != nil {
			return err
		}
		store, err := t.Bank.For(dst.Space)
		if err != nil {
			return err
		}
		size := typ.Bytes()
		if err := store.Write(addr.U64(), size, v); err != nil {
			return err
		}
		t.LastAccess = Access{Valid: true, Space: dst.Space, Addr: addr.U64(), Size: size, Write: true}
		return nil
	default:
		return fmt.Errorf("%w: destination in %s space", ErrBadAddressSpace, dst.Space)
	}

	switch {
	case dst.Double == isa.DoublePredPair:
		var second value.Reg
		switch {
		case typ.IsFloat() && v.U64() == 0:
			second = value.FromF32(1)
		case typ.IsFloat():
			second = value.FromF32(0)
		case v.U64() == 0:
			second = value.FromU64(0xFFFFFFFF)
		}
		t.SetReg(dst.VecSym(0), v)
		t.SetReg(dst.VecSym(1), second)
	case dst.Double == isa.DoublePredFlags || dst.Double == isa.DoublePredReg:
		pred, err := zeroSignFlags(v, typ)
		if err != nil {
			return err
		}
		reg := dst.VecSym(1)
		old, _ := t.Reg(reg)
		t.SetReg(dst.VecSym(0), value.FromU64(pred))
		t.SetReg(reg, merge(old, v, dst.LoHi))
	case dst.Double != isa.DoubleNone:
		return fmt.Errorf("%w: double operand type %d as destination", ErrUnsupportedOperand, dst.Double)
	case typ == isa.BB128 && dst.IsVector():
		for i := 0; i < 4; i++ {
			t.SetReg(dst.VecSym(i), value.FromU64(uint64(v.Lane(i))))
		}
	case (typ == isa.BB64 || typ == isa.FF64) && dst.IsVector():
		t.SetReg(dst.VecSym(0), value.FromU64(uint64(v.Lane(0))))
		t.SetReg(dst.VecSym(1), value.FromU64(uint64(v.Lane(1))))
	case dst.IsVector():
		return fmt.Errorf("%w: vector destination for %s", ErrUnsupportedOperand, typ)
	case dst.Kind == isa.OperandReg:
		old, _ := t.Reg(dst.Sym)
		t.SetReg(dst.Sym, merge(old, v, dst.LoHi))
	default:
		return fmt.Errorf("%w: %s operand as destination", ErrUnsupportedOperand, dst.Kind)
	}
	return nil
}

// writeFlags stores v like write and then records carry and overflow in
// the predicate of a $p|%r destination.
func (e *Engine) writeFlags(t *Thread, dst *isa.Operand, v value.Reg, typ isa.Type, carry, overflow bool) error {
	if err := e.write(t, dst, v, typ); err != nil {
		return err
	}
	switch dst.Double {
	case isa.DoubleNone:
		return nil
	case isa.DoublePredFlags:
		p, _ := t.Reg(dst.VecSym(0))
		bits := p.U64() &^ (value.PredCarry | value.PredOverflow)
		if overflow {
			bits |= value.PredOverflow
		}
		if carry {
			bits |= value.PredCarry
		}
		t.SetReg(dst.VecSym(0), value.FromU64(bits))
		return nil
	}
	return fmt.Errorf("%w: double operand type %d with flags", ErrUnsupportedOperand, dst.Double)
}

// merge applies a .lo/.hi destination selector.
func merge(old, v value.Reg, sel int) value.Reg {
	switch sel {
	case 1:
		return value.FromU64(old.U64()&^0xFFFF | v.U64()&0xFFFF)
	case 2:
		return value.FromU64(old.U64()&^0xFFFF0000 | v.U64()<<16&0xFFFF0000)
	}
	return v
}

// zeroSignFlags computes the zero and sign flags of a $p|%r destination.
func zeroSignFlags(v value.Reg, typ isa.Type) (uint64, error) {
	var pred uint64
	switch {
	case typ.IsSigned():
		w := typ.Bits()
		if v.U64()&(value.Mask(w)>>1) == 0 {
			pred |= value.PredZero
		}
	case typ.IsUnsigned() || typ.IsBits():
		if v.Bits(typ.Bits()) == 0 {
			pred |= value.PredZero
		}
	case typ == isa.F16:
		if v.F16().Float32() == 0 {
			pred |= value.PredZero
		}
	case typ == isa.F32:
		if v.F32() == 0 {
			pred |= value.PredZero
		}
	case typ == isa.F64 || typ == isa.FF64:
		if v.F64() == 0 {
			pred |= value.PredZero
		}
	default:
		return 0, fmt.Errorf("%w: predicate flags for %s", ErrUnsupportedType, typ)
	}

	switch {
	case typ.IsSigned() || typ.IsUnsigned() || typ.IsBits():
		if v.U64()>>(typ.Bits()-1)&1 != 0 {
			pred |= value.PredSign
		}
	case typ == isa.F32:
		if v.F32() < 0 {
			pred |= value.PredSign
		}
	}
	return pred, nil
}
