package vm

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/value"
)

// atom performs a read-modify-write on global or shared memory and writes
// the old value to the destination:
//
//	atom.space.op.type d, [a], b[, c]
//
// red is the same operation without a destination.
func (e *Engine) atom(t *Thread, inst *isa.Instruction) error {
	first := 1
	if inst.Op == isa.OpRed {
		first = 0
	}
	typ := inst.Type
	addrOp := inst.Operand(first)

	loc, err := e.atomicLocation(t, inst, addrOp)
	if err != nil {
		return err
	}
	b, err := e.read(t, inst.Operand(first+1), addrOp, typ, true)
	if err != nil {
		return err
	}
	var c value.Reg
	if inst.Atomic == isa.AtomCAS {
		if c, err = e.read(t, inst.Operand(first+2), addrOp, typ, true); err != nil {
			return err
		}
	}

	size := typ.Bytes()
	e.atomMu.Lock()
	old, err := loc.Store.Read(loc.Addr, size)
	if err == nil {
		var v value.Reg
		if v, err = atomicOp(inst.Atomic, typ, old, b, c); err == nil {
			err = loc.Store.Write(loc.Addr, size, v)
		}
	}
	e.atomMu.Unlock()
	if err != nil {
		return fmt.Errorf("atom.%s.%s: %w", inst.Atomic, typ, err)
	}

	t.LastAccess = Access{Valid: true, Space: loc.Space, Addr: loc.Addr, Size: size, Write: true, Atomic: true}
	if first == 0 {
		return nil
	}
	return e.write(t, inst.Dst(), old, typ)
}

// atomicLocation resolves the address of an atomic. Generic addresses must
// fall in global or shared memory.
func (e *Engine) atomicLocation(t *Thread, inst *isa.Instruction, op *isa.Operand) (memory.Location, error) {
	a, err := e.read(t, op, op, inst.Type, false)
	if err != nil {
		return memory.Location{}, err
	}
	space := inst.Space
	switch space {
	case isa.SpaceUndefined:
		space = isa.SpaceGeneric
	case isa.SpaceGlobal, isa.SpaceShared, isa.SpaceGeneric:
	default:
		return memory.Location{}, fmt.Errorf("%w: atom in %s space", ErrBadAddressSpace, space)
	}
	loc, err := e.resolver.Resolve(space, op.Sym, a.U64(), t.target())
	if err != nil {
		return loc, err
	}
	if loc.Space != isa.SpaceGlobal && loc.Space != isa.SpaceShared {
		return loc, fmt.Errorf("%w: generic atom address 0x%x resolves to %s", ErrBadAddressSpace, a.U64(), loc.Space)
	}
	return loc, nil
}

// atomicOp computes the new memory value from the old value and the
// operands b and c.
func atomicOp(op isa.AtomicOp, typ isa.Type, old, b, c value.Reg) (value.Reg, error) {
	switch op {
	case isa.AtomAnd, isa.AtomOr, isa.AtomXor:
		if !typ.IsBits() {
			return old, fmt.Errorf("%w: bitwise atomic on %s", ErrUnsupportedType, typ)
		}
		x, y := old.U64(), b.U64()
		switch op {
		case isa.AtomAnd:
			return value.FromU64(x & y), nil
		case isa.AtomOr:
			return value.FromU64(x | y), nil
		}
		return value.FromU64(x ^ y), nil
	case isa.AtomCAS:
		if !typ.IsBits() {
			return old, fmt.Errorf("%w: cas on %s", ErrUnsupportedType, typ)
		}
		w := typ.Bits()
		if old.Bits(w) == b.Bits(w) {
			return c, nil
		}
		return old, nil
	case isa.AtomExch:
		if !typ.IsBits() {
			return old, fmt.Errorf("%w: exch on %s", ErrUnsupportedType, typ)
		}
		return b, nil
	case isa.AtomAdd:
		switch {
		case typ == isa.F32:
			return value.FromF32(old.F32() + b.F32()), nil
		case typ == isa.F64:
			return value.FromF64(old.F64() + b.F64()), nil
		case typ == isa.U32 || typ == isa.S32 || typ == isa.U64:
			return value.FromU64((old.U64() + b.U64()) & value.Mask(typ.Bits())), nil
		}
	case isa.AtomInc, isa.AtomDec:
		if typ != isa.U32 {
			return old, fmt.Errorf("%w: atom.%s on %s", ErrUnsupportedType, op, typ)
		}
		x, y := old.U32(), b.U32()
		if op == isa.AtomInc {
			if x >= y {
				return value.FromU64(0), nil
			}
			return value.FromU64(uint64(x + 1)), nil
		}
		if x == 0 || x > y {
			return value.FromU64(uint64(y)), nil
		}
		return value.FromU64(uint64(x - 1)), nil
	case isa.AtomMin, isa.AtomMax:
		hi := op == isa.AtomMax
		switch {
		case typ == isa.U32 || typ == isa.U64:
			w := typ.Bits()
			return value.FromU64(pick(old.Bits(w), b.Bits(w), hi)), nil
		case typ == isa.S32:
			return value.FromU64(uint64(pick(int64(old.S32()), int64(b.S32()), hi)) & value.Mask(32)), nil
		case typ == isa.F32:
			return value.FromF32(float32(pickFloat(float64(old.F32()), float64(b.F32()), hi))), nil
		}
	default:
		return old, fmt.Errorf("%w: atomic operation %s", ErrUnsupportedOperand, op)
	}
	return old, fmt.Errorf("%w: atom.%s on %s", ErrUnsupportedType, op, typ)
}
