package vm

import (
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
)

// locate resolves the address operand of a memory instruction.
func (e *Engine) locate(t *Thread, inst *isa.Instruction, op *isa.Operand) (memory.Location, error) {
	a, err := e.read(t, op, inst.Dst(), inst.Type, false)
	if err != nil {
		return memory.Location{}, err
	}
	space := inst.Space
	if space == isa.SpaceUndefined {
		space = isa.SpaceGeneric
	}
	return e.resolver.Resolve(space, op.Sym, a.U64(), t.target())
}

// ld loads a scalar or a v2/v3/v4 vector. Vector elements are consecutive
// in memory.
func (e *Engine) ld(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	loc, err := e.locate(t, inst, inst.Src(1))
	if err != nil {
		return err
	}
	size := typ.Bytes()
	dst := inst.Dst()

	if inst.Vector == 0 {
		v, err := loc.Store.Read(loc.Addr, size)
		if err != nil {
			return err
		}
		if err := e.write(t, dst, extendLoad(v, typ, dst), typ); err != nil {
			return err
		}
	} else {
		for i := 0; i < inst.Vector; i++ {
			v, err := loc.Store.Read(loc.Addr+uint64(i*size), size)
			if err != nil {
				return err
			}
			t.SetReg(dst.VecSym(i), v)
		}
	}
	t.LastAccess = Access{Valid: true, Space: loc.Space, Addr: loc.Addr, Size: size * max(inst.Vector, 1)}
	return nil
}

// st stores operand 1 to the address in operand 0.
func (e *Engine) st(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	addrOp := inst.Dst()
	loc, err := e.locate(t, inst, addrOp)
	if err != nil {
		return err
	}
	size := typ.Bytes()
	src := inst.Src(1)

	if inst.Vector == 0 {
		v, err := e.read(t, src, addrOp, typ, true)
		if err != nil {
			return err
		}
		if err := loc.Store.Write(loc.Addr, size, v); err != nil {
			return err
		}
	} else {
		for i := 0; i < inst.Vector; i++ {
			v, err := e.lane(t, src.VecSym(i))
			if err != nil {
				return err
			}
			if err := loc.Store.Write(loc.Addr+uint64(i*size), size, v); err != nil {
				return err
			}
		}
	}
	t.LastAccess = Access{Valid: true, Space: loc.Space, Addr: loc.Addr, Size: size * max(inst.Vector, 1), Write: true}
	return nil
}
