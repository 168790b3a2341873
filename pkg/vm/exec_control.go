package vm

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// branchTarget evaluates a branch target operand to a pc.
func (e *Engine) branchTarget(t *Thread, op *isa.Operand) (int, error) {
	v, err := e.read(t, op, op, isa.U32, true)
	if err != nil {
		return 0, err
	}
	return int(v.U32()), nil
}

func (e *Engine) bra(t *Thread, inst *isa.Instruction) error {
	var (
		pc  int
		err error
	)
	if table := inst.Src(1); inst.Op == isa.OpBrx && table.IsVector() {
		pc, err = e.indirect(t, inst.Dst(), table)
	} else {
		pc, err = e.branchTarget(t, inst.Dst())
	}
	if err != nil {
		return err
	}
	t.NPC = pc
	t.BranchTaken = true
	return nil
}

// indirect selects entry idx of a label table.
func (e *Engine) indirect(t *Thread, idxOp, table *isa.Operand) (int, error) {
	idx, err := e.read(t, idxOp, idxOp, isa.U32, true)
	if err != nil {
		return 0, err
	}
	i := int(idx.U32())
	if i >= len(table.Vec) || table.Vec[i] == nil {
		return 0, fmt.Errorf("%w: brx index %d outside table of %d", ErrUnsupportedOperand, i, len(table.Vec))
	}
	return table.Vec[i].PC, nil
}

// checkDivergence asks the oracle for the warp's reconvergence state and
// returns the reconvergence pc. The reported pc must be the call's own.
func (e *Engine) checkDivergence(t *Thread) (int, error) {
	if e.oracle == nil || t.Warp == nil {
		return -1, nil
	}
	pc, rpc := e.oracle.PDOMState(t.Warp)
	if pc != t.PC {
		return 0, fmt.Errorf("%w: oracle pc %d, call at %d", ErrDivergence, pc, t.PC)
	}
	return rpc, nil
}

func (e *Engine) nextCallUID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callUID++
	return e.callUID
}

// call invokes a device function. Operands are [ret] callee args...
func (e *Engine) call(t *Thread, inst *isa.Instruction) error {
	nret := 0
	if inst.HasReturn {
		nret = 1
	}
	calleeOp := inst.Operand(nret)
	fn := calleeOp.Func
	if fn == nil {
		return fmt.Errorf("%w: call without callee", ErrUnsupportedOperand)
	}
	if inst.HasReturn != fn.HasReturn() {
		return fmt.Errorf("%w: %s return value", ErrArityMismatch, fn.Name)
	}
	if want := nret + 1 + len(fn.Params); inst.NumOperands() != want {
		return fmt.Errorf("%w: %s takes %d arguments, call passes %d",
			ErrArityMismatch, fn.Name, len(fn.Params), inst.NumOperands()-nret-1)
	}

	args := make([]value.Reg, len(fn.Params))
	for i, p := range fn.Params {
		v, err := e.argument(t, inst.Operand(nret+1+i), p.Type)
		if err != nil {
			return err
		}
		args[i] = v
	}

	rpc, err := e.checkDivergence(t)
	if err != nil {
		return err
	}
	var retDst *isa.Symbol
	if inst.HasReturn {
		retDst = inst.Dst().Sym
	}
	caller, sp, npc := t.Func, t.StackPointer, t.NPC
	e.enter(t, inst, fn, rpc, fn.Return, retDst)

	for i, p := range fn.Params {
		if err := e.bindParam(t, p, args[i]); err != nil {
			t.popFrame()
			t.popCall()
			t.Func, t.StackPointer, t.NPC = caller, sp, npc
			return err
		}
	}
	return nil
}

// enter pushes a call frame and a register frame and jumps to fn.
func (e *Engine) enter(t *Thread, inst *isa.Instruction, fn *isa.Function, rpc int, retSrc, retDst *isa.Symbol) {
	t.pushCall(CallFrame{
		Func:            fn,
		ReturnPC:        t.PC + inst.Size,
		ReconvergencePC: rpc,
		ReturnVarSrc:    retSrc,
		ReturnVarDst:    retDst,
		CallUID:         e.nextCallUID(),
	})
	if t.Func != nil {
		t.StackPointer += t.Func.LocalSize
	}
	t.pushFrame()
	t.Func = fn
	t.NPC = fn.Start
}

// argument reads a call argument. Arguments declared in param space are
// loaded from the caller's local parameter memory.
func (e *Engine) argument(t *Thread, op *isa.Operand, typ isa.Type) (value.Reg, error) {
	if op.Sym != nil && op.Sym.Kind == isa.SymParamLocal && op.Kind != isa.OperandReg {
		return e.loadParam(t, op.Sym, typ)
	}
	return e.read(t, op, op, typ, true)
}

func (e *Engine) loadParam(t *Thread, sym *isa.Symbol, typ isa.Type) (value.Reg, error) {
	loc, err := e.resolver.Resolve(isa.SpaceParamLocal, sym, sym.Address, t.target())
	if err != nil {
		return value.Reg{}, err
	}
	return loc.Store.Read(loc.Addr, typ.Bytes())
}

// bindParam stores v into sym of the current frame.
func (e *Engine) bindParam(t *Thread, sym *isa.Symbol, v value.Reg) error {
	if sym == nil {
		return nil
	}
	if sym.Kind != isa.SymParamLocal {
		t.SetReg(sym, v)
		return nil
	}
	loc, err := e.resolver.Resolve(isa.SpaceParamLocal, sym, sym.Address, t.target())
	if err != nil {
		return err
	}
	return loc.Store.Write(loc.Addr, sym.Type.Bytes(), v)
}

// callp is the PTXPlus call to a label. It shares the caller's registers
// and marshals nothing.
func (e *Engine) callp(t *Thread, inst *isa.Instruction) error {
	pc, err := e.branchTarget(t, inst.Dst())
	if err != nil {
		return err
	}
	rpc, err := e.checkDivergence(t)
	if err != nil {
		return err
	}
	t.pushCall(CallFrame{
		Func:            t.Func,
		ReturnPC:        t.PC + inst.Size,
		ReconvergencePC: rpc,
		CallUID:         e.nextCallUID(),
		Plus:            true,
	})
	t.NPC = pc
	return nil
}

// ret pops the innermost call. Returning from the outermost call ends the
// thread.
func (e *Engine) ret(t *Thread, inst *isa.Instruction) error {
	cf, ok := t.popCall()
	if !ok {
		return ErrStackUnderflow
	}
	if len(t.calls) == 0 {
		t.Done = true
		return nil
	}
	if cf.Plus {
		t.NPC = cf.ReturnPC
		return nil
	}

	var (
		rv  value.Reg
		err error
	)
	if cf.ReturnVarSrc != nil {
		if cf.ReturnVarSrc.Kind == isa.SymParamLocal {
			rv, err = e.loadParam(t, cf.ReturnVarSrc, cf.ReturnVarSrc.Type)
		} else {
			rv, err = e.reg(t, cf.ReturnVarSrc)
		}
		if err != nil {
			return err
		}
	}

	t.popFrame()
	t.Func = t.calls[len(t.calls)-1].Func
	if t.Func != nil {
		t.StackPointer -= t.Func.LocalSize
	}
	if cf.ReturnVarSrc != nil && cf.ReturnVarDst != nil {
		if err := e.bindParam(t, cf.ReturnVarDst, rv); err != nil {
			return err
		}
	}
	t.NPC = cf.ReturnPC
	return nil
}

// retp pops a callp frame.
func (e *Engine) retp(t *Thread, inst *isa.Instruction) error {
	cf, ok := t.popCall()
	if !ok {
		return ErrStackUnderflow
	}
	if len(t.calls) == 0 {
		t.Done = true
		return nil
	}
	t.NPC = cf.ReturnPC
	return nil
}

func (e *Engine) breakaddr(t *Thread, inst *isa.Instruction) error {
	if inst.Guard != nil {
		return fmt.Errorf("%w: predicated breakaddr", ErrUnsupportedOperand)
	}
	pc, err := e.branchTarget(t, inst.Dst())
	if err != nil {
		return err
	}
	t.breaks = append(t.breaks, pc)
	return nil
}

func (e *Engine) brk(t *Thread, inst *isa.Instruction) error {
	if len(t.breaks) == 0 {
		return fmt.Errorf("%w: break without breakaddr", ErrStackUnderflow)
	}
	t.NPC = t.breaks[len(t.breaks)-1]
	t.breaks = t.breaks[:len(t.breaks)-1]
	t.BranchTaken = true
	return nil
}
