package verifier

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
)

// targets returns the label operands inst may transfer control to. Register
// targets are resolved at runtime and are not included.
func targets(inst *isa.Instruction) []*isa.Symbol {
	var out []*isa.Symbol
	switch inst.Op {
	case isa.OpBra, isa.OpCallp, isa.OpBreakaddr:
		if op := inst.Dst(); op.Kind == isa.OperandSymbol && op.Sym != nil {
			out = append(out, op.Sym)
		}
	case isa.OpBrx:
		if table := inst.Src(1); table.IsVector() {
			out = append(out, table.Vec...)
		} else if op := inst.Dst(); op.Kind == isa.OperandSymbol && op.Sym != nil {
			out = append(out, op.Sym)
		}
	}
	return out
}

// checkTargets requires every label target to lie inside fn, or for callp
// anywhere in the module.
func checkTargets(m *isa.Module, fn *isa.Function, inst *isa.Instruction) []error {
	var errs []error
	for _, sym := range targets(inst) {
		if sym == nil {
			errs = append(errs, fmt.Errorf("%w: empty table entry", ErrBadTarget))
			continue
		}
		if sym.Kind != isa.SymLabel {
			errs = append(errs, fmt.Errorf("%w: %s is a %s", ErrBadTarget, sym.Name, sym.Kind))
			continue
		}
		lo, hi := fn.Start, fn.End
		if inst.Op == isa.OpCallp {
			lo, hi = 0, len(m.Code)
		}
		if sym.PC < lo || sym.PC >= hi {
			errs = append(errs, fmt.Errorf("%w: %s at %d outside [%d, %d)", ErrBadTarget, sym.Name, sym.PC, lo, hi))
		}
	}
	return errs
}

// terminates reports whether control never falls through inst.
func terminates(inst *isa.Instruction) bool {
	if inst.Guard != nil {
		return false
	}
	switch inst.Op {
	case isa.OpBra, isa.OpBrx, isa.OpRet, isa.OpRetp, isa.OpExit, isa.OpBreak:
		return true
	}
	return false
}

// unreachable returns the pcs of fn that no path from its entry reaches.
// Break addresses count as reachable once their breakaddr is. Functions
// that branch through a register are not analysed.
func unreachable(m *isa.Module, fn *isa.Function) []int {
	if fn.End <= fn.Start {
		return nil
	}
	for pc := fn.Start; pc < fn.End; pc++ {
		if registerTarget(m.Code[pc]) {
			return nil
		}
	}
	reached := make([]bool, fn.End-fn.Start)
	work := []int{fn.Start}
	for len(work) > 0 {
		pc := work[len(work)-1]
		work = work[:len(work)-1]
		if pc < fn.Start || pc >= fn.End || reached[pc-fn.Start] {
			continue
		}
		reached[pc-fn.Start] = true

		inst := m.Code[pc]
		for _, sym := range targets(inst) {
			if sym != nil && sym.Kind == isa.SymLabel {
				work = append(work, sym.PC)
			}
		}
		if !terminates(inst) {
			work = append(work, pc+inst.Size)
		}
	}

	var out []int
	for i, ok := range reached {
		if !ok {
			out = append(out, fn.Start+i)
		}
	}
	return out
}

// registerTarget reports whether a branch jumps through a register.
func registerTarget(inst *isa.Instruction) bool {
	if inst.Op != isa.OpBra && inst.Op != isa.OpBrx {
		return false
	}
	return len(targets(inst)) == 0
}
