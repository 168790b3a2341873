package verifier

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
)

// checkCall compares a call's operands with the callee's signature.
func checkCall(inst *isa.Instruction) error {
	if inst.Op != isa.OpCall {
		return nil
	}
	nret := 0
	if inst.HasReturn {
		nret = 1
	}
	callee := inst.Operand(nret)
	if callee.Func == nil {
		return fmt.Errorf("%w: call without callee", ErrArity)
	}
	fn := callee.Func
	if inst.HasReturn != fn.HasReturn() {
		return fmt.Errorf("%w: %s return value", ErrArity, fn.Name)
	}
	if got := inst.NumOperands() - nret - 1; got != len(fn.Params) {
		return fmt.Errorf("%w: %s takes %d arguments, call passes %d", ErrArity, fn.Name, len(fn.Params), got)
	}
	return nil
}

// sources returns the operands inst reads.
func sources(inst *isa.Instruction) []isa.Operand {
	switch inst.Op {
	case isa.OpSt, isa.OpBra, isa.OpBrx, isa.OpCallp, isa.OpBreakaddr, isa.OpBar:
		return inst.Operands
	case isa.OpCall:
		if inst.HasReturn && len(inst.Operands) > 0 {
			return inst.Operands[1:]
		}
		return inst.Operands
	}
	if len(inst.Operands) == 0 {
		return nil
	}
	return inst.Operands[1:]
}

// checkDiscard rejects reads of the discard register, including as the base
// of an address or a register pair. Vector lanes may be discarded; they
// read as zero.
func checkDiscard(inst *isa.Instruction) error {
	if inst.Guard.IsDiscard() {
		return fmt.Errorf("%w: guard", ErrDiscardSource)
	}
	for i, op := range sources(inst) {
		if op.Sym.IsDiscard() {
			return fmt.Errorf("%w: operand %d", ErrDiscardSource, i)
		}
		if op.IsVector() {
			continue
		}
		for _, s := range op.Vec {
			if s.IsDiscard() {
				return fmt.Errorf("%w: operand %d", ErrDiscardSource, i)
			}
		}
	}
	return nil
}

// checkCompare rejects ordered comparisons on bit types, which only define
// eq and ne.
func checkCompare(inst *isa.Instruction) error {
	switch inst.Op {
	case isa.OpSetp, isa.OpSet:
	default:
		return nil
	}
	typ := inst.Type
	if inst.Op == isa.OpSet && inst.SrcType != isa.TypeNone {
		typ = inst.SrcType
	}
	if !typ.IsBits() && typ != isa.Pred {
		return nil
	}
	if inst.Cmp != isa.CmpEQ && inst.Cmp != isa.CmpNE {
		return fmt.Errorf("%w: %s.%s", ErrBitCompare, inst.Cmp, typ)
	}
	return nil
}

var (
	floatOnly = map[isa.Opcode]bool{
		isa.OpRcp: true, isa.OpSqrt: true, isa.OpRsqrt: true, isa.OpSin: true,
		isa.OpCos: true, isa.OpLg2: true, isa.OpEx2: true, isa.OpFma: true,
		isa.OpCopysignf: true,
	}
	integerOnly = map[isa.Opcode]bool{
		isa.OpRem: true, isa.OpMul24: true, isa.OpMad24: true, isa.OpSad: true,
		isa.OpAddp: true, isa.OpMadp: true,
		isa.OpShl: true, isa.OpShr: true, isa.OpBfe: true, isa.OpBfi: true,
		isa.OpBfind: true, isa.OpBrev: true, isa.OpClz: true, isa.OpPopc: true,
		isa.OpPrmt: true, isa.OpShf: true,
	}
	// Bitwise logic also accepts predicates.
	bitwise = map[isa.Opcode]bool{
		isa.OpAnd: true, isa.OpAndn: true, isa.OpOr: true, isa.OpOrn: true,
		isa.OpXor: true, isa.OpNot: true, isa.OpCnot: true, isa.OpNandn: true,
		isa.OpNorn: true,
	}
	notImplemented = map[isa.Opcode]bool{
		isa.OpAddc: true, isa.OpSubc: true, isa.OpDp4a: true, isa.OpMma: true,
		isa.OpMmaLd: true, isa.OpMmaSt: true, isa.OpSst: true, isa.OpPrefetch: true,
		isa.OpPrefetchu: true, isa.OpTrap: true, isa.OpBrkpt: true, isa.OpPmevent: true,
		isa.OpTxq: true, isa.OpSuld: true, isa.OpSust: true, isa.OpSured: true,
		isa.OpSuq: true, isa.OpVabsdiff: true, isa.OpVadd: true, isa.OpVsub: true,
		isa.OpVmad: true, isa.OpVmin: true, isa.OpVmax: true, isa.OpVset: true,
		isa.OpVshl: true, isa.OpVshr: true,
		isa.OpDerefCast: true, isa.OpDerefStruct: true, isa.OpDerefArray: true,
		isa.OpLoadDeref: true, isa.OpStoreDeref: true, isa.OpCallPC: true,
		isa.OpVulkanResourceIndex: true, isa.OpRunAnyhit: true,
		isa.OpGetAnyhitIndex: true, isa.OpGetIntersectionIndex: true,
		isa.OpGetWarpHitgroup: true,
	}
)

// checkType rejects opcode/type pairs the engine has no semantics for.
func checkType(inst *isa.Instruction) error {
	if notImplemented[inst.Op] {
		return fmt.Errorf("%w: %s", ErrNotImplemented, inst.Op)
	}
	typ := inst.Type
	if typ == isa.TypeNone {
		return nil
	}
	switch {
	case floatOnly[inst.Op] && !typ.IsFloat(),
		integerOnly[inst.Op] && (typ.IsFloat() || typ == isa.Pred),
		bitwise[inst.Op] && typ.IsFloat():
		return fmt.Errorf("%w: %s.%s", ErrUnsupported, inst.Op, typ)
	}
	if inst.Mul == isa.MulWide && (inst.Op == isa.OpMul || inst.Op == isa.OpMad) {
		if typ.IsFloat() || typ.Bits() == 64 {
			return fmt.Errorf("%w: %s.wide.%s", ErrUnsupported, inst.Op, typ)
		}
	}
	return nil
}
