package isa

import (
	"fmt"
	"strings"
)

// SymbolKind classifies what a symbol names.
type SymbolKind uint8

const (
	SymReg SymbolKind = iota
	SymParamKernel
	SymParamLocal
	SymLocal
	SymShared
	SymSStarr
	SymConst
	SymGlobal
	SymTex
	SymSurf
	SymLabel
	SymFunc
)

var symbolKindNames = [...]string{"reg", "param_kernel", "param_local", "local", "shared",
	"sstarr", "const", "global", "tex", "surf", "label", "func"}

func (k SymbolKind) String() string {
	if int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return "UNKNOWN"
}

// Space returns the state space a symbol of this kind lives in.
func (k SymbolKind) Space() Space {
	switch k {
	case SymReg:
		return SpaceReg
	case SymParamKernel:
		return SpaceParamKernel
	case SymParamLocal:
		return SpaceParamLocal
	case SymLocal:
		return SpaceLocal
	case SymShared:
		return SpaceShared
	case SymSStarr:
		return SpaceSStarr
	case SymConst:
		return SpaceConst
	case SymGlobal:
		return SpaceGlobal
	case SymTex:
		return SpaceTex
	case SymSurf:
		return SpaceSurf
	}
	return SpaceUndefined
}

// DiscardName is the register name whose writes are dropped.
const DiscardName = "_"

// Symbol is a declared name. Symbols are compared by pointer: two
// declarations with the same name in different scopes are distinct.
type Symbol struct {
	Name    string
	Kind    SymbolKind
	Type    Type
	Address uint64 // memory symbols
	Size    int    // bytes, memory symbols
	PC      int    // labels and functions
}

// IsDiscard reports whether the symbol is the discard register.
func (s *Symbol) IsDiscard() bool {
	return s != nil && s.Name == DiscardName
}

// IsReg reports whether the symbol names a register.
func (s *Symbol) IsReg() bool {
	return s != nil && s.Kind == SymReg
}

func (s *Symbol) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}

// OperandKind discriminates operand descriptors.
type OperandKind uint8

const (
	OperandNone       OperandKind = iota
	OperandReg                    // %r
	OperandVector                 // {%r0, %r1, ...}
	OperandBuiltin                // %tid.x
	OperandImmAddress             // [0x100]
	OperandMemory                 // [sym+off], [%r+off]
	OperandLiteral                // 42, 0f3F800000
	OperandSymbol                 // address of a label or memory symbol
	OperandFunction               // callee
)

var operandKindNames = [...]string{"none", "reg", "vector", "builtin", "immaddr", "memory",
	"literal", "symbol", "function"}

func (k OperandKind) String() string {
	if int(k) < len(operandKindNames) {
		return operandKindNames[k]
	}
	return "UNKNOWN"
}

// Double operand encodings. Positive values are source addressing forms,
// negative values are paired destinations.
const (
	DoubleNone      = 0
	DoubleAdd       = 1  // [%r0 + %r1]
	DoublePostInc   = 2  // [%r0 += %r1]
	DoublePostImm   = 3  // [%r += imm]
	DoublePredPair  = -1 // $p0|$p1
	DoublePredFlags = -2 // $p|%r with carry/overflow
	DoublePredReg   = -3 // $p|%r
)

// Builtin identifies a special register.
type Builtin uint8

const (
	BuiltinNone Builtin = iota
	BuiltinTid
	BuiltinNtid
	BuiltinCtaid
	BuiltinNctaid
	BuiltinLaneID
	BuiltinWarpID
	BuiltinNWarpID
	BuiltinSMID
	BuiltinGridID
	BuiltinClock
	BuiltinClock64
	BuiltinLanemaskEq
	BuiltinLanemaskLt
	BuiltinLanemaskLe
	BuiltinLanemaskGt
	BuiltinLanemaskGe
)

var builtinNames = [...]string{"", "tid", "ntid", "ctaid", "nctaid", "laneid", "warpid",
	"nwarpid", "smid", "gridid", "clock", "clock64", "lanemask_eq", "lanemask_lt",
	"lanemask_le", "lanemask_gt", "lanemask_ge"}

func (b Builtin) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return "UNKNOWN"
}

// BuiltinFromString parses a special register name, with or without '%'.
func BuiltinFromString(s string) (Builtin, bool) {
	return lookup(builtinNames[:], strings.TrimPrefix(s, "%"), BuiltinNone)
}

// Operand describes one operand of a decoded instruction.
type Operand struct {
	Kind    OperandKind
	Sym     *Symbol   // register, base register or named symbol
	Vec     []*Symbol // vector lanes, or the pair of a double operand
	Builtin Builtin
	Dim     int    // builtin dimension: 0=x 1=y 2=z
	Bits    uint64 // literal bits, low 64
	BitsHi  uint64 // literal bits, high 64 for b128 literals
	Offset  int64  // address offset, immediate address, post increment
	Space   Space  // explicit space of PTXPlus memory operands
	Type    Type   // literal type
	Neg     bool
	LoHi    int // 0 none, 1 low 16 bits, 2 high 16 bits
	Double  int
	Func    *Function // callee of OperandFunction
}

// Reg returns a register operand.
func Reg(s *Symbol) Operand {
	return Operand{Kind: OperandReg, Sym: s}
}

// Vector returns a vector operand over the given registers.
func Vector(syms ...*Symbol) Operand {
	return Operand{Kind: OperandVector, Vec: syms}
}

// Imm returns a literal operand holding raw bits.
func Imm(t Type, bits uint64) Operand {
	return Operand{Kind: OperandLiteral, Type: t, Bits: bits}
}

// Mem returns a memory operand addressing base+offset.
func Mem(base *Symbol, offset int64) Operand {
	return Operand{Kind: OperandMemory, Sym: base, Offset: offset}
}

// Addr returns an immediate address operand.
func Addr(addr int64) Operand {
	return Operand{Kind: OperandImmAddress, Offset: addr}
}

// Special returns a builtin operand.
func Special(b Builtin, dim int) Operand {
	return Operand{Kind: OperandBuiltin, Builtin: b, Dim: dim}
}

// AddrOf returns an operand evaluating to the address of sym, or the PC of a label.
func AddrOf(sym *Symbol) Operand {
	return Operand{Kind: OperandSymbol, Sym: sym}
}

// Callee returns a function operand.
func Callee(f *Function) Operand {
	return Operand{Kind: OperandFunction, Func: f}
}

// Pair returns a paired destination ($p|%r style) with the given encoding.
func Pair(double int, first, second *Symbol) Operand {
	return Operand{Kind: OperandReg, Sym: second, Vec: []*Symbol{first, second}, Double: double}
}

// IsReg reports whether the operand is a plain register.
func (o *Operand) IsReg() bool {
	return o.Kind == OperandReg && o.Double == DoubleNone
}

// IsVector reports whether the operand is a vector of registers.
func (o *Operand) IsVector() bool {
	return o.Kind == OperandVector
}

// IsDiscard reports whether the operand is the discard register.
func (o *Operand) IsDiscard() bool {
	return o.Kind == OperandReg && o.Sym.IsDiscard()
}

// VecSym returns lane i of a vector or double operand.
func (o *Operand) VecSym(i int) *Symbol {
	if i < len(o.Vec) {
		return o.Vec[i]
	}
	return nil
}

func (o Operand) String() string {
	var s string
	switch o.Kind {
	case OperandReg:
		if len(o.Vec) == 2 {
			s = o.Vec[0].String() + "|" + o.Vec[1].String()
		} else {
			s = o.Sym.String()
		}
	case OperandVector:
		names := make([]string, len(o.Vec))
		for i, v := range o.Vec {
			names[i] = v.String()
		}
		s = "{" + strings.Join(names, ",") + "}"
	case OperandBuiltin:
		s = "%" + o.Builtin.String() + "." + string("xyz"[o.Dim%3])
	case OperandImmAddress:
		s = fmt.Sprintf("[0x%X]", o.Offset)
	case OperandMemory:
		switch {
		case o.Double == DoubleAdd && len(o.Vec) == 2:
			s = fmt.Sprintf("[%s+%s]", o.Vec[0], o.Vec[1])
		case o.Double == DoublePostInc && len(o.Vec) == 2:
			s = fmt.Sprintf("[%s+=%s]", o.Vec[0], o.Vec[1])
		case o.Double == DoublePostImm:
			s = fmt.Sprintf("[%s+=%d]", o.Sym, o.Offset)
		case o.Offset != 0:
			s = fmt.Sprintf("[%s+%d]", o.Sym, o.Offset)
		default:
			s = fmt.Sprintf("[%s]", o.Sym)
		}
		if o.Space != SpaceUndefined {
			s = o.Space.String() + s
		}
	case OperandLiteral:
		switch o.Type {
		case F32:
			s = fmt.Sprintf("0f%08X", uint32(o.Bits))
		case F64:
			s = fmt.Sprintf("0d%016X", o.Bits)
		default:
			s = fmt.Sprintf("%d", int64(o.Bits))
		}
	case OperandSymbol:
		s = o.Sym.String()
	case OperandFunction:
		if o.Func != nil {
			s = o.Func.Name
		}
	default:
		s = "?"
	}
	if o.Neg {
		s = "-" + s
	}
	switch o.LoHi {
	case 1:
		s += ".lo"
	case 2:
		s += ".hi"
	}
	return s
}
