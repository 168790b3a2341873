package isa

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnknownSymbol   = errors.New("unknown symbol")
	ErrBadPC           = errors.New("pc out of range")
)

// Instruction is one decoded instruction.
//
// Operand layout:
//
//	┌────────┬──────────┬──────────┬─────┐
//	│ dst    │ src1     │ src2     │ ... │   most opcodes
//	├────────┼──────────┼──────────┼─────┤
//	│ [ret]  │ callee   │ args ... │     │   call, ret present iff HasReturn
//	├────────┼──────────┼──────────┼─────┤
//	│ target │          │          │     │   bra, callp, breakaddr
//	└────────┴──────────┴──────────┴─────┘
//
// Stores put the address in Operands[0] and the value in Operands[1].
type Instruction struct {
	Op       Opcode
	Type     Type // operation type; destination type of cvt
	SrcType  Type // source type of cvt, set, slct and mul.wide result
	Operands []Operand

	Guard    *Symbol // predicate guard, nil when unpredicated
	GuardNeg bool    // @!p

	Space     Space // ld, st, atom, cvta, isspacep
	ToSpace   bool  // cvta.to
	Rounding  Rounding
	Sat       bool
	FTZ       bool
	Approx    bool
	Full      bool
	Uni       bool
	Vector    int // 0, 2, 3 or 4 elements
	Cmp       CmpOp
	BoolOp    BoolOp
	Atomic    AtomicOp
	Vote      VoteMode
	NegPred   bool // vote on the inverted predicate
	Shfl      ShflMode
	Bar       BarOp
	Red       RedOp
	Mul       MulMode
	Prmt      PrmtMode
	ShfLeft   bool
	ShfClamp  bool
	Geometry  int // texture dimensionality
	HasReturn bool

	PC         int
	Size       int
	SourceFile string
	SourceLine int
}

// Dst returns the destination operand.
func (i *Instruction) Dst() *Operand {
	return i.Operand(0)
}

// Src returns source operand n, counted from 1.
func (i *Instruction) Src(n int) *Operand {
	return i.Operand(n)
}

// Operand returns operand n or an empty operand when absent.
func (i *Instruction) Operand(n int) *Operand {
	if n < len(i.Operands) {
		return &i.Operands[n]
	}
	return &Operand{}
}

// NumOperands returns the operand count.
func (i *Instruction) NumOperands() int {
	return len(i.Operands)
}

// Location returns "file:line" for diagnostics.
func (i *Instruction) Location() string {
	if i.SourceFile == "" {
		return fmt.Sprintf("pc %d", i.PC)
	}
	return fmt.Sprintf("%s:%d", i.SourceFile, i.SourceLine)
}

// Mnemonic returns the opcode with its type and modifier suffixes.
func (i *Instruction) Mnemonic() string {
	s := i.Op.String()
	add := func(v string) {
		if v != "" {
			s += "." + v
		}
	}
	switch i.Op {
	case OpSetp, OpSet:
		add(i.Cmp.String())
		add(i.BoolOp.String())
	case OpAtom:
		add(i.Space.String())
		add(i.Atomic.String())
	case OpVote:
		add(i.Vote.String())
	case OpShfl:
		add(i.Shfl.String())
	case OpBar:
		add(i.Bar.String())
		add(i.Red.String())
	case OpMul, OpMad, OpMul24, OpMad24:
		add(i.Mul.String())
	case OpLd, OpLdu, OpSt, OpCvta, OpIsspacep:
		if i.ToSpace {
			add("to")
		}
		add(i.Space.String())
	case OpPrmt:
		add(i.Prmt.String())
	}
	add(i.Rounding.String())
	if i.Sat {
		add("sat")
	}
	if i.Vector > 0 {
		add(fmt.Sprintf("v%d", i.Vector))
	}
	add(i.Type.String())
	add(i.SrcType.String())
	return s
}

// Function is a kernel entry or device function.
type Function struct {
	Name    string
	Entry   bool
	Params  []*Symbol // formal arguments in order
	Return  *Symbol   // single return value, nil when void
	Symbols map[string]*Symbol
	Start   int // first pc
	End     int // one past the last pc
	// LocalSize is the per-thread local memory frame of the function.
	LocalSize uint64
}

// HasReturn reports whether the function returns a value.
func (f *Function) HasReturn() bool {
	return f.Return != nil
}

// Lookup returns the named symbol in the function scope.
func (f *Function) Lookup(name string) (*Symbol, bool) {
	s, ok := f.Symbols[name]
	return s, ok
}

// Module is a linked program: functions, module-scope symbols and code
// indexed by pc.
type Module struct {
	Name      string
	Functions []*Function
	Globals   map[string]*Symbol
	Code      []*Instruction
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name, Globals: make(map[string]*Symbol)}
}

// Function returns the named function.
func (m *Module) Function(name string) (*Function, error) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

// At returns the instruction at pc.
func (m *Module) At(pc int) (*Instruction, error) {
	if pc < 0 || pc >= len(m.Code) {
		return nil, fmt.Errorf("%w: %d", ErrBadPC, pc)
	}
	return m.Code[pc], nil
}

// FunctionAt returns the function containing pc.
func (m *Module) FunctionAt(pc int) *Function {
	for _, f := range m.Functions {
		if pc >= f.Start && pc < f.End {
			return f
		}
	}
	return nil
}

// Append adds a function and its body to the module, assigning pcs.
// Labels declared in the function scope are rebased to module pcs.
func (m *Module) Append(f *Function, body []*Instruction) {
	f.Start = len(m.Code)
	if f.Symbols == nil {
		f.Symbols = make(map[string]*Symbol)
	}
	for _, s := range f.Symbols {
		if s.Kind == SymLabel {
			s.PC += f.Start
		}
	}
	for _, inst := range body {
		inst.PC = len(m.Code)
		if inst.Size == 0 {
			inst.Size = 1
		}
		m.Code = append(m.Code, inst)
	}
	f.End = len(m.Code)
	m.Functions = append(m.Functions, f)
}
