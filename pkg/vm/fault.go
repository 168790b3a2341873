package vm

import (
	"errors"
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
)

// Error definitions
var (
	ErrUnsupportedType    = errors.New("unsupported type for instruction")
	ErrUnsupportedOperand = errors.New("unsupported operand")
	ErrArityMismatch      = errors.New("call arity mismatch")
	ErrDiscardRead        = errors.New("read of discard register")
	ErrBadAddressSpace    = errors.New("bad address space")
	ErrDivergence         = errors.New("divergence state disagrees with call site")
	ErrDivideByZero       = errors.New("integer division by zero")
	ErrMalformedCompare   = errors.New("comparison not defined for type")
	ErrNotImplemented     = errors.New("instruction not implemented")
	ErrBadRounding        = errors.New("unsupported rounding mode")
	ErrThreadDone         = errors.New("thread has exited")
	ErrNoService          = errors.New("no service bound")
	ErrStackUnderflow     = errors.New("stack underflow")
)

// Fault is a fatal condition raised while executing one instruction. It
// identifies the instruction and the thread it ran on.
type Fault struct {
	Op     isa.Opcode
	File   string
	Line   int
	PC     int
	Tid    Dim3
	Ctaid  Dim3
	Thread int
	Err    error
}

func (f *Fault) Error() string {
	loc := fmt.Sprintf("pc %d", f.PC)
	if f.File != "" {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("%s at %s (tid %s, ctaid %s): %v", f.Op, loc, f.Tid, f.Ctaid, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func newFault(t *Thread, inst *isa.Instruction, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{
		Op:     inst.Op,
		File:   inst.SourceFile,
		Line:   inst.SourceLine,
		PC:     inst.PC,
		Tid:    t.Tid,
		Ctaid:  t.Ctaid(),
		Thread: t.ID,
		Err:    err,
	}
}

func unsupported(inst *isa.Instruction, t isa.Type) error {
	return fmt.Errorf("%w: %s.%s", ErrUnsupportedType, inst.Op, t)
}

func notImplemented(inst *isa.Instruction) error {
	return fmt.Errorf("%w: %s at %s", ErrNotImplemented, inst.Op, inst.Location())
}
