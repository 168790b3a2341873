package verifier

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
)

func ops(o ...isa.Operand) []isa.Operand { return o }

func verify(t *testing.T, body ...*isa.Instruction) []Issue {
	t.Helper()
	m, _ := testutil.Kernel("k", append(body, &isa.Instruction{Op: isa.OpExit})...)
	return New(WithAllChecks()).Verify(m)
}

func TestVerify_Clean(t *testing.T) {
	r := testutil.Regs(isa.U32, "a", "b")
	p := testutil.Reg("p", isa.Pred)
	issues := verify(t,
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[0]), testutil.U32(1))},
		&isa.Instruction{Op: isa.OpAdd, Type: isa.U32, Operands: ops(isa.Reg(r[1]), isa.Reg(r[0]), testutil.U32(2))},
		&isa.Instruction{Op: isa.OpSetp, Type: isa.B32, Cmp: isa.CmpNE, Operands: ops(isa.Reg(p), isa.Reg(r[0]), isa.Reg(r[1]))},
		&isa.Instruction{Op: isa.OpAnd, Type: isa.Pred, Operands: ops(isa.Reg(p), isa.Reg(p), isa.Reg(p))},
		// A discarded vector lane reads as zero.
		&isa.Instruction{Op: isa.OpMov, Type: isa.B32, Operands: ops(isa.Reg(r[1]), isa.Vector(r[0], testutil.Reg(isa.DiscardName, isa.U32)))},
	)
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %v", issues)
	}
	if err := Err(issues); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestVerify_Errors(t *testing.T) {
	d := testutil.Reg("d", isa.U32)
	f := testutil.Reg("f", isa.F32)
	p := testutil.Reg("p", isa.Pred)
	discard := testutil.Reg(isa.DiscardName, isa.U32)
	far := &isa.Symbol{Name: "FAR", Kind: isa.SymLabel, PC: 99}

	tests := []struct {
		name string
		inst *isa.Instruction
		want error
	}{
		{"discard source", &isa.Instruction{Op: isa.OpAdd, Type: isa.U32, Operands: ops(isa.Reg(d), isa.Reg(discard), testutil.U32(1))}, ErrDiscardSource},
		{"discard pair", &isa.Instruction{Op: isa.OpMov, Type: isa.U64, Operands: ops(isa.Reg(d), isa.Pair(isa.DoubleAdd, discard, d))}, ErrDiscardSource},
		{"discard address", &isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Mem(discard, 0), isa.Reg(d))}, ErrDiscardSource},
		{"ordered bit compare", &isa.Instruction{Op: isa.OpSetp, Type: isa.B32, Cmp: isa.CmpLT, Operands: ops(isa.Reg(p), isa.Reg(d), isa.Reg(d))}, ErrBitCompare},
		{"branch out of function", &isa.Instruction{Op: isa.OpBra, Guard: p, Operands: ops(isa.AddrOf(far))}, ErrBadTarget},
		{"float rem", &isa.Instruction{Op: isa.OpRem, Type: isa.F32, Operands: ops(isa.Reg(f), isa.Reg(f), isa.Reg(f))}, ErrUnsupported},
		{"integer sqrt", &isa.Instruction{Op: isa.OpSqrt, Type: isa.U32, Operands: ops(isa.Reg(d), isa.Reg(d))}, ErrUnsupported},
		{"wide 64-bit mul", &isa.Instruction{Op: isa.OpMul, Mul: isa.MulWide, Type: isa.U64, Operands: ops(isa.Reg(d), isa.Reg(d), isa.Reg(d))}, ErrUnsupported},
		{"not implemented", &isa.Instruction{Op: isa.OpDp4a, Type: isa.S32, Operands: ops(isa.Reg(d), isa.Reg(d), isa.Reg(d), isa.Reg(d))}, ErrNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := verify(t, tt.inst)
			if len(issues) != 1 {
				t.Fatalf("expected 1 issue, got %v", issues)
			}
			if issues[0].Severity != Error || !errors.Is(issues[0].Err, tt.want) {
				t.Errorf("expected error %v, got %s %v", tt.want, issues[0].Severity, issues[0].Err)
			}
			if !errors.Is(Err(issues), tt.want) {
				t.Errorf("expected Err to wrap %v", tt.want)
			}
		})
	}
}

func TestVerify_Calls(t *testing.T) {
	x := testutil.Reg("x", isa.U32)
	ret := testutil.Reg("ret", isa.U32)
	d := testutil.Reg("d", isa.U32)
	callee := &isa.Function{Name: "f", Params: []*isa.Symbol{x}, Return: ret}

	tests := []struct {
		name string
		call *isa.Instruction
		want error
	}{
		{"ok", &isa.Instruction{Op: isa.OpCall, HasReturn: true, Operands: ops(isa.Reg(d), isa.Callee(callee), isa.Reg(d))}, nil},
		{"missing return", &isa.Instruction{Op: isa.OpCall, Operands: ops(isa.Callee(callee), isa.Reg(d))}, ErrArity},
		{"too many args", &isa.Instruction{Op: isa.OpCall, HasReturn: true, Operands: ops(isa.Reg(d), isa.Callee(callee), isa.Reg(d), isa.Reg(d))}, ErrArity},
		{"no callee", &isa.Instruction{Op: isa.OpCall}, ErrArity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCall(tt.call)
			if tt.want == nil && err != nil {
				t.Errorf("expected nil, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerify_Unreachable(t *testing.T) {
	d := testutil.Reg("d", isa.U32)
	end := &isa.Symbol{Name: "END", Kind: isa.SymLabel, PC: 3}
	m, _ := testutil.Kernel("k",
		&isa.Instruction{Op: isa.OpBra, Operands: ops(isa.AddrOf(end))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(d), testutil.U32(1))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(d), testutil.U32(2))},
		&isa.Instruction{Op: isa.OpExit},
	)
	issues := New(WithUnreachable()).Verify(m)

	var pcs []int
	for _, i := range issues {
		if i.Severity != Warning || !errors.Is(i.Err, ErrUnreachable) {
			t.Errorf("unexpected issue %v", i)
		}
		pcs = append(pcs, i.PC)
	}
	if diff := cmp.Diff([]int{1, 2}, pcs); diff != "" {
		t.Errorf("unreachable pcs mismatch (-want +got):\n%s", diff)
	}
	if err := Err(issues); err != nil {
		t.Errorf("expected warnings only, got %v", err)
	}
}

func TestVerify_OptionsOff(t *testing.T) {
	d := testutil.Reg("d", isa.U32)
	discard := testutil.Reg(isa.DiscardName, isa.U32)
	m, _ := testutil.Kernel("k",
		&isa.Instruction{Op: isa.OpAdd, Type: isa.U32, Operands: ops(isa.Reg(d), isa.Reg(discard), testutil.U32(1))},
	)
	if issues := New().Verify(m); len(issues) != 0 {
		t.Errorf("expected no checks to run, got %v", issues)
	}
	if issues := New(WithDiscard()).Verify(m); len(issues) != 1 {
		t.Errorf("expected 1 issue, got %v", issues)
	}
}
