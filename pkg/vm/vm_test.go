package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

func TestSetp_PredicateConvention(t *testing.T) {
	tests := []struct {
		name string
		typ  isa.Type
		cmp  isa.CmpOp
		a, b isa.Operand
		want bool
	}{
		{"lt true", isa.S32, isa.CmpLT, s32(1), s32(2), true},
		{"lt false", isa.S32, isa.CmpLT, s32(2), s32(1), false},
		{"signed", isa.S32, isa.CmpLT, s32(-1), s32(0), true},
		{"unsigned", isa.U32, isa.CmpLO, u32(0xFFFFFFFF), u32(0), false},
		{"float", isa.F32, isa.CmpGE, f32(1.5), f32(1.5), true},
		{"nan ordered", isa.F32, isa.CmpEQ, f32(float32(math.NaN())), f32(0), false},
		{"nan unordered", isa.F32, isa.CmpEQU, f32(float32(math.NaN())), f32(0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.Reg("p", isa.Pred)
			d := testutil.Reg("d", isa.S32)
			th := single(
				&isa.Instruction{Op: isa.OpSetp, Type: tt.typ, Cmp: tt.cmp, Operands: ops(isa.Reg(p), tt.a, tt.b)},
				&isa.Instruction{Op: isa.OpSelp, Type: isa.S32, Operands: ops(isa.Reg(d), s32(10), s32(20), isa.Reg(p))},
			)
			run(t, quietEngine(), th)

			pv := reg(t, th, p)
			if pv.True() != tt.want {
				t.Errorf("expected predicate %v, got %v", tt.want, pv.True())
			}
			// A true predicate has the zero flag clear.
			if tt.want && pv.Pred() != 0 {
				t.Errorf("expected raw predicate 0, got %#x", pv.Pred())
			}
			want := int32(20)
			if tt.want {
				want = 10
			}
			if got := reg(t, th, d).S32(); got != want {
				t.Errorf("selp: expected %d, got %d", want, got)
			}
		})
	}
}

func TestAdd_CarryAndOverflow(t *testing.T) {
	tests := []struct {
		name     string
		typ      isa.Type
		a, b     isa.Operand
		sum      uint32
		carry    bool
		overflow bool
		zero     bool
	}{
		{"u32 carry", isa.U32, u32(0xFFFFFFFF), u32(1), 0, true, false, true},
		{"u32 plain", isa.U32, u32(1), u32(2), 3, false, false, false},
		// The zero flag of a signed result ignores the sign bit.
		{"s32 overflow", isa.S32, s32(math.MaxInt32), s32(1), 0x80000000, false, true, true},
		{"s32 negative", isa.S32, s32(-5), s32(2), 0xFFFFFFFD, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.Reg("p", isa.Pred)
			r := testutil.Reg("r", tt.typ)
			th := single(&isa.Instruction{
				Op:       isa.OpAdd,
				Type:     tt.typ,
				Operands: ops(isa.Pair(isa.DoublePredFlags, p, r), tt.a, tt.b),
			})
			run(t, quietEngine(), th)

			if got := reg(t, th, r).U32(); got != tt.sum {
				t.Errorf("expected sum %#x, got %#x", tt.sum, got)
			}
			flags := reg(t, th, p).U64()
			if got := flags&value.PredCarry != 0; got != tt.carry {
				t.Errorf("carry: expected %v, got %v", tt.carry, got)
			}
			if got := flags&value.PredOverflow != 0; got != tt.overflow {
				t.Errorf("overflow: expected %v, got %v", tt.overflow, got)
			}
			if got := flags&value.PredZero != 0; got != tt.zero {
				t.Errorf("zero: expected %v, got %v", tt.zero, got)
			}
		})
	}
}

func TestCvt_IntegralRounding(t *testing.T) {
	tests := []struct {
		in   float32
		r    isa.Rounding
		want int32
	}{
		{2.7, isa.RZI, 2},
		{-2.7, isa.RZI, -2},
		{2.5, isa.RNI, 2},
		{-2.5, isa.RMI, -3},
		{2.1, isa.RPI, 3},
	}
	for _, tt := range tests {
		d := testutil.Reg("d", isa.S32)
		th := single(&isa.Instruction{
			Op: isa.OpCvt, Type: isa.S32, SrcType: isa.F32, Rounding: tt.r,
			Operands: ops(isa.Reg(d), f32(tt.in)),
		})
		run(t, quietEngine(), th)
		if got := reg(t, th, d).S32(); got != tt.want {
			t.Errorf("cvt.%s.s32.f32 %v: expected %d, got %d", tt.r, tt.in, tt.want, got)
		}
	}
}

func TestBfe(t *testing.T) {
	tests := []struct {
		name     string
		typ      isa.Type
		a        uint32
		pos, len uint32
		want     uint32
	}{
		{"unsigned", isa.U32, 0xFF00, 8, 8, 0xFF},
		{"signed extends", isa.S32, 0xFF00, 8, 8, 0xFFFFFFFF},
		{"zero length", isa.U32, 0xFF00, 8, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testutil.Reg("d", tt.typ)
			th := single(&isa.Instruction{
				Op: isa.OpBfe, Type: tt.typ,
				Operands: ops(isa.Reg(d), isa.Imm(tt.typ, uint64(tt.a)), u32(tt.pos), u32(tt.len)),
			})
			run(t, quietEngine(), th)
			if got := reg(t, th, d).U32(); got != tt.want {
				t.Errorf("expected %#x, got %#x", tt.want, got)
			}
		})
	}
}

func TestExecute_Guard(t *testing.T) {
	p := testutil.Reg("p", isa.Pred)
	d := testutil.Reg("d", isa.U32)
	th := single(
		&isa.Instruction{Op: isa.OpSetp, Type: isa.U32, Cmp: isa.CmpEQ, Operands: ops(isa.Reg(p), u32(1), u32(2))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Guard: p, Operands: ops(isa.Reg(d), u32(7))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Guard: p, GuardNeg: true, Operands: ops(isa.Reg(d), u32(9))},
	)
	e := quietEngine()
	run(t, e, th)

	if got := reg(t, th, d).U32(); got != 9 {
		t.Errorf("expected 9, got %d", got)
	}
	stats := e.Stats()
	if stats.Steps != 3 || stats.Guarded != 1 {
		t.Errorf("expected 3 steps with 1 guarded, got %+v", stats)
	}
}

func TestLdSt_Global(t *testing.T) {
	d := testutil.Reg("d", isa.U32)
	st := &isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Addr(0x100), u32(42))}
	ld := &isa.Instruction{Op: isa.OpLd, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Reg(d), isa.Addr(0x100))}
	th := single(st, ld)
	e := quietEngine()

	if err := e.Execute(th, st); err != nil {
		t.Fatal(err)
	}
	want := Access{Valid: true, Space: isa.SpaceGlobal, Addr: 0x100, Size: 4, Write: true}
	if diff := cmp.Diff(want, th.LastAccess); diff != "" {
		t.Errorf("store access mismatch (-want +got):\n%s", diff)
	}
	if err := e.Execute(th, ld); err != nil {
		t.Fatal(err)
	}
	if got := reg(t, th, d).U32(); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if th.LastAccess.Write {
		t.Error("load recorded as a write")
	}
}

func TestExecute_Fault(t *testing.T) {
	d := testutil.Reg("d", isa.U32)
	div := &isa.Instruction{Op: isa.OpDiv, Type: isa.U32, SourceFile: "k.ptx", SourceLine: 3,
		Operands: ops(isa.Reg(d), u32(1), u32(0))}
	th := single(div)
	e := quietEngine()

	err := e.Execute(th, div)
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *Fault, got %v", err)
	}
	if !errors.Is(err, ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
	if f.Line != 3 || f.File != "k.ptx" {
		t.Errorf("expected k.ptx:3, got %s:%d", f.File, f.Line)
	}
	if th.PC != 0 {
		t.Errorf("expected pc unchanged, got %d", th.PC)
	}
	if e.Stats().Faults != 1 {
		t.Errorf("expected 1 fault, got %d", e.Stats().Faults)
	}
}

func TestExecute_ThreadDone(t *testing.T) {
	exit := &isa.Instruction{Op: isa.OpExit}
	th := single(exit)
	e := quietEngine()
	if err := e.Execute(th, exit); err != nil {
		t.Fatal(err)
	}
	if err := e.Execute(th, exit); !errors.Is(err, ErrThreadDone) {
		t.Errorf("expected ErrThreadDone, got %v", err)
	}
}

func TestNotImplemented(t *testing.T) {
	inst := &isa.Instruction{Op: isa.OpLoadDeref}
	th := single(inst)
	if err := quietEngine().Execute(th, inst); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}
