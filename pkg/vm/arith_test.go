package vm

import (
	"testing"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

func TestMul_HiWide(t *testing.T) {
	tests := []struct {
		name string
		typ  isa.Type
		mode isa.MulMode
		dtyp isa.Type
		a, b isa.Operand
		want uint64
	}{
		{"lo u32", isa.U32, isa.MulLo, isa.U32, u32(0x80000000), u32(4), 0},
		{"hi u32", isa.U32, isa.MulHi, isa.U32, u32(0x80000000), u32(4), 2},
		{"hi s32", isa.S32, isa.MulHi, isa.S32, s32(-2), s32(3), 0xFFFFFFFF},
		{"wide u32", isa.U32, isa.MulWide, isa.U64, u32(0x80000000), u32(4), 0x200000000},
		{"wide s32", isa.S32, isa.MulWide, isa.S64, s32(-2), s32(3), 0xFFFFFFFFFFFFFFFA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testutil.Reg("d", tt.dtyp)
			th := single(&isa.Instruction{Op: isa.OpMul, Type: tt.typ, Mul: tt.mode, Operands: ops(isa.Reg(d), tt.a, tt.b)})
			run(t, quietEngine(), th)

			if got := reg(t, th, d).U64(); got != tt.want {
				t.Errorf("expected %#x, got %#x", tt.want, got)
			}
		})
	}
}

func TestMadc_CarryIn(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c uint32
		cin     uint64
		want    uint32
		flags   uint64
	}{
		{"no carry", 2, 3, 4, 0, 10, 0},
		{"carry in", 2, 3, 4, value.PredCarry, 11, 0},
		{"carry out", 0xFFFFFFFF, 1, 0, value.PredCarry, 0, value.PredZero | value.PredCarry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pin := testutil.Reg("pin", isa.Pred)
			pout := testutil.Reg("pout", isa.Pred)
			d := testutil.Reg("d", isa.U32)
			th := single(&isa.Instruction{Op: isa.OpMadc, Type: isa.U32, Operands: ops(
				isa.Pair(isa.DoublePredFlags, pout, d), u32(tt.a), u32(tt.b), u32(tt.c), isa.Reg(pin))})
			th.SetReg(pin, value.FromU64(tt.cin))
			run(t, quietEngine(), th)

			if got := reg(t, th, d).U32(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
			if got := reg(t, th, pout).U64(); got != tt.flags {
				t.Errorf("expected flags %#x, got %#x", tt.flags, got)
			}
		})
	}

	// mad ignores the predicate operand.
	pin := testutil.Reg("pin", isa.Pred)
	d := testutil.Reg("d", isa.U32)
	th := single(&isa.Instruction{Op: isa.OpMad, Type: isa.U32, Operands: ops(
		isa.Reg(d), u32(2), u32(3), u32(4), isa.Reg(pin))})
	th.SetReg(pin, value.FromU64(value.PredCarry))
	run(t, quietEngine(), th)
	if got := reg(t, th, d).U32(); got != 10 {
		t.Errorf("mad: expected 10, got %d", got)
	}
}

func TestDivRem_Signed(t *testing.T) {
	tests := []struct {
		name string
		op   isa.Opcode
		a, b int32
		want uint32
	}{
		{"div min by -1", isa.OpDiv, -2147483648, -1, 0x80000000},
		{"div truncates", isa.OpDiv, 7, -2, 0xFFFFFFFD},
		{"rem min by -1", isa.OpRem, -2147483648, -1, 0},
		{"rem sign of dividend", isa.OpRem, -7, 2, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testutil.Reg("d", isa.S32)
			th := single(&isa.Instruction{Op: tt.op, Type: isa.S32, Operands: ops(isa.Reg(d), s32(tt.a), s32(tt.b))})
			run(t, quietEngine(), th)

			if got := reg(t, th, d).U32(); got != tt.want {
				t.Errorf("expected %#x, got %#x", tt.want, got)
			}
		})
	}
}

func TestShr_Width(t *testing.T) {
	tests := []struct {
		name string
		typ  isa.Type
		a    uint32
		n    uint32
		want uint32
	}{
		{"signed fill", isa.S32, 0x80000000, 40, 0xFFFFFFFF},
		{"signed positive", isa.S32, 0x40000000, 40, 0},
		{"signed by one", isa.S32, 0xFFFFFFF8, 1, 0xFFFFFFFC},
		{"unsigned past width", isa.U32, 0xFFFFFFFF, 40, 0},
		{"unsigned at width", isa.U32, 0xFFFFFFFF, 32, 0},
		{"unsigned", isa.U32, 0x80000000, 31, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testutil.Reg("d", tt.typ)
			th := single(&isa.Instruction{Op: isa.OpShr, Type: tt.typ, Operands: ops(
				isa.Reg(d), isa.Imm(tt.typ, uint64(tt.a)), u32(tt.n))})
			run(t, quietEngine(), th)

			if got := reg(t, th, d).U32(); got != tt.want {
				t.Errorf("expected %#x, got %#x", tt.want, got)
			}
		})
	}
}

func TestCnot(t *testing.T) {
	tests := []struct {
		name string
		typ  isa.Type
		src  value.Reg
		want uint64
	}{
		{"zero", isa.U32, value.FromU64(0), 1},
		{"nonzero", isa.U32, value.FromU64(5), 0},
		{"high bits ignored", isa.U16, value.FromU64(0x10000), 1},
		// A true predicate has raw value 0, so cnot writes the raw false.
		{"true predicate", isa.Pred, value.FromCond(true), 1},
		{"false predicate", isa.Pred, value.FromCond(false), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testutil.Reg("a", tt.typ)
			d := testutil.Reg("d", tt.typ)
			th := single(&isa.Instruction{Op: isa.OpCnot, Type: tt.typ, Operands: ops(isa.Reg(d), isa.Reg(a))})
			th.SetReg(a, tt.src)
			run(t, quietEngine(), th)

			if got := reg(t, th, d).U64(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPredicateLogic(t *testing.T) {
	ops3 := []struct {
		op   isa.Opcode
		eval func(a, b bool) bool
	}{
		{isa.OpAnd, func(a, b bool) bool { return a && b }},
		{isa.OpOr, func(a, b bool) bool { return a || b }},
		{isa.OpXor, func(a, b bool) bool { return a != b }},
	}
	for _, o := range ops3 {
		for _, a := range []bool{false, true} {
			for _, b := range []bool{false, true} {
				pa := testutil.Reg("pa", isa.Pred)
				pb := testutil.Reg("pb", isa.Pred)
				pd := testutil.Reg("pd", isa.Pred)
				th := single(&isa.Instruction{Op: o.op, Type: isa.Pred, Operands: ops(isa.Reg(pd), isa.Reg(pa), isa.Reg(pb))})
				th.SetReg(pa, value.FromCond(a))
				th.SetReg(pb, value.FromCond(b))
				run(t, quietEngine(), th)

				if got, want := reg(t, th, pd).True(), o.eval(a, b); got != want {
					t.Errorf("%s(%v, %v): expected %v, got %v", o.op, a, b, want, got)
				}
			}
		}
	}
}
