package convert

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/x448/float16"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

func TestConvert_IntegerWidening(t *testing.T) {
	tests := []struct {
		name     string
		in       uint64
		from, to isa.Type
		want     uint64
	}{
		{"s8 to s32 negative", 0x80, isa.S8, isa.S32, 0xFFFFFFFFFFFFFF80},
		{"u8 to u32", 0x80, isa.U8, isa.U32, 0x80},
		{"s32 to u64", 0xFFFFFFFF, isa.S32, isa.U64, 0xFFFFFFFFFFFFFFFF},
		{"u32 to s64", 0xFFFFFFFF, isa.U32, isa.S64, 0xFFFFFFFF},
		{"s64 to s16 chops", 0x12345678, isa.S64, isa.S16, 0x5678},
		{"b32 shares u32 row", 0xFFFF, isa.B32, isa.U64, 0xFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(value.FromU64(tt.in), tt.from, tt.to, isa.RoundNone, false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Lo != tt.want {
				t.Errorf("expected 0x%X, got 0x%X", tt.want, got.Lo)
			}
		})
	}
}

func TestConvert_WidenThenNarrowIsIdentity(t *testing.T) {
	pairs := []struct{ narrow, wide isa.Type }{
		{isa.S8, isa.S32}, {isa.S16, isa.S64}, {isa.U8, isa.U16}, {isa.U32, isa.U64},
	}
	inputs := []uint64{0, 1, 0x7F, 0x80, 0xFF, 0x1234, 0xFFFFFFFF}
	for _, p := range pairs {
		for _, in := range inputs {
			x := value.FromU64(in & value.Mask(p.narrow.Bits()))
			wide, err := Convert(x, p.narrow, p.wide, isa.RoundNone, false)
			if err != nil {
				t.Fatal(err)
			}
			back, err := Convert(wide, p.wide, p.narrow, isa.RoundNone, false)
			if err != nil {
				t.Fatal(err)
			}
			if back.Bits(p.narrow.Bits()) != x.Lo {
				t.Errorf("%s->%s->%s: 0x%X became 0x%X", p.narrow, p.wide, p.narrow, x.Lo, back.Lo)
			}
		}
	}
}

func TestConvert_IntegerSaturation(t *testing.T) {
	tests := []struct {
		name     string
		in       value.Reg
		from, to isa.Type
		want     uint64
	}{
		{"s32 to s8 high", value.FromS64(1000), isa.S32, isa.S8, 127},
		{"s32 to s8 low", value.FromS64(-1000), isa.S32, isa.S8, 0x80},
		{"s32 to u8 negative", value.FromS64(-5), isa.S32, isa.U8, 0},
		{"u32 to s16", value.FromU64(0xFFFFFFFF), isa.U32, isa.S16, 0x7FFF},
		{"u64 to u32", value.FromU64(math.MaxUint64), isa.U64, isa.U32, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.from, tt.to, isa.RoundNone, true)
			if err != nil {
				t.Fatal(err)
			}
			if got.Bits(64) != tt.want {
				t.Errorf("expected 0x%X, got 0x%X", tt.want, got.Lo)
			}
		})
	}
}

func TestConvert_FloatToInt(t *testing.T) {
	tests := []struct {
		name string
		in   value.Reg
		from isa.Type
		to   isa.Type
		r    isa.Rounding
		want uint64
	}{
		{"truncates by default", value.FromF32(2.7), isa.F32, isa.S32, isa.RoundNone, 2},
		{"rni ties to even", value.FromF32(2.5), isa.F32, isa.S32, isa.RNI, 2},
		{"rmi floors", value.FromF32(-2.5), isa.F32, isa.S32, isa.RMI, 0xFFFFFFFD},
		{"rpi ceils", value.FromF64(2.1), isa.F64, isa.U32, isa.RPI, 3},
		{"clamps above s32", value.FromF32(3e9), isa.F32, isa.S32, isa.RoundNone, 0x7FFFFFFF},
		{"clamps below s32", value.FromF64(-3e9), isa.F64, isa.S32, isa.RoundNone, 0x80000000},
		{"negative to unsigned", value.FromF32(-1), isa.F32, isa.U16, isa.RoundNone, 0},
		{"nan is zero", value.FromU64(NaN32), isa.F32, isa.S32, isa.RoundNone, 0},
		{"half source", value.FromF16(float16.Fromfloat32(-3.5)), isa.F16, isa.S16, isa.RZI, 0xFFFD},
		{"denormal is zero", value.FromU64(1), isa.F32, isa.U32, isa.RPI, 0},
		{"u64 upper bound", value.FromF64(1e30), isa.F64, isa.U64, isa.RoundNone, math.MaxUint64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.from, tt.to, tt.r, false)
			if err != nil {
				t.Fatal(err)
			}
			if got.Lo != tt.want {
				t.Errorf("expected 0x%X, got 0x%X", tt.want, got.Lo)
			}
		})
	}
}

func TestConvert_IntToFloat(t *testing.T) {
	got, err := Convert(value.FromS64(-7), isa.S32, isa.F32, isa.RoundNone, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.F32() != -7 {
		t.Errorf("expected -7, got %v", got.F32())
	}

	// 2^24+1 is not representable in single precision.
	in := value.FromU64(1<<24 + 1)
	down, _ := Convert(in, isa.U32, isa.F32, isa.RZ, false)
	up, _ := Convert(in, isa.U32, isa.F32, isa.RP, false)
	if down.F32() != 1<<24 || up.F32() != 1<<24+2 {
		t.Errorf("directed rounding: rz=%v rp=%v", down.F32(), up.F32())
	}

	h, _ := Convert(value.FromU64(3), isa.U8, isa.F16, isa.RoundNone, false)
	if h.U16() != 0x4200 {
		t.Errorf("expected half 3.0 (0x4200), got 0x%X", h.U16())
	}
}

func TestConvert_FloatToFloat(t *testing.T) {
	tests := []struct {
		name     string
		in       value.Reg
		from, to isa.Type
		r        isa.Rounding
		sat      bool
		want     value.Reg
	}{
		{"rzi positive", value.FromF32(2.7), isa.F32, isa.F32, isa.RZI, false, value.FromF32(2)},
		{"rzi negative", value.FromF32(-2.7), isa.F32, isa.F32, isa.RZI, false, value.FromF32(-2)},
		{"rni ties to even", value.FromF64(3.5), isa.F64, isa.F64, isa.RNI, false, value.FromF64(4)},
		{"sat clamps high", value.FromF32(1.5), isa.F32, isa.F32, isa.RoundNone, true, value.FromF32(1)},
		{"sat clamps low", value.FromF64(-0.25), isa.F64, isa.F64, isa.RoundNone, true, value.FromF64(0)},
		{"sat keeps nan", value.FromU64(0x7FC00001), isa.F32, isa.F32, isa.RoundNone, true, value.FromU64(NaN32)},
		{"widen half", value.FromF16(float16.Fromfloat32(0.5)), isa.F16, isa.F32, isa.RoundNone, false, value.FromF32(0.5)},
		{"narrow to single", value.FromF64(0.1), isa.F64, isa.F32, isa.RN, false, value.FromF32(0.1)},
		{"widen single", value.FromF32(0.25), isa.F32, isa.F64, isa.RoundNone, false, value.FromF64(0.25)},
		{"double nan canonical", value.FromU64(0x7FF0000000000001), isa.F64, isa.F64, isa.RoundNone, false, value.FromU64(NaN64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.in, tt.from, tt.to, tt.r, tt.sat)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConvert_DirectedNarrowing(t *testing.T) {
	f := 1.0 + math.Ldexp(1, -30)
	down, _ := Convert(value.FromF64(f), isa.F64, isa.F32, isa.RZ, false)
	up, _ := Convert(value.FromF64(f), isa.F64, isa.F32, isa.RP, false)
	if down.F32() != 1 {
		t.Errorf("rz: expected 1, got %v", down.F32())
	}
	if up.F32() != math.Nextafter32(1, 2) {
		t.Errorf("rp: expected next float after 1, got %v", up.F32())
	}
}

func TestConvert_Unsupported(t *testing.T) {
	_, err := Convert(value.Reg{}, isa.Pred, isa.U32, isa.RoundNone, false)
	if !errors.Is(err, ErrUnsupportedConversion) {
		t.Errorf("expected ErrUnsupportedConversion, got %v", err)
	}
}

func TestRound(t *testing.T) {
	got, err := Round(value.FromF32(-2.7), isa.F32, isa.RZI)
	if err != nil {
		t.Fatal(err)
	}
	if got.F32() != -2 {
		t.Errorf("expected -2, got %v", got.F32())
	}
	if _, err := Round(value.FromU64(1), isa.S32, isa.RZI); !errors.Is(err, ErrIntegerRounding) {
		t.Errorf("expected ErrIntegerRounding, got %v", err)
	}
	if _, err := Round(value.FromU64(1), isa.U32, isa.RN); err != nil {
		t.Errorf("rn on integer should be accepted: %v", err)
	}
}

func TestSaturate(t *testing.T) {
	got, err := Saturate(value.FromF64(7), isa.F64)
	if err != nil {
		t.Fatal(err)
	}
	if got.F64() != 1 {
		t.Errorf("expected 1, got %v", got.F64())
	}
	if _, err := Saturate(value.FromU64(7), isa.S32); !errors.Is(err, ErrIntegerSaturation) {
		t.Errorf("expected ErrIntegerSaturation, got %v", err)
	}
}

func TestArith_DirectedRounding(t *testing.T) {
	a, b := float32(1), float32(math.Ldexp(1, -30))
	if got := Arith32(ArithAdd, a, b, isa.RZ); got != 1 {
		t.Errorf("rz add: expected 1, got %v", got)
	}
	if got := Arith32(ArithAdd, a, b, isa.RP); got != math.Nextafter32(1, 2) {
		t.Errorf("rp add: expected next after 1, got %v", got)
	}
	if got := Arith64(ArithDiv, 1, 3, isa.RM); got > 1.0/3 {
		t.Errorf("rm div should not exceed the nearest result, got %v", got)
	}
	if got := Arith64(ArithSub, 2, 2, isa.RM); got != 0 {
		t.Errorf("expected zero, got %v", got)
	}
}

func TestFma_SingleRounding(t *testing.T) {
	a := float32(1 + math.Ldexp(1, -12))
	// a*a = 1 + 2^-11 + 2^-24; only a fused operation keeps the low term.
	got := Fma32(a, a, -1, isa.RN)
	want := float32(math.Ldexp(1, -11) + math.Ldexp(1, -24))
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := Fma64(2, 3, 4, isa.RZ); got != 10 {
		t.Errorf("expected 10, got %v", got)
	}
}
