package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

func TestLoad_CSV(t *testing.T) {
	path := testutil.TempFile(t, `space,addr,type,value
global,64,u32,7
shared,0,f32,1.5
param_kernel,8,u64,4096
`, ".csv")

	entries, err := Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	want := []Entry{
		{Space: isa.SpaceGlobal, Addr: 64, Type: isa.U32, Value: value.FromU64(7)},
		{Space: isa.SpaceShared, Addr: 0, Type: isa.F32, Value: value.FromF32(1.5)},
		{Space: isa.SpaceParamKernel, Addr: 8, Type: isa.U64, Value: value.FromU64(4096)},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	bank := testutil.NewBank()
	if err := Apply(bank, entries); err != nil {
		t.Fatal(err)
	}
	if v, _ := bank.Global.Read(64, 4); v.U32() != 7 {
		t.Errorf("expected 7 in global, got %d", v.U32())
	}
	if v, _ := bank.Shared.Read(0, 4); v.F32() != 1.5 {
		t.Errorf("expected 1.5 in shared, got %v", v.F32())
	}
	if v, _ := bank.ParamKernel.Read(8, 8); v.U64() != 4096 {
		t.Errorf("expected 4096 in param, got %d", v.U64())
	}
}

func TestLoad_JSON(t *testing.T) {
	path := testutil.TempFile(t, `[
		{"addr": 16, "type": "s32", "value": -1},
		{"addr": 20, "type": "f64", "value": 0.25}
	]`, ".json")

	entries, err := Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if e := entries[0]; e.Space != isa.SpaceGlobal || e.Value.U64() != 0xFFFFFFFF {
		t.Errorf("expected global 0xffffffff, got %s 0x%x", e.Space, e.Value.U64())
	}
	if got := entries[1].Value.F64(); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    error
	}{
		{"missing value column", "addr,type\n0,u32\n", ".csv", ErrBadColumn},
		{"bad type", "addr,type,value\n0,u7,1\n", ".csv", ErrBadValue},
		{"predicate type", "addr,type,value\n0,pred,1\n", ".csv", ErrBadValue},
		{"bad space", "space,addr,type,value\nheap,0,u32,1\n", ".csv", ErrBadValue},
		{"negative address", "addr,type,value\n-4,u32,1\n", ".csv", ErrBadValue},
		{"unknown extension", "", ".txt", ErrUnknownFormat},
		{"empty json", "  ", ".json", ErrEmptyFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.TempFile(t, tt.content, tt.ext)
			if _, err := Load(context.Background(), path); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		in   interface{}
		typ  isa.Type
		want uint64
	}{
		{"0xFF", isa.U8, 0xFF},
		{"0x1FF", isa.U8, 0xFF},
		{"-2", isa.S16, 0xFFFE},
		{int64(-1), isa.B64, 0xFFFFFFFFFFFFFFFF},
		{float64(3), isa.U32, 3},
		{"2.5", isa.F32, uint64(value.FromF32(2.5).U32())},
	}
	for _, tt := range tests {
		got, err := encode(tt.in, tt.typ)
		if err != nil {
			t.Fatalf("encode(%v, %s): %v", tt.in, tt.typ, err)
		}
		if got.U64() != tt.want {
			t.Errorf("encode(%v, %s): expected 0x%x, got 0x%x", tt.in, tt.typ, tt.want, got.U64())
		}
	}

	if _, err := encode(1.5, isa.U32); err == nil {
		t.Error("expected an error for a fractional integer value")
	}
	if _, err := encode("seven", isa.U32); err == nil {
		t.Error("expected an error for a non-numeric value")
	}
}
