package memory

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

func TestPaged_ReadWrite(t *testing.T) {
	p := NewPaged("global")

	if err := p.Write(0x100, 4, value.FromU64(0xDEADBEEF)); err != nil {
		t.Fatal(err)
	}
	v, err := p.Read(0x100, 4)
	if err != nil {
		t.Fatal(err)
	}
	if v.U32() != 0xDEADBEEF {
		t.Errorf("expected 0xDEADBEEF, got %v", v)
	}

	b, _ := p.Read(0x100, 1)
	if b.U8() != 0xEF {
		t.Errorf("expected little-endian low byte 0xEF, got 0x%X", b.U8())
	}

	// Unwritten bytes read as zero.
	z, _ := p.Read(0x900000, 8)
	if z != (value.Reg{}) {
		t.Errorf("expected zero, got %v", z)
	}
}

func TestPaged_WideAccessAcrossPages(t *testing.T) {
	p := NewPaged("global")
	want := value.FromLanes(1, 2, 3, 4)
	addr := uint64(PageSize - 6)
	if err := p.Write(addr, 16, want); err != nil {
		t.Fatal(err)
	}
	got, err := p.Read(addr, 16)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Span{{Addr: 0, Size: 2 * PageSize}}, p.Spans()); diff != "" {
		t.Errorf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestPaged_BadSize(t *testing.T) {
	p := NewPaged("global")
	if _, err := p.Read(0, 3); !errors.Is(err, ErrBadAccessSize) {
		t.Errorf("expected ErrBadAccessSize, got %v", err)
	}
	if err := p.Write(0, 32, value.Reg{}); !errors.Is(err, ErrBadAccessSize) {
		t.Errorf("expected ErrBadAccessSize, got %v", err)
	}
}

func TestAddressMap_Layout(t *testing.T) {
	m := DefaultAddressMap()
	if m.SharedGenericStart() != 0xBFC00000 {
		t.Errorf("expected shared start 0xBFC00000, got 0x%X", m.SharedGenericStart())
	}
	if m.LocalGenericStart() != 0x3FC00000 {
		t.Errorf("expected local start 0x3FC00000, got 0x%X", m.LocalGenericStart())
	}

	tests := []struct {
		addr uint64
		want isa.Space
	}{
		{0x1000, isa.SpaceGlobal},
		{0xC0001000, isa.SpaceGlobal},
		{0xBFC00010, isa.SpaceShared},
		{0x40000000, isa.SpaceLocal},
	}
	for _, tt := range tests {
		if got := m.WhichSpace(tt.addr); got != tt.want {
			t.Errorf("WhichSpace(0x%X): expected %v, got %v", tt.addr, tt.want, got)
		}
	}
}

func TestAddressMap_RoundTrip(t *testing.T) {
	m := DefaultAddressMap()
	for _, smid := range []int{0, 3, 63} {
		g := m.SharedToGeneric(0x40, smid)
		if !m.IsShared(g) || m.GenericToShared(g, smid) != 0x40 {
			t.Errorf("shared round trip failed for sm %d: 0x%X", smid, g)
		}
		l := m.LocalToGeneric(0x10, smid, 7)
		if !m.IsLocal(l) || m.GenericToLocal(l, smid, 7) != 0x10 {
			t.Errorf("local round trip failed for sm %d: 0x%X", smid, l)
		}
	}
}

func newBank() *Bank {
	return &Bank{
		Global:      NewPaged("global"),
		Shared:      NewPaged("shared"),
		Local:       NewPaged("local"),
		ParamKernel: NewPaged("param"),
	}
}

func TestResolver_Spaces(t *testing.T) {
	r := NewResolver(DefaultAddressMap())
	bank := newBank()
	tgt := Target{SMID: 2, HWTID: 5, StackPointer: 0x80, Bank: bank}

	tests := []struct {
		name      string
		space     isa.Space
		sym       *isa.Symbol
		addr      uint64
		wantStore Store
		wantSpace isa.Space
		wantAddr  uint64
	}{
		{"global", isa.SpaceGlobal, nil, 0x10, bank.Global, isa.SpaceGlobal, 0x10},
		{"const lives in global", isa.SpaceConst, nil, 0x20, bank.Global, isa.SpaceConst, 0x20},
		{"local adds stack pointer", isa.SpaceLocal, nil, 0x8, bank.Local, isa.SpaceLocal, 0x88},
		{"param local adds stack pointer", isa.SpaceParamLocal, nil, 0x4, bank.Local, isa.SpaceParamLocal, 0x84},
		{"shared", isa.SpaceShared, nil, 0x30, bank.Shared, isa.SpaceShared, 0x30},
		{"param kernel", isa.SpaceParamKernel, nil, 0x0, bank.ParamKernel, isa.SpaceParamKernel, 0x0},
		{"param of kernel symbol", isa.SpaceParamUnclassified, &isa.Symbol{Name: "a", Kind: isa.SymParamKernel}, 0x8, bank.ParamKernel, isa.SpaceParamKernel, 0x8},
		{"param of register", isa.SpaceParamUnclassified, &isa.Symbol{Name: "%r1", Kind: isa.SymReg}, 0x8, bank.ParamKernel, isa.SpaceParamKernel, 0x8},
		{"param of local symbol", isa.SpaceParamUnclassified, &isa.Symbol{Name: "b", Kind: isa.SymParamLocal}, 0x8, bank.Local, isa.SpaceParamLocal, 0x88},
		{"generic global", isa.SpaceGeneric, nil, 0x1000, bank.Global, isa.SpaceGlobal, 0x1000},
		{"generic shared", isa.SpaceGeneric, nil, r.Map.SharedToGeneric(0x44, 2), bank.Shared, isa.SpaceShared, 0x44},
		{"generic local", isa.SpaceGeneric, nil, r.Map.LocalToGeneric(0x18, 2, 5), bank.Local, isa.SpaceLocal, 0x18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := r.Resolve(tt.space, tt.sym, tt.addr, tgt)
			if err != nil {
				t.Fatal(err)
			}
			if loc.Store != tt.wantStore {
				t.Errorf("resolved to the wrong store")
			}
			if loc.Space != tt.wantSpace || loc.Addr != tt.wantAddr {
				t.Errorf("expected %v@0x%X, got %v@0x%X", tt.wantSpace, tt.wantAddr, loc.Space, loc.Addr)
			}
		})
	}
}

func TestResolver_Errors(t *testing.T) {
	r := NewResolver(DefaultAddressMap())
	tgt := Target{Bank: newBank()}

	if _, err := r.Resolve(isa.SpaceReg, nil, 0, tgt); !errors.Is(err, ErrBadAddressSpace) {
		t.Errorf("expected ErrBadAddressSpace for reg space, got %v", err)
	}
	if _, err := r.Resolve(isa.SpaceParamUnclassified, &isa.Symbol{Name: "g", Kind: isa.SymGlobal}, 0, tgt); !errors.Is(err, ErrBadAddressSpace) {
		t.Errorf("expected ErrBadAddressSpace for global param, got %v", err)
	}
	if _, err := r.Resolve(isa.SpaceTex, nil, 0, tgt); !errors.Is(err, ErrNoStore) {
		t.Errorf("expected ErrNoStore for unbound tex, got %v", err)
	}
}

func TestResolver_Cvta(t *testing.T) {
	r := NewResolver(DefaultAddressMap())
	tgt := Target{SMID: 1, HWTID: 9, StackPointer: 0x20, Bank: newBank()}

	g, err := r.ToGeneric(isa.SpaceShared, 0x10, tgt)
	if err != nil {
		t.Fatal(err)
	}
	back, err := r.FromGeneric(isa.SpaceShared, g, tgt)
	if err != nil || back != 0x10 {
		t.Errorf("expected 0x10, got 0x%X (%v)", back, err)
	}

	gl, _ := r.ToGeneric(isa.SpaceLocal, 0x10, tgt)
	if local, _ := r.FromGeneric(isa.SpaceLocal, gl, tgt); local != 0x30 {
		t.Errorf("expected stack pointer folded in (0x30), got 0x%X", local)
	}

	in, err := r.InSpace(isa.SpaceShared, g, tgt)
	if err != nil || !in {
		t.Errorf("expected generic shared address to be in shared space")
	}
	other := Target{SMID: 2, Bank: tgt.Bank}
	if in, _ := r.InSpace(isa.SpaceShared, g, other); in {
		t.Errorf("expected another SM's window to be excluded")
	}
	if _, err := r.InSpace(isa.SpaceConst, g, tgt); !errors.Is(err, ErrBadAddressSpace) {
		t.Errorf("expected ErrBadAddressSpace, got %v", err)
	}
}
