package isa

import (
	"errors"
	"strings"
	"testing"
)

func sampleModule() *Module {
	m := NewModule("sample")
	m.Globals["g_out"] = &Symbol{Name: "g_out", Kind: SymGlobal, Type: U32, Address: 0x1000, Size: 4}

	callee := &Function{Name: "twice", Symbols: map[string]*Symbol{}}
	x := &Symbol{Name: "x", Kind: SymReg, Type: U32}
	ret := &Symbol{Name: "y", Kind: SymReg, Type: U32}
	callee.Params = []*Symbol{x}
	callee.Return = ret
	callee.Symbols["x"] = x
	callee.Symbols["y"] = ret
	m.Append(callee, []*Instruction{
		{Op: OpAdd, Type: U32, Operands: []Operand{Reg(ret), Reg(x), Reg(x)}},
		{Op: OpRet},
	})

	kern := &Function{Name: "main", Entry: true, Symbols: map[string]*Symbol{}}
	r1 := &Symbol{Name: "%r1", Kind: SymReg, Type: U32}
	r2 := &Symbol{Name: "%r2", Kind: SymReg, Type: U32}
	p := &Symbol{Name: "%p1", Kind: SymReg, Type: Pred}
	done := &Symbol{Name: "DONE", Kind: SymLabel, PC: 4}
	for _, s := range []*Symbol{r1, r2, p, done} {
		kern.Symbols[s.Name] = s
	}
	m.Append(kern, []*Instruction{
		{Op: OpMov, Type: U32, Operands: []Operand{Reg(r1), Special(BuiltinTid, 0)}},
		{Op: OpSetp, Type: U32, Cmp: CmpLT, Operands: []Operand{Reg(p), Reg(r1), Imm(U32, 4)}},
		{Op: OpBra, Guard: p, GuardNeg: true, Operands: []Operand{AddrOf(done)}},
		{Op: OpCall, HasReturn: true, Operands: []Operand{Reg(r2), Callee(callee), Reg(r1)},
			SourceFile: "sample.ptx", SourceLine: 12},
		{Op: OpSt, Type: U32, Space: SpaceGlobal, Operands: []Operand{AddrOf(m.Globals["g_out"]), Reg(r2)}},
		{Op: OpExit},
	})
	return m
}

func TestJSON_RoundTrip(t *testing.T) {
	m := sampleModule()
	data, err := EncodeJSON(m)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}

	restored, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}

	if got, want := Disassemble(restored), Disassemble(m); got != want {
		t.Errorf("listing changed after round trip:\n--- want\n%s\n--- got\n%s", want, got)
	}

	kern, err := restored.Function("main")
	if err != nil {
		t.Fatalf("Function failed: %v", err)
	}
	if kern.Start != 2 || kern.End != 8 {
		t.Errorf("expected main at [2,8), got [%d,%d)", kern.Start, kern.End)
	}
	if done := kern.Symbols["DONE"]; done.PC != 6 {
		t.Errorf("expected label rebased to pc 6, got %d", done.PC)
	}

	call := restored.Code[5]
	if call.Op != OpCall || call.Src(1).Func == nil || call.Src(1).Func.Name != "twice" {
		t.Fatalf("call operand not linked: %+v", call.Src(1))
	}
	// Register identity is per declaration.
	if call.Src(2).Sym != restored.Code[2].Dst().Sym {
		t.Errorf("expected %%r1 to resolve to one symbol within main")
	}
}

func TestBytecode_RoundTrip(t *testing.T) {
	m := sampleModule()
	data, err := Serialize(m)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if string(data[:4]) != BytecodeMagic {
		t.Errorf("expected magic %q, got %q", BytecodeMagic, string(data[:4]))
	}

	restored, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if len(restored.Code) != len(m.Code) {
		t.Errorf("expected %d instructions, got %d", len(m.Code), len(restored.Code))
	}
	if restored.Code[4].Guard == nil || !restored.Code[4].GuardNeg {
		t.Errorf("expected guarded branch, got %+v", restored.Code[4])
	}
}

func TestDeserialize_InvalidMagic(t *testing.T) {
	_, err := Deserialize([]byte("NOPE\x01\x00"))
	if !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestDeserialize_InvalidVersion(t *testing.T) {
	_, err := Deserialize([]byte("WSBC\x09\x00"))
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestDecodeJSON_UnknownSymbol(t *testing.T) {
	src := `{"name":"bad","functions":[{"name":"k","entry":true,"code":[
		{"op":"mov","type":"u32","operands":[{"kind":"reg","sym":"%r9"},{"kind":"literal","bits":1}]}]}]}`
	_, err := DecodeJSON([]byte(src))
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestDecodeJSON_BadModifier(t *testing.T) {
	src := `{"name":"bad","functions":[{"name":"k","entry":true,"code":[
		{"op":"setp","type":"u32","cmp":"sideways"}]}]}`
	_, err := DecodeJSON([]byte(src))
	if !errors.Is(err, ErrInvalidProgram) {
		t.Errorf("expected ErrInvalidProgram, got %v", err)
	}
}

func TestDecodeJSON_DiscardRegister(t *testing.T) {
	src := `{"name":"d","functions":[{"name":"k","entry":true,"code":[
		{"op":"mov","type":"u32","operands":[{"kind":"reg","sym":"_"},{"kind":"literal","bits":1}]}]}]}`
	m, err := DecodeJSON([]byte(src))
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if !m.Code[0].Dst().IsDiscard() {
		t.Errorf("expected discard destination")
	}
}

func TestDisassemble(t *testing.T) {
	out := Disassemble(sampleModule())
	for _, want := range []string{
		".entry main()",
		".func (.u32 y) twice(.u32 x)",
		"DONE:",
		"@!%p1 bra",
		"setp.lt.u32",
		"st.global.u32",
		"// sample.ptx:12",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected listing to contain %q\n%s", want, out)
		}
	}
}
