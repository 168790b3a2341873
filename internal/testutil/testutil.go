// Package testutil provides testing utilities for warpsim tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
)

// TempFile creates a temporary file with the given content and extension.
// The file is automatically cleaned up when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// Reg returns a fresh register symbol.
func Reg(name string, typ isa.Type) *isa.Symbol {
	return &isa.Symbol{Name: name, Kind: isa.SymReg, Type: typ}
}

// Regs returns one register symbol per name, all of type typ.
func Regs(typ isa.Type, names ...string) []*isa.Symbol {
	out := make([]*isa.Symbol, len(names))
	for i, n := range names {
		out[i] = Reg(n, typ)
	}
	return out
}

// U32 returns a 32-bit unsigned literal operand.
func U32(v uint32) isa.Operand { return isa.Imm(isa.U32, uint64(v)) }

// NewBank returns a bank with every store backed by a fresh paged memory.
func NewBank() *memory.Bank {
	return &memory.Bank{
		Global:      memory.NewPaged("global"),
		Shared:      memory.NewPaged("shared"),
		Local:       memory.NewPaged("local"),
		ParamKernel: memory.NewPaged("param"),
		Tex:         memory.NewPaged("tex"),
		Surf:        memory.NewPaged("surf"),
		SStarr:      memory.NewPaged("sstarr"),
	}
}

// Kernel appends an entry function with the given body to a new module.
func Kernel(name string, body ...*isa.Instruction) (*isa.Module, *isa.Function) {
	m := isa.NewModule(name)
	fn := &isa.Function{Name: name, Entry: true}
	m.Append(fn, body)
	return m, fn
}
