package isa

import (
	"bytes"
	"fmt"
	"strings"
)

// Disassemble renders a module as an assembly-like listing.
func Disassemble(m *Module) string {
	var buf bytes.Buffer

	buf.WriteString("// Disassembled from WSBC bytecode\n")
	buf.WriteString(fmt.Sprintf("// module %q: %d functions, %d instructions, %d globals\n",
		m.Name, len(m.Functions), len(m.Code), len(m.Globals)))

	for _, s := range sortedSymbols(m.Globals) {
		buf.WriteString(fmt.Sprintf(".%s .%s %s; // @0x%X size %d\n", s.Kind, s.Type, s.Name, s.Address, s.Size))
	}

	for _, f := range m.Functions {
		buf.WriteString("\n")
		kind := ".func"
		if f.Entry {
			kind = ".entry"
		}
		params := make([]string, len(f.Params))
		for i, p := range f.Params {
			params[i] = fmt.Sprintf(".%s %s", p.Type, p.Name)
		}
		ret := ""
		if f.Return != nil {
			ret = fmt.Sprintf("(.%s %s) ", f.Return.Type, f.Return.Name)
		}
		buf.WriteString(fmt.Sprintf("%s %s%s(%s)\n{\n", kind, ret, f.Name, strings.Join(params, ", ")))

		labels := make(map[int][]string)
		for _, s := range f.Symbols {
			if s.Kind == SymLabel {
				labels[s.PC] = append(labels[s.PC], s.Name)
			}
		}
		for pc := f.Start; pc < f.End; pc++ {
			for _, l := range labels[pc] {
				buf.WriteString(l + ":\n")
			}
			buf.WriteString(fmt.Sprintf("%04d: %s\n", pc, DisassembleInstruction(m.Code[pc])))
		}
		buf.WriteString("}\n")
	}

	return buf.String()
}

// DisassembleInstruction renders one instruction.
func DisassembleInstruction(i *Instruction) string {
	guard := ""
	if i.Guard != nil {
		if i.GuardNeg {
			guard = "@!" + i.Guard.Name + " "
		} else {
			guard = "@" + i.Guard.Name + " "
		}
	}
	ops := make([]string, len(i.Operands))
	for n, o := range i.Operands {
		ops[n] = o.String()
	}
	line := fmt.Sprintf("%s%-22s %s;", guard, i.Mnemonic(), strings.Join(ops, ", "))
	if i.SourceFile != "" {
		line += fmt.Sprintf(" // %s", i.Location())
	}
	return line
}
