package isa

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	json "github.com/goccy/go-json"
)

// Bytecode file format:
// - Magic: "WSBC" (4 bytes)
// - Version: uint16
// - BodyLength: uint32
// - Body: gob-encoded module (same shape as the JSON program format)

const (
	BytecodeMagic   = "WSBC"
	BytecodeVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid bytecode magic")
	ErrInvalidVersion = errors.New("unsupported bytecode version")
	ErrInvalidProgram = errors.New("invalid program")
)

type symbolWire struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Type    string `json:"type,omitempty"`
	Address uint64 `json:"address,omitempty"`
	Size    int    `json:"size,omitempty"`
	PC      int    `json:"pc,omitempty"`
}

type operandWire struct {
	Kind    string   `json:"kind"`
	Sym     string   `json:"sym,omitempty"`
	Vec     []string `json:"vec,omitempty"`
	Builtin string   `json:"builtin,omitempty"`
	Dim     int      `json:"dim,omitempty"`
	Bits    uint64   `json:"bits,omitempty"`
	BitsHi  uint64   `json:"bits_hi,omitempty"`
	Offset  int64    `json:"offset,omitempty"`
	Space   string   `json:"space,omitempty"`
	Type    string   `json:"type,omitempty"`
	Neg     bool     `json:"neg,omitempty"`
	LoHi    int      `json:"lohi,omitempty"`
	Double  int      `json:"double,omitempty"`
	Func    string   `json:"func,omitempty"`
}

type instructionWire struct {
	Op        string        `json:"op"`
	Type      string        `json:"type,omitempty"`
	SrcType   string        `json:"src_type,omitempty"`
	Operands  []operandWire `json:"operands,omitempty"`
	Guard     string        `json:"guard,omitempty"`
	GuardNeg  bool          `json:"guard_neg,omitempty"`
	Space     string        `json:"space,omitempty"`
	ToSpace   bool          `json:"to,omitempty"`
	Rounding  string        `json:"rounding,omitempty"`
	Sat       bool          `json:"sat,omitempty"`
	FTZ       bool          `json:"ftz,omitempty"`
	Approx    bool          `json:"approx,omitempty"`
	Full      bool          `json:"full,omitempty"`
	Uni       bool          `json:"uni,omitempty"`
	Vector    int           `json:"vector,omitempty"`
	Cmp       string        `json:"cmp,omitempty"`
	BoolOp    string        `json:"bool,omitempty"`
	Atomic    string        `json:"atomic,omitempty"`
	Vote      string        `json:"vote,omitempty"`
	NegPred   bool          `json:"neg_pred,omitempty"`
	Shfl      string        `json:"shfl,omitempty"`
	Bar       string        `json:"bar,omitempty"`
	Red       string        `json:"red,omitempty"`
	Mul       string        `json:"mul,omitempty"`
	Prmt      string        `json:"prmt,omitempty"`
	ShfLeft   bool          `json:"shf_left,omitempty"`
	ShfClamp  bool          `json:"shf_clamp,omitempty"`
	Geometry  int           `json:"geometry,omitempty"`
	HasReturn bool          `json:"has_return,omitempty"`
	File      string        `json:"file,omitempty"`
	Line      int           `json:"line,omitempty"`
}

type functionWire struct {
	Name      string            `json:"name"`
	Entry     bool              `json:"entry,omitempty"`
	Params    []symbolWire      `json:"params,omitempty"`
	Return    *symbolWire       `json:"return,omitempty"`
	Symbols   []symbolWire      `json:"symbols,omitempty"`
	LocalSize uint64            `json:"local_size,omitempty"`
	Code      []instructionWire `json:"code"`
}

type moduleWire struct {
	Name      string         `json:"name"`
	Globals   []symbolWire   `json:"globals,omitempty"`
	Functions []functionWire `json:"functions"`
}

// EncodeJSON renders a module in the JSON program format.
func EncodeJSON(m *Module) ([]byte, error) {
	return json.MarshalIndent(toWire(m), "", "  ")
}

// DecodeJSON parses and links a module from the JSON program format.
func DecodeJSON(data []byte) (*Module, error) {
	var w moduleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	return fromWire(&w)
}

// Serialize encodes a module to bytecode.
func Serialize(m *Module) ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.WriteString(BytecodeMagic)

	if err := binary.Write(buf, binary.LittleEndian, uint16(BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}

	body := new(bytes.Buffer)
	if err := gob.NewEncoder(body).Encode(toWire(m)); err != nil {
		return nil, fmt.Errorf("encoding module: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(body.Len())); err != nil {
		return nil, fmt.Errorf("writing body length: %w", err)
	}
	buf.Write(body.Bytes())

	return buf.Bytes(), nil
}

// Deserialize decodes bytecode into a linked module.
func Deserialize(data []byte) (*Module, error) {
	buf := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(buf, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != BytecodeMagic {
		return nil, ErrInvalidMagic
	}

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != BytecodeVersion {
		return nil, ErrInvalidVersion
	}

	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading body length: %w", err)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(buf, body); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	var w moduleWire
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decoding module: %w", err)
	}
	return fromWire(&w)
}

// Load reads a module from a bytecode or JSON file.
func Load(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, []byte(BytecodeMagic)) {
		return Deserialize(data)
	}
	return DecodeJSON(data)
}

func toWire(m *Module) *moduleWire {
	w := &moduleWire{Name: m.Name}
	for _, s := range sortedSymbols(m.Globals) {
		w.Globals = append(w.Globals, symbolToWire(s, 0))
	}
	for _, f := range m.Functions {
		fw := functionWire{Name: f.Name, Entry: f.Entry, LocalSize: f.LocalSize}
		formal := make(map[*Symbol]bool)
		for _, p := range f.Params {
			fw.Params = append(fw.Params, symbolToWire(p, f.Start))
			formal[p] = true
		}
		if f.Return != nil {
			r := symbolToWire(f.Return, f.Start)
			fw.Return = &r
			formal[f.Return] = true
		}
		for _, s := range sortedSymbols(f.Symbols) {
			if !formal[s] {
				fw.Symbols = append(fw.Symbols, symbolToWire(s, f.Start))
			}
		}
		for pc := f.Start; pc < f.End; pc++ {
			fw.Code = append(fw.Code, instructionToWire(m.Code[pc]))
		}
		w.Functions = append(w.Functions, fw)
	}
	return w
}

func sortedSymbols(m map[string]*Symbol) []*Symbol {
	out := make([]*Symbol, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func symbolToWire(s *Symbol, base int) symbolWire {
	w := symbolWire{Name: s.Name, Kind: s.Kind.String(), Type: s.Type.String(),
		Address: s.Address, Size: s.Size}
	if s.Kind == SymLabel {
		w.PC = s.PC - base
	}
	return w
}

func instructionToWire(i *Instruction) instructionWire {
	w := instructionWire{
		Op: i.Op.String(), Type: i.Type.String(), SrcType: i.SrcType.String(),
		GuardNeg: i.GuardNeg, Space: i.Space.String(), ToSpace: i.ToSpace,
		Rounding: i.Rounding.String(), Sat: i.Sat, FTZ: i.FTZ, Approx: i.Approx,
		Full: i.Full, Uni: i.Uni, Vector: i.Vector, Cmp: i.Cmp.String(),
		BoolOp: i.BoolOp.String(), Atomic: i.Atomic.String(), Vote: i.Vote.String(),
		NegPred: i.NegPred, Shfl: i.Shfl.String(), Mul: i.Mul.String(),
		Prmt: i.Prmt.String(), ShfLeft: i.ShfLeft, ShfClamp: i.ShfClamp,
		Geometry: i.Geometry, HasReturn: i.HasReturn, File: i.SourceFile, Line: i.SourceLine,
	}
	if i.Op == OpBar {
		w.Bar = i.Bar.String()
		w.Red = i.Red.String()
	}
	if i.Guard != nil {
		w.Guard = i.Guard.Name
	}
	for _, o := range i.Operands {
		ow := operandWire{
			Kind: o.Kind.String(), Builtin: o.Builtin.String(), Dim: o.Dim,
			Bits: o.Bits, BitsHi: o.BitsHi, Offset: o.Offset, Space: o.Space.String(),
			Type: o.Type.String(), Neg: o.Neg, LoHi: o.LoHi, Double: o.Double,
		}
		if o.Sym != nil {
			ow.Sym = o.Sym.Name
		}
		for _, v := range o.Vec {
			ow.Vec = append(ow.Vec, v.Name)
		}
		if o.Func != nil {
			ow.Func = o.Func.Name
		}
		w.Operands = append(w.Operands, ow)
	}
	return w
}

func fromWire(w *moduleWire) (*Module, error) {
	m := NewModule(w.Name)
	for _, sw := range w.Globals {
		s, err := symbolFromWire(sw)
		if err != nil {
			return nil, err
		}
		m.Globals[s.Name] = s
	}

	// Functions are declared before any body is linked so calls may refer
	// forward.
	funcs := make(map[string]*Function, len(w.Functions))
	for _, fw := range w.Functions {
		if _, dup := funcs[fw.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate function %s", ErrInvalidProgram, fw.Name)
		}
		funcs[fw.Name] = &Function{Name: fw.Name, Entry: fw.Entry, LocalSize: fw.LocalSize,
			Symbols: make(map[string]*Symbol)}
	}

	for _, fw := range w.Functions {
		f := funcs[fw.Name]
		declare := func(sw symbolWire) (*Symbol, error) {
			s, err := symbolFromWire(sw)
			if err != nil {
				return nil, err
			}
			f.Symbols[s.Name] = s
			return s, nil
		}
		for _, pw := range fw.Params {
			p, err := declare(pw)
			if err != nil {
				return nil, err
			}
			f.Params = append(f.Params, p)
		}
		if fw.Return != nil {
			r, err := declare(*fw.Return)
			if err != nil {
				return nil, err
			}
			f.Return = r
		}
		for _, sw := range fw.Symbols {
			if _, err := declare(sw); err != nil {
				return nil, err
			}
		}

		resolve := func(name string) (*Symbol, error) {
			if name == "" {
				return nil, nil
			}
			if s, ok := f.Symbols[name]; ok {
				return s, nil
			}
			if s, ok := m.Globals[name]; ok {
				return s, nil
			}
			if name == DiscardName {
				s := &Symbol{Name: DiscardName, Kind: SymReg}
				f.Symbols[name] = s
				return s, nil
			}
			return nil, fmt.Errorf("%w: %s in %s", ErrUnknownSymbol, name, f.Name)
		}

		body := make([]*Instruction, 0, len(fw.Code))
		for n, iw := range fw.Code {
			inst, err := instructionFromWire(iw, resolve, funcs)
			if err != nil {
				return nil, fmt.Errorf("%s instruction %d: %w", f.Name, n, err)
			}
			body = append(body, inst)
		}
		m.Append(f, body)
	}
	return m, nil
}

func symbolFromWire(w symbolWire) (*Symbol, error) {
	kind, ok := lookup(symbolKindNames[:], w.Kind, SymReg)
	if !ok {
		return nil, fmt.Errorf("%w: symbol %s has kind %q", ErrInvalidProgram, w.Name, w.Kind)
	}
	typ := TypeNone
	if w.Type != "" {
		if typ, ok = TypeFromString(w.Type); !ok {
			return nil, fmt.Errorf("%w: symbol %s has type %q", ErrInvalidProgram, w.Name, w.Type)
		}
	}
	return &Symbol{Name: w.Name, Kind: kind, Type: typ, Address: w.Address, Size: w.Size, PC: w.PC}, nil
}

// wireParser accumulates the first parse failure so long modifier lists
// stay readable.
type wireParser struct {
	err error
}

func (p *wireParser) parse(field, value string, fn func(string) bool) {
	if p.err != nil || value == "" {
		return
	}
	if !fn(value) {
		p.err = fmt.Errorf("%w: bad %s %q", ErrInvalidProgram, field, value)
	}
}

func parseInto[T ~uint8](dst *T, names []string) func(string) bool {
	return func(s string) bool {
		v, ok := lookup(names, s, T(0))
		*dst = v
		return ok
	}
}

func instructionFromWire(w instructionWire, resolve func(string) (*Symbol, error), funcs map[string]*Function) (*Instruction, error) {
	op, ok := OpcodeFromString(w.Op)
	if !ok {
		return nil, fmt.Errorf("%w: unknown opcode %q", ErrInvalidProgram, w.Op)
	}
	inst := &Instruction{
		Op: op, GuardNeg: w.GuardNeg, ToSpace: w.ToSpace, Sat: w.Sat, FTZ: w.FTZ,
		Approx: w.Approx, Full: w.Full, Uni: w.Uni, Vector: w.Vector, NegPred: w.NegPred,
		ShfLeft: w.ShfLeft, ShfClamp: w.ShfClamp, Geometry: w.Geometry,
		HasReturn: w.HasReturn, SourceFile: w.File, SourceLine: w.Line, Size: 1,
	}

	var p wireParser
	p.parse("type", w.Type, parseInto(&inst.Type, typeNames[:]))
	p.parse("src_type", w.SrcType, parseInto(&inst.SrcType, typeNames[:]))
	p.parse("space", w.Space, parseInto(&inst.Space, spaceNames[:]))
	p.parse("rounding", w.Rounding, parseInto(&inst.Rounding, roundingNames[:]))
	p.parse("cmp", w.Cmp, parseInto(&inst.Cmp, cmpNames[:]))
	p.parse("bool", w.BoolOp, parseInto(&inst.BoolOp, boolNames[:]))
	p.parse("atomic", w.Atomic, parseInto(&inst.Atomic, atomNames[:]))
	p.parse("vote", w.Vote, parseInto(&inst.Vote, voteNames[:]))
	p.parse("shfl", w.Shfl, parseInto(&inst.Shfl, shflNames[:]))
	p.parse("bar", w.Bar, parseInto(&inst.Bar, barNames[:]))
	p.parse("red", w.Red, parseInto(&inst.Red, redNames[:]))
	p.parse("mul", w.Mul, parseInto(&inst.Mul, mulNames[:]))
	p.parse("prmt", w.Prmt, parseInto(&inst.Prmt, prmtNames[:]))
	if p.err != nil {
		return nil, p.err
	}

	if w.Guard != "" {
		g, err := resolve(w.Guard)
		if err != nil {
			return nil, err
		}
		inst.Guard = g
	}

	for _, ow := range w.Operands {
		o := Operand{Dim: ow.Dim, Bits: ow.Bits, BitsHi: ow.BitsHi, Offset: ow.Offset,
			Neg: ow.Neg, LoHi: ow.LoHi, Double: ow.Double}
		p.parse("operand kind", ow.Kind, parseInto(&o.Kind, operandKindNames[:]))
		p.parse("builtin", ow.Builtin, parseInto(&o.Builtin, builtinNames[:]))
		p.parse("operand space", ow.Space, parseInto(&o.Space, spaceNames[:]))
		p.parse("operand type", ow.Type, parseInto(&o.Type, typeNames[:]))
		if p.err != nil {
			return nil, p.err
		}
		if o.Kind == OperandFunction {
			f, ok := funcs[ow.Func]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, ow.Func)
			}
			o.Func = f
		} else {
			sym, err := resolve(ow.Sym)
			if err != nil {
				return nil, err
			}
			o.Sym = sym
		}
		for _, name := range ow.Vec {
			s, err := resolve(name)
			if err != nil {
				return nil, err
			}
			o.Vec = append(o.Vec, s)
		}
		inst.Operands = append(inst.Operands, o)
	}
	return inst, nil
}
