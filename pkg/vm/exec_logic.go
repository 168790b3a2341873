package vm

import (
	"math/bits"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// Predicates hold 0 for true in bit 0, so the predicate forms of the
// boolean operators are the duals of the bitwise ones.
func predLogic(op isa.Opcode, a, b uint64) (uint64, bool) {
	var d uint64
	switch op {
	case isa.OpAnd:
		d = a | b
	case isa.OpOr:
		d = a & b
	case isa.OpXor:
		d = ^(^a ^ ^b)
	case isa.OpOrn:
		d = ^(^a | b)
	case isa.OpNandn:
		d = ^a & b
	case isa.OpNorn:
		d = ^(a & ^b)
	default:
		return 0, false
	}
	return d & 0xF, true
}

func (e *Engine) logic(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	a, b := s[0].U64(), s[1].U64()

	if typ == isa.Pred {
		d, ok := predLogic(inst.Op, a, b)
		if !ok {
			return unsupported(inst, typ)
		}
		return e.write(t, inst.Dst(), value.FromU64(d), typ)
	}
	if !isInteger(typ) {
		return unsupported(inst, typ)
	}

	var d uint64
	switch inst.Op {
	case isa.OpAnd:
		d = a & b
	case isa.OpOr:
		d = a | b
	case isa.OpXor:
		d = a ^ b
	case isa.OpAndn:
		d = a &^ b
	case isa.OpOrn:
		d = a | ^b
	case isa.OpNandn:
		d = ^(a &^ b)
	case isa.OpNorn:
		d = ^a & b
	}
	return e.write(t, inst.Dst(), value.FromU64(d&value.Mask(typ.Bits())), typ)
}

func (e *Engine) not(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	switch {
	case typ == isa.Pred:
		return e.write(t, inst.Dst(), value.FromU64(^s[0].U64()&0xF), typ)
	case isInteger(typ):
		return e.write(t, inst.Dst(), value.FromU64(^s[0].U64()&value.Mask(typ.Bits())), typ)
	}
	return unsupported(inst, typ)
}

// cnot writes 1 when the source is zero and 0 otherwise.
func (e *Engine) cnot(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	var zero bool
	switch {
	case typ == isa.Pred:
		zero = s[0].U64()&value.PredZero == 0
	case isInteger(typ):
		zero = s[0].Bits(typ.Bits()) == 0
	default:
		return unsupported(inst, typ)
	}
	var d uint64
	if zero {
		d = 1
	}
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

// shiftAmount reads the shift count, which is always u32.
func (e *Engine) shiftAmount(t *Thread, inst *isa.Instruction, n int) (uint64, error) {
	v, err := e.read(t, inst.Src(n), inst.Dst(), isa.U32, true)
	if err != nil {
		return 0, err
	}
	return v.Bits(32), nil
}

func (e *Engine) shl(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if !isInteger(typ) {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	n, err := e.shiftAmount(t, inst, 2)
	if err != nil {
		return err
	}
	w := typ.Bits()
	var d uint64
	if n < uint64(w) {
		d = s[0].U64() << n & value.Mask(w)
	}
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

// shr shifts right, filling with the sign bit for signed types. Counts at or
// beyond the width yield all sign bits.
func (e *Engine) shr(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if !isInteger(typ) {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	n, err := e.shiftAmount(t, inst, 2)
	if err != nil {
		return err
	}
	w := typ.Bits()
	var d uint64
	if typ.IsSigned() {
		d = uint64(s[0].Signed(w)>>min(n, 63)) & value.Mask(w)
	} else if n < uint64(w) {
		d = s[0].Bits(w) >> n
	}
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

// bfe extracts len bits starting at pos. Signed types replicate the last
// extracted bit into the upper bits.
func (e *Engine) bfe(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	switch typ {
	case isa.U32, isa.U64, isa.S32, isa.S64:
	default:
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	pos, err := e.shiftAmount(t, inst, 2)
	if err != nil {
		return err
	}
	length, err := e.shiftAmount(t, inst, 3)
	if err != nil {
		return err
	}
	return e.write(t, inst.Dst(), value.FromU64(bitExtract(s[0].U64(), pos&0xFF, length&0xFF, typ.Bits(), typ.IsSigned())), typ)
}

func bitExtract(a, pos, length uint64, w int, signed bool) uint64 {
	m := value.Mask(w)
	a &= m
	if length == 0 {
		return 0
	}
	var field uint64
	if pos < uint64(w) {
		field = a >> pos
	}
	if length < uint64(w) {
		field &= 1<<length - 1
	}
	if signed {
		msb := min(pos+length-1, uint64(w-1))
		if a>>msb&1 != 0 && length < uint64(w) {
			field |= ^uint64(0) << length
		}
	}
	return field & m
}

// bfi inserts the low len bits of a into b at pos.
func (e *Engine) bfi(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if typ != isa.B32 && typ != isa.B64 {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	pos, err := e.shiftAmount(t, inst, 3)
	if err != nil {
		return err
	}
	length, err := e.shiftAmount(t, inst, 4)
	if err != nil {
		return err
	}
	w := uint64(typ.Bits())
	pos, length = pos&0xFF, length&0xFF
	d := s[1].Bits(int(w))
	for i := uint64(0); i < length && pos+i < w; i++ {
		bit := uint64(1) << (pos + i)
		d = d&^bit | (s[0].U64()>>i&1)<<(pos+i)
	}
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

// bfind writes the bit position of the most significant non-sign bit, or
// 0xFFFFFFFF when there is none.
func (e *Engine) bfind(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	switch typ {
	case isa.U32, isa.U64, isa.S32, isa.S64:
	default:
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	w := typ.Bits()
	a := s[0].Bits(w)
	if typ.IsSigned() && a>>(w-1)&1 != 0 {
		a = ^a & value.Mask(w)
	}
	d := uint64(0xFFFFFFFF)
	if a != 0 {
		d = uint64(bits.Len64(a) - 1)
	}
	return e.write(t, inst.Dst(), value.FromU64(d), isa.U32)
}

func (e *Engine) brev(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	var d uint64
	switch typ {
	case isa.B32:
		d = uint64(bits.Reverse32(s[0].U32()))
	case isa.B64:
		d = bits.Reverse64(s[0].U64())
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), value.FromU64(d), typ)
}

func (e *Engine) clz(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	var d int
	switch typ {
	case isa.B32:
		d = bits.LeadingZeros32(s[0].U32())
	case isa.B64:
		d = bits.LeadingZeros64(s[0].U64())
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), value.FromU64(uint64(d)), isa.U32)
}

func (e *Engine) popc(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	s, err := e.srcs(t, inst, typ, 1)
	if err != nil {
		return err
	}
	var d int
	switch typ {
	case isa.B32:
		d = bits.OnesCount32(s[0].U32())
	case isa.B64:
		d = bits.OnesCount64(s[0].U64())
	default:
		return unsupported(inst, typ)
	}
	return e.write(t, inst.Dst(), value.FromU64(uint64(d)), isa.U32)
}

var prmtTables = map[isa.PrmtMode][4][4]uint8{
	isa.PrmtF4E:  {{0, 1, 2, 3}, {1, 2, 3, 4}, {2, 3, 4, 5}, {3, 4, 5, 6}},
	isa.PrmtB4E:  {{0, 7, 6, 5}, {1, 0, 7, 6}, {2, 1, 0, 7}, {3, 2, 1, 0}},
	isa.PrmtRC8:  {{0, 0, 0, 0}, {1, 1, 1, 1}, {2, 2, 2, 2}, {3, 3, 3, 3}},
	isa.PrmtECL:  {{0, 1, 2, 3}, {1, 1, 2, 3}, {2, 2, 2, 3}, {3, 3, 3, 3}},
	isa.PrmtECR:  {{0, 0, 0, 0}, {0, 1, 1, 1}, {0, 1, 2, 2}, {0, 1, 2, 3}},
	isa.PrmtRC16: {{0, 1, 0, 1}, {2, 3, 2, 3}, {0, 1, 0, 1}, {2, 3, 2, 3}},
}

// permute selects four bytes out of the eight bytes of {b, a}. In the
// default mode each nibble of c picks a byte, with bit 3 replicating the
// byte's sign. The named modes index a fixed table with the low two bits of
// c and write the table entry itself.
func permute(a, b, c uint32, mode isa.PrmtMode) uint32 {
	src := uint64(b)<<32 | uint64(a)
	var d uint32
	if table, ok := prmtTables[mode]; ok {
		ctl := c & 3
		for i := 0; i < 4; i++ {
			d |= uint32(table[ctl][i]) << (8 * i)
		}
		return d
	}
	for i := 0; i < 4; i++ {
		ctl := c >> (4 * i) & 0xF
		var byt uint32
		if ctl&8 != 0 {
			byt = 0xFF
		} else {
			byt = uint32(src >> (8 * ctl) & 0xFF)
		}
		d |= byt << (8 * i)
	}
	return d
}

func (e *Engine) prmt(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if typ != isa.B32 {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 3)
	if err != nil {
		return err
	}
	d := permute(s[0].U32(), s[1].U32(), s[2].U32(), inst.Prmt)
	return e.write(t, inst.Dst(), value.FromU64(uint64(d)), typ)
}

// shf is the funnel shift of the 64-bit value {b, a}.
func (e *Engine) shf(t *Thread, inst *isa.Instruction) error {
	typ := inst.Type
	if typ != isa.B32 {
		return unsupported(inst, typ)
	}
	s, err := e.srcs(t, inst, typ, 2)
	if err != nil {
		return err
	}
	n, err := e.shiftAmount(t, inst, 3)
	if err != nil {
		return err
	}
	if inst.ShfClamp {
		n = min(n, 32)
	} else {
		n &= 31
	}
	v := uint64(s[1].U32())<<32 | uint64(s[0].U32())
	var d uint32
	if inst.ShfLeft {
		d = uint32(v << n >> 32)
	} else {
		d = uint32(v >> n)
	}
	return e.write(t, inst.Dst(), value.FromU64(uint64(d)), typ)
}
